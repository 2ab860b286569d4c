// Package status serves the relay's public status page, a JSON view of the
// same data and the Prometheus metrics endpoint.
package status

import (
	"strconv"
	"strings"
)

// Player is one handshaken client.
type Player struct {
	Index       int    `json:"index"`
	Username    string `json:"username"`
	Activity    string `json:"activity"`
	Screenshots int    `json:"screenshots"`
	// LatestScreenshot is -1 until the player shares one.
	LatestScreenshot int32 `json:"latest_screenshot"`
}

// Snapshot is a point-in-time view of the relay.
type Snapshot struct {
	Version           string     `json:"version"`
	ProtocolVersion   int32      `json:"protocol_version"`
	Port              int        `json:"port"`
	NumPlayers        int        `json:"num_players"`
	MaxPlayers        int        `json:"max_players"`
	Players           []Player   `json:"players"`
	Information       string     `json:"information"`
	UpdatesPerSecond  float64    `json:"updates_per_second"`
	InactiveShipLimit int        `json:"inactive_ship_limit"`
	ScreenshotHeight  int        `json:"screenshot_height"`
	ScreenshotSave    bool       `json:"screenshot_save"`
	ScreenshotBacklog int        `json:"screenshot_backlog"`
	Host              *HostStats `json:"host,omitempty"`
}

// Source produces snapshots. Implementations must be safe for concurrent use.
type Source interface {
	StatusSnapshot() Snapshot
}

// Text renders the plain-text status page, one "Key: value" per line.
func (s Snapshot) Text() string {
	names := make([]string, len(s.Players))
	for i, p := range s.Players {
		names[i] = p.Username
	}

	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}
	line("Version", s.Version)
	line("Port", strconv.Itoa(s.Port))
	line("Num Players", strconv.Itoa(s.NumPlayers)+"/"+strconv.Itoa(s.MaxPlayers))
	line("Players", strings.Join(names, ", "))
	line("Information", s.Information)
	line("Updates per Second", strconv.FormatFloat(s.UpdatesPerSecond, 'f', -1, 64))
	line("Inactive Ship Limit", strconv.Itoa(s.InactiveShipLimit))
	line("Screenshot Height", strconv.Itoa(s.ScreenshotHeight))
	line("Screenshot Save", strconv.FormatBool(s.ScreenshotSave))
	line("Screenshot Backlog", strconv.Itoa(s.ScreenshotBacklog))
	return b.String()
}
