package config

import (
	"fmt"
	"math"
	"time"
)

type Server struct {
	Listen     Listen `yaml:"listen"`
	HTTPPort   int    `yaml:"http_port"`
	MaxClients int    `yaml:"max_clients"`

	// ProtocolVersion overrides the wire protocol version. Zero means the built-in version.
	ProtocolVersion int32 `yaml:"protocol_version"`

	UpdatesPerSecond   float64 `yaml:"updates_per_second"`
	TotalInactiveShips int     `yaml:"total_inactive_ships"`

	Screenshot      ServerScreenshot `yaml:"screenshot"`
	MessageFlood    Flood            `yaml:"message_flood"`
	ScreenshotFlood Flood            `yaml:"screenshot_flood"`

	JoinMessage string `yaml:"join_message"`
	ServerInfo  string `yaml:"server_info"`

	BanDatabase string `yaml:"ban_database"`

	ClientTimeout    time.Duration `yaml:"client_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	Telemetry Telemetry `yaml:"telemetry"`
}

type ServerScreenshot struct {
	Backlog   int           `yaml:"backlog"`
	Interval  time.Duration `yaml:"interval"`
	MaxHeight int           `yaml:"max_height"`
	Save      bool          `yaml:"save"`
	Directory string        `yaml:"directory"`
}

// Flood configures a flood counter: Limit actions per minute, then a Throttle cool-down.
type Flood struct {
	Limit    int           `yaml:"limit"`
	Throttle time.Duration `yaml:"throttle"`
}

// Telemetry publishes session events to an MQTT broker when Broker is set.
type Telemetry struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// ApplyDefaults fills zero values with their defaults.
func (s *Server) ApplyDefaults() {
	if s.Listen.IP == "" {
		s.Listen.IP = "0.0.0.0"
	}
	if s.Listen.Port == 0 {
		s.Listen.Port = DefaultPort
	}
	if s.MaxClients == 0 {
		s.MaxClients = DefaultMaxClients
	}
	if s.UpdatesPerSecond == 0 {
		s.UpdatesPerSecond = DefaultUpdatesPerSecond
	}
	if s.TotalInactiveShips == 0 {
		s.TotalInactiveShips = DefaultTotalInactiveShips
	}
	if s.Screenshot.Backlog == 0 {
		s.Screenshot.Backlog = DefaultScreenshotBacklog
	}
	if s.Screenshot.Interval == 0 {
		s.Screenshot.Interval = DefaultScreenshotInterval
	}
	if s.Screenshot.MaxHeight == 0 {
		s.Screenshot.MaxHeight = DefaultScreenshotHeight
	}
	if s.Screenshot.Directory == "" {
		s.Screenshot.Directory = DefaultScreenshotDir
	}
	if s.MessageFlood.Limit == 0 {
		s.MessageFlood.Limit = DefaultMessageFloodLimit
	}
	if s.MessageFlood.Throttle == 0 {
		s.MessageFlood.Throttle = DefaultMessageFloodThrottleTime
	}
	if s.ScreenshotFlood.Limit == 0 {
		s.ScreenshotFlood.Limit = DefaultScreenshotFloodLimit
	}
	if s.ScreenshotFlood.Throttle == 0 {
		s.ScreenshotFlood.Throttle = DefaultScreenshotFloodThrottleTime
	}
	if s.BanDatabase == "" {
		s.BanDatabase = DefaultBanDatabase
	}
	if s.ClientTimeout == 0 {
		s.ClientTimeout = DefaultClientTimeout
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.Telemetry.Topic == "" {
		s.Telemetry.Topic = "klf/events"
	}
}

// Validate checks ranges after defaults are applied.
func (s *Server) Validate() error {
	if _, err := s.Listen.GetIP(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := ValidatePort(s.Listen.Port); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.HTTPPort != 0 {
		if err := ValidatePort(s.HTTPPort); err != nil {
			return fmt.Errorf("http_port: %w", err)
		}
	}
	if s.MaxClients < 1 {
		return fmt.Errorf("max_clients must be positive, got %d", s.MaxClients)
	}
	if s.UpdatesPerSecond < MinUpdatesPerSecond || s.UpdatesPerSecond > MaxUpdatesPerSecond {
		return fmt.Errorf("updates_per_second must be between %.1f and %.0f, got %v",
			MinUpdatesPerSecond, MaxUpdatesPerSecond, s.UpdatesPerSecond)
	}
	if s.TotalInactiveShips < 0 || s.TotalInactiveShips > math.MaxUint8 {
		return fmt.Errorf("total_inactive_ships must be between 0 and %d, got %d", math.MaxUint8, s.TotalInactiveShips)
	}
	if s.Screenshot.Backlog < 1 {
		return fmt.Errorf("screenshot.backlog must be positive, got %d", s.Screenshot.Backlog)
	}
	if s.MessageFlood.Limit < 1 || s.ScreenshotFlood.Limit < 1 {
		return fmt.Errorf("flood limits must be positive")
	}
	return nil
}

// Screenshots returns the screenshot bounds derived from the configured height.
func (s *Server) Screenshots() ScreenshotSettings {
	return NewScreenshotSettings(s.Screenshot.MaxHeight)
}

// UpdateInterval returns the plugin update interval in milliseconds for the
// current player counts. Players in game but not in flight weigh a quarter.
func (s *Server) UpdateInterval(inGame, inFlight int) int32 {
	relevant := float64(inFlight) + float64(inGame-inFlight)*NotInFlightUpdateWeight
	if relevant <= 0 {
		return int32(MinUpdateInterval.Milliseconds())
	}
	interval := math.Round(1000.0 / (s.UpdatesPerSecond / relevant))
	interval = math.Max(interval, float64(MinUpdateInterval.Milliseconds()))
	interval = math.Min(interval, float64(MaxUpdateInterval.Milliseconds()))
	return int32(interval)
}

// InactiveShipsPerClient divides the inactive ship budget among players in flight.
func (s *Server) InactiveShipsPerClient(inFlight int) byte {
	total := s.TotalInactiveShips
	switch {
	case inFlight <= 0:
		return byte(total)
	case inFlight > total:
		return 0
	default:
		return byte(total / inFlight)
	}
}

// ScreenshotSettings bounds a screenshot's dimensions and encoded size.
type ScreenshotSettings struct {
	MaxHeight int
}

// NewScreenshotSettings clamps height to the supported range.
func NewScreenshotSettings(height int) ScreenshotSettings {
	height = max(MinScreenshotHeight, min(height, MaxScreenshotHeight))
	return ScreenshotSettings{MaxHeight: height}
}

// MaxWidth keeps a 16:9 aspect.
func (s ScreenshotSettings) MaxWidth() int {
	return s.MaxHeight * 16 / 9
}

// MaxNumBytes is the largest accepted screenshot payload.
func (s ScreenshotSettings) MaxNumBytes() int {
	return s.MaxWidth() * s.MaxHeight * 3
}
