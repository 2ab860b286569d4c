package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	Username string `yaml:"username"`
	Server   string `yaml:"server"` // host[:port]

	// ProtocolVersion overrides the wire protocol version. Zero means the built-in version.
	ProtocolVersion int32 `yaml:"protocol_version"`

	Reconnect            bool          `yaml:"reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`

	UDP bool `yaml:"udp"`

	CraftDir   string `yaml:"craft_dir"`
	InteropDir string `yaml:"interop_dir"`
}

func (c *Client) ApplyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.CraftDir == "" {
		c.CraftDir = DefaultCraftDir
	}
	if c.InteropDir == "" {
		c.InteropDir = DefaultInteropDir
	}
	if c.Server != "" {
		c.Server = WithDefaultPort(c.Server)
	}
}

func (c *Client) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if err := ValidateAddress(c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative")
	}
	return nil
}

// WithDefaultPort appends DefaultPort to addr when it carries no port.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(DefaultPort))
}
