package config

import (
	"bytes"
	"testing"

	"github.com/Mmx233/klf/config"
	"github.com/Mmx233/klf/examples"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestServerConfigTemplateFields verifies that the embedded server.yaml template
// parses into config.Server without unknown fields, validates, and carries the
// defaults from config/defaults.go.
func TestServerConfigTemplateFields(t *testing.T) {
	content, err := examples.ServerConfig()
	require.NoError(t, err, "failed to load server config template")

	var cfg config.Server
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	require.NoError(t, decoder.Decode(&cfg), "server.yaml contains unknown fields or invalid YAML")

	assert.Equal(t, config.DefaultPort, cfg.Listen.Port)
	assert.Equal(t, config.DefaultMaxClients, cfg.MaxClients)
	assert.Equal(t, config.DefaultUpdatesPerSecond, cfg.UpdatesPerSecond)
	assert.Equal(t, config.DefaultTotalInactiveShips, cfg.TotalInactiveShips)
	assert.Equal(t, config.DefaultScreenshotInterval, cfg.Screenshot.Interval)
	assert.Equal(t, config.DefaultScreenshotHeight, cfg.Screenshot.MaxHeight)
	assert.Equal(t, config.DefaultMessageFloodThrottleTime, cfg.MessageFlood.Throttle)
	assert.Equal(t, config.DefaultScreenshotFloodThrottleTime, cfg.ScreenshotFlood.Throttle)
	assert.Equal(t, config.DefaultClientTimeout, cfg.ClientTimeout)
	assert.Equal(t, config.DefaultHandshakeTimeout, cfg.HandshakeTimeout)

	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
}

// TestClientConfigTemplateFields verifies that the embedded client.yaml template
// parses into config.Client without unknown fields and validates.
func TestClientConfigTemplateFields(t *testing.T) {
	content, err := examples.ClientConfig()
	require.NoError(t, err, "failed to load client config template")

	var cfg config.Client
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	require.NoError(t, decoder.Decode(&cfg), "client.yaml contains unknown fields or invalid YAML")

	assert.NotEmpty(t, cfg.Username)
	assert.NotEmpty(t, cfg.Server)
	assert.Equal(t, config.DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	assert.Equal(t, config.DefaultReconnectDelay, cfg.ReconnectDelay)
	assert.Equal(t, config.DefaultCraftDir, cfg.CraftDir)
	assert.Equal(t, config.DefaultInteropDir, cfg.InteropDir)

	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
}
