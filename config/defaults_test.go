package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestServerApplyDefaults(t *testing.T) {
	s := &Server{}
	s.ApplyDefaults()
	require.NoError(t, s.Validate())

	assert.Equal(t, DefaultPort, s.Listen.Port)
	assert.Equal(t, DefaultMaxClients, s.MaxClients)
	assert.Equal(t, DefaultUpdatesPerSecond, s.UpdatesPerSecond)
	assert.Equal(t, DefaultScreenshotBacklog, s.Screenshot.Backlog)
	assert.Equal(t, DefaultScreenshotInterval, s.Screenshot.Interval)
	assert.Equal(t, DefaultMessageFloodLimit, s.MessageFlood.Limit)
	assert.Equal(t, DefaultScreenshotFloodThrottleTime, s.ScreenshotFlood.Throttle)
	assert.Equal(t, DefaultClientTimeout, s.ClientTimeout)
	assert.Equal(t, 0, s.HTTPPort, "status page stays off unless configured")
}

func TestServerApplyDefaults_KeepsExplicitValues(t *testing.T) {
	s := &Server{MaxClients: 4, UpdatesPerSecond: 2}
	s.ApplyDefaults()
	assert.Equal(t, 4, s.MaxClients)
	assert.Equal(t, 2.0, s.UpdatesPerSecond)
}

func TestUpdateInterval(t *testing.T) {
	s := &Server{UpdatesPerSecond: 10}

	assert.Equal(t, int32(200), s.UpdateInterval(0, 0))
	// 4 in flight: round(1000 / (10/4)) = 400
	assert.Equal(t, int32(400), s.UpdateInterval(4, 4))
	// 2 in flight + 4 in game only: relevant 3
	assert.Equal(t, int32(300), s.UpdateInterval(6, 2))
	// clamped at the top
	assert.Equal(t, int32(5000), s.UpdateInterval(100, 100))
	// a single player in game but not flying is below the minimum
	assert.Equal(t, int32(200), s.UpdateInterval(1, 0))
}

// Property: UpdateInterval stays within bounds and never decreases as players join
func TestUpdateIntervalBounds_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ups := rapid.Float64Range(MinUpdatesPerSecond, MaxUpdatesPerSecond).Draw(t, "ups")
		inFlight := rapid.IntRange(0, 64).Draw(t, "inFlight")
		inGame := rapid.IntRange(inFlight, 128).Draw(t, "inGame")
		s := &Server{UpdatesPerSecond: ups}

		got := s.UpdateInterval(inGame, inFlight)
		if got < int32(MinUpdateInterval.Milliseconds()) || got > int32(MaxUpdateInterval.Milliseconds()) {
			t.Fatalf("interval %d out of bounds", got)
		}
		if more := s.UpdateInterval(inGame+1, inFlight+1); more < got {
			t.Fatalf("interval decreased from %d to %d when a player joined", got, more)
		}
	})
}

func TestInactiveShipsPerClient(t *testing.T) {
	s := &Server{TotalInactiveShips: 20}
	assert.Equal(t, byte(20), s.InactiveShipsPerClient(0))
	assert.Equal(t, byte(5), s.InactiveShipsPerClient(4))
	assert.Equal(t, byte(6), s.InactiveShipsPerClient(3))
	assert.Equal(t, byte(0), s.InactiveShipsPerClient(21))
}

func TestScreenshotSettings(t *testing.T) {
	def := NewScreenshotSettings(DefaultScreenshotHeight)
	assert.Equal(t, 480, def.MaxWidth())
	assert.Equal(t, 480*270*3, def.MaxNumBytes())

	assert.Equal(t, MinScreenshotHeight, NewScreenshotSettings(10).MaxHeight)
	assert.Equal(t, MaxScreenshotHeight, NewScreenshotSettings(10000).MaxHeight)
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "example.com:2075", WithDefaultPort("example.com"))
	assert.Equal(t, "example.com:9000", WithDefaultPort("example.com:9000"))
	assert.Equal(t, "[::1]:2075", WithDefaultPort("::1"))
}

func TestClientValidate(t *testing.T) {
	c := &Client{Username: "Jeb", Server: "127.0.0.1"}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	c.Server = ":2075"
	assert.Error(t, c.Validate())
}
