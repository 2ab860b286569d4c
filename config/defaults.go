package config

import "time"

// Network defaults
const (
	// DefaultPort is the relay port for both TCP and UDP.
	DefaultPort = 2075

	// DefaultHTTPPort serves the status page. 0 disables it.
	DefaultHTTPPort = 80

	// DefaultMaxClients is the number of client slots.
	DefaultMaxClients = 32
)

// Session timing
const (
	// DefaultTickInterval drives housekeeping and outbound flushes.
	DefaultTickInterval = 15 * time.Millisecond

	// DefaultClientTimeout ends a session that has sent nothing for this long.
	DefaultClientTimeout = 8 * time.Second

	// DefaultHandshakeTimeout ends a session that has not completed the handshake.
	DefaultHandshakeTimeout = 6 * time.Second

	// DefaultKeepAliveInterval is the longest a client stays silent on TCP.
	DefaultKeepAliveInterval = time.Second

	// DefaultUDPProbeInterval is the longest a client stays silent on UDP.
	DefaultUDPProbeInterval = time.Second

	// DefaultUDPTimeout marks UDP lost when no acknowledgement arrives for this long.
	DefaultUDPTimeout = 20 * time.Second

	// DefaultUDPAckThrottle limits UdpAcknowledge replies per client.
	DefaultUDPAckThrottle = time.Second

	// DefaultActivityResetDelay decays a client's activity level.
	DefaultActivityResetDelay = 10 * time.Second

	// DefaultWriteTimeout bounds a single transport write.
	DefaultWriteTimeout = 10 * time.Second
)

// Relay tuning
const (
	DefaultUpdatesPerSecond   = 10.0
	MinUpdatesPerSecond       = 0.5
	MaxUpdatesPerSecond       = 1000.0
	MinUpdateInterval         = 200 * time.Millisecond
	MaxUpdateInterval         = 5000 * time.Millisecond
	NotInFlightUpdateWeight   = 0.25
	DefaultTotalInactiveShips = 20

	DefaultScreenshotBacklog  = 4
	DefaultScreenshotInterval = 3 * time.Second
	DefaultScreenshotHeight   = 270
	MinScreenshotHeight       = 135
	MaxScreenshotHeight       = 600

	DefaultMessageFloodLimit           = 15
	DefaultMessageFloodThrottleTime    = 120 * time.Second
	DefaultScreenshotFloodLimit        = 10
	DefaultScreenshotFloodThrottleTime = 300 * time.Second

	DefaultScreenshotDir = "klfScreenshots"
	DefaultBanDatabase   = "bans.db"
)

// Client defaults
const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultPingTimeout          = 10 * time.Second
	DefaultInteropInterval      = 100 * time.Millisecond
	DefaultClientDataInterval   = 10 * time.Second
	DefaultCraftDir             = "crafts"
	DefaultInteropDir           = "PluginData/KerbalLiveFeed"
)
