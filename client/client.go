package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Mmx233/klf/config"
	"github.com/Mmx233/klf/interop"
	"github.com/Mmx233/klf/outbound"
	"github.com/Mmx233/klf/protocol"
	"github.com/Mmx233/klf/screenshot"
)

const (
	keepAliveInterval  = config.DefaultKeepAliveInterval
	udpProbeInterval   = config.DefaultUDPProbeInterval
	udpTimeout         = config.DefaultUDPTimeout
	tickInterval       = config.DefaultTickInterval
	interopInterval    = config.DefaultInteropInterval
	clientDataInterval = config.DefaultClientDataInterval
	handshakeTimeout   = config.DefaultHandshakeTimeout
	pingTimeout        = config.DefaultPingTimeout
	writeTimeout       = config.DefaultWriteTimeout
	dialTimeout        = 10 * time.Second
	endFlushTimeout    = time.Second
)

const (
	ReasonIncompatibleVersion = "incompatible version"
	ReasonQuit                = "Quit"
	ReasonHandshakeTimeout    = "handshake timeout"
	ReasonTimeout             = "timeout"
)

var (
	ErrConnectionLost     = errors.New("connection to server lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrLoopPanic          = errors.New("client loop panicked")
)

// Client relays between one KLF server and the local game plugin.
type Client struct {
	config          *config.Client
	protocolVersion int32
	logger          zerolog.Logger
	now             func() time.Time

	outMu sync.Mutex
	out   io.Writer

	input chan string
	state atomic.Int32
	index atomic.Int32

	peers       *screenshot.PeerCache
	pluginQueue *outbound.BoundedQueue[interop.Message]
	pluginOut   *interop.Writer
	pluginIn    *interop.Reader

	// Owned by the run loop.
	settings        protocol.Settings
	clientDataDirty bool
	lastClientData  time.Time
	watch           protocol.WatchUpdate
	pendingShot     []byte
	lastShotShare   time.Time
	pingStart       time.Time
}

// New creates a client. Chat and status lines are written to out.
func New(conf *config.Client, out io.Writer) (*Client, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if out == nil {
		out = io.Discard
	}

	version := protocol.Version
	if conf.ProtocolVersion != 0 {
		version = conf.ProtocolVersion
	}

	c := &Client{
		config:          conf,
		protocolVersion: version,
		logger: log.With().
			Str("com", "client").
			Str("username", conf.Username).
			Logger(),
		now:         time.Now,
		out:         out,
		input:       make(chan string, 16),
		peers:       screenshot.NewPeerCache(screenshot.DefaultPeerCacheSize),
		pluginQueue: outbound.NewBoundedQueue[interop.Message](outbound.InteropQueueSize),
		pluginOut:   interop.NewWriter(filepath.Join(conf.InteropDir, interop.ClientFile)),
		pluginIn:    interop.NewReader(filepath.Join(conf.InteropDir, interop.PluginFile)),
		watch:       protocol.WatchUpdate{Index: protocol.LatestIndex, Current: protocol.LatestIndex},
	}
	c.state.Store(int32(StateClosed))
	c.index.Store(-1)
	return c, nil
}

// State returns the state of the current connection, StateClosed between connections.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Index returns the client index assigned by the server, or -1.
func (c *Client) Index() int32 {
	return c.index.Load()
}

// Input queues a chat line or command as if typed on the console.
func (c *Client) Input(ctx context.Context, line string) error {
	select {
	case c.input <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outcome is how a single connection ended.
type outcome struct {
	reason      string
	intentional bool
	handshaken  bool
}

// Run connects to the server and keeps the connection going until it ends on
// purpose, ctx is cancelled or reconnecting gives up.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info().Str("server", c.config.Server).Msg("starting client")

	failures := 0
	for {
		res, err := c.connect(ctx)
		c.writeInterop()
		if errors.Is(err, ErrLoopPanic) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil && res.intentional {
			c.printf("Disconnected: %s", res.reason)
			return nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("connect failed")
			res.reason = err.Error()
		} else {
			c.printf("Lost connection with server: %s", res.reason)
		}
		if res.handshaken {
			failures = 0
		}
		if !c.config.Reconnect {
			return fmt.Errorf("%w: %s", ErrConnectionLost, res.reason)
		}

		failures++
		if failures > c.config.MaxReconnectAttempts {
			return fmt.Errorf("%w after %d attempts: %s", ErrReconnectExhausted, c.config.MaxReconnectAttempts, res.reason)
		}
		c.printf("Attempting to reconnect... (%d/%d)", failures, c.config.MaxReconnectAttempts)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

// connect runs one connection from dial to close.
func (c *Client) connect(ctx context.Context) (res outcome, err error) {
	c.state.Store(int32(StateConnecting))
	defer c.state.Store(int32(StateClosed))
	c.logger.Info().Str("server", c.config.Server).Msg("connecting to server")

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Server)
	if err != nil {
		return outcome{}, fmt.Errorf("dial server %s: %w", c.config.Server, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	var udp net.Conn
	if c.config.UDP {
		udp, err = dialer.DialContext(ctx, "udp", conn.RemoteAddr().String())
		if err != nil {
			c.logger.Warn().Err(err).Msg("open UDP socket failed, relaying over TCP only")
			udp = nil
		}
	}

	sess := newSession(conn, udp, c.now(), c.logger)
	c.state.Store(int32(StateAwaitingHandshake))
	c.printf("Connected to server! Handshaking...")
	go sess.readLoop()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("client loop panicked")
			sess.end("Client error", false)
			err = fmt.Errorf("%w: %v", ErrLoopPanic, r)
		}
		sess.close()
		c.index.Store(-1)
		res = outcome{reason: sess.endReason, intentional: sess.intentional, handshaken: res.handshaken}
	}()

	res.handshaken = c.loop(ctx, sess)
	if err := sess.flush(endFlushTimeout); err != nil {
		sess.log().Debug().Err(err).Msg("flush on close failed")
	}
	return res, nil
}

// loop drives a session until it ends. It reports whether the handshake completed.
func (c *Client) loop(ctx context.Context, sess *session) bool {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	interopTicker := time.NewTicker(interopInterval)
	defer interopTicker.Stop()

	connectedAt := c.now()
	handshaken := false
	for sess.State() < StateEnding {
		select {
		case <-ctx.Done():
			c.quit(sess)
		case f := <-sess.frames:
			c.handleMessage(sess, f)
		case reason := <-sess.lost:
			c.drainFrames(sess)
			sess.end(reason, false)
		case line := <-c.input:
			c.handleChatInput(sess, line)
		case <-ticker.C:
			now := c.now()
			if sess.State() == StateAwaitingHandshake && now.Sub(connectedAt) > handshakeTimeout {
				sess.end(ReasonHandshakeTimeout, false)
				break
			}
			c.tick(sess, now)
		case <-interopTicker.C:
			c.syncInterop(sess)
		}
		if sess.State() == StateActive {
			handshaken = true
		}
	}
	c.state.Store(int32(StateEnding))
	return handshaken
}

// drainFrames handles the frames the read loop queued before reporting the loss.
func (c *Client) drainFrames(sess *session) {
	for sess.State() < StateEnding {
		select {
		case f := <-sess.frames:
			c.handleMessage(sess, f)
		default:
			return
		}
	}
}

// quit tells the server the client is leaving.
func (c *Client) quit(sess *session) {
	sess.send(protocol.ClientConnectionEnd, protocol.EncodeString(ReasonQuit), c.now())
	sess.end(ReasonQuit, true)
}

// tick sends keepalives and UDP probes, hands out a queued screenshot and
// flushes the outbound queue.
func (c *Client) tick(sess *session, now time.Time) {
	if sess.State() == StateActive {
		if now.Sub(sess.lastTCPSend) >= keepAliveInterval {
			sess.send(protocol.ClientKeepAlive, nil, now)
		}
		if sess.udp != nil {
			if sess.link.probeDue(now) {
				sess.sendUDP(protocol.ClientUdpProbe, nil, now)
			}
			if sess.link.update(now) {
				if sess.link.established() {
					c.chat("Udp connection established.")
				} else {
					c.chat("Udp connection lost.")
				}
			}
		}
		c.shareScreenshot(sess, now)
	}
	if !c.pingStart.IsZero() && now.Sub(c.pingStart) > pingTimeout {
		c.printf("Ping timed out.")
		c.pingStart = time.Time{}
	}

	if err := sess.flush(writeTimeout); err != nil {
		sess.log().Debug().Err(err).Msg("write failed")
		sess.end("Connection lost", false)
	}
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// chat prints a line and hands it to the plugin.
func (c *Client) chat(text string) {
	c.printf("%s", text)
	c.enqueuePlugin(protocol.ClientInteropChatReceive, protocol.EncodeString(text))
}
