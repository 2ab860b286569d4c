package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mmx233/klf/outbound"
	"github.com/Mmx233/klf/protocol"
	"github.com/Mmx233/klf/screenshot"
	"github.com/Mmx233/klf/server/throttle"
)

// State is the lifecycle position of a client session.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingHandshake
	StateActive
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrIllegalTransition = errors.New("illegal session state transition")

// canTransition is the session state graph.
func canTransition(from, to State) bool {
	switch from {
	case StateConnecting:
		return to == StateAwaitingHandshake || to == StateEnding
	case StateAwaitingHandshake:
		return to == StateActive || to == StateEnding
	case StateActive:
		return to == StateEnding
	case StateEnding:
		return to == StateClosed
	default:
		return false
	}
}

// Activity is how involved a player currently is in the game.
type Activity int

const (
	ActivityInactive Activity = iota
	ActivityInGame
	ActivityInFlight
)

func (a Activity) String() string {
	switch a {
	case ActivityInactive:
		return "Inactive"
	case ActivityInGame:
		return "InGame"
	case ActivityInFlight:
		return "InFlight"
	default:
		return "unknown"
	}
}

// endFlushTimeout bounds the farewell write of an ending session.
const endFlushTimeout = time.Second

// deadlineWriter applies a fresh write deadline to every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout atomic.Int64
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(time.Duration(w.timeout.Load())))
	return w.conn.Write(p)
}

// Session is one accepted TCP connection and the player behind it.
//
// The relay loop owns the mutable player fields; mu only guards them against
// readers outside the loop such as the status page.
type Session struct {
	id     string
	index  atomic.Int32
	ip     string
	remote string
	conn   net.Conn

	writer   *deadlineWriter
	out      *outbound.Dispatcher
	throttle *throttle.Tracker
	shots    *screenshot.Ring

	state       atomic.Int32
	intentional atomic.Bool
	endReason   atomic.Pointer[string]

	connectedAt time.Time
	lastReceive atomic.Int64
	lastUDPAck  time.Time

	mu           sync.RWMutex
	username     string
	activity     Activity
	lastInGame   time.Time
	lastInFlight time.Time
	watchPlayer  string
	watchIndex   int32
	craft        *protocol.Craft

	flushReq chan struct{}
	ending   chan struct{}
	done     chan struct{}

	logger atomic.Pointer[zerolog.Logger]
}

func newSession(conn net.Conn, backlog int, writeTimeout time.Duration, now time.Time, logger zerolog.Logger) *Session {
	s := &Session{
		id:           uuid.NewString(),
		ip:           hostOf(conn.RemoteAddr()),
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		writer:       &deadlineWriter{conn: conn},
		shots:        screenshot.NewRing(backlog),
		connectedAt:  now,
		lastInGame:   now,
		lastInFlight: now,
		watchIndex:   protocol.LatestIndex,
		flushReq:     make(chan struct{}, 1),
		ending:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.index.Store(-1)
	s.writer.timeout.Store(int64(writeTimeout))
	s.out = outbound.New(s.writer)
	s.lastReceive.Store(now.UnixNano())
	logger = logger.With().
		Str("session_id", s.id).
		Str("remote", s.remote).
		Logger()
	s.logger.Store(&logger)
	return s
}

func hostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Session) log() *zerolog.Logger {
	return s.logger.Load()
}

// annotate adds fields to every later log line of the session.
func (s *Session) annotate(fields func(zerolog.Context) zerolog.Context) {
	logger := fields(s.log().With()).Logger()
	s.logger.Store(&logger)
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// Index returns the client slot, or -1 before one is assigned.
func (s *Session) Index() int { return int(s.index.Load()) }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// transition moves the session to another state along a legal edge.
func (s *Session) transition(to State) error {
	for {
		from := s.State()
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.log().Trace().Stringer("from", from).Stringer("to", to).Msg("session state changed")
			return nil
		}
	}
}

// Username returns the handshaken name, empty before the handshake.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Activity returns the current activity level.
func (s *Session) Activity() Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activity
}

// Intentional reports whether the session ended on purpose.
func (s *Session) Intentional() bool {
	return s.intentional.Load()
}

// EndReason returns the reason given to End.
func (s *Session) EndReason() string {
	if r := s.endReason.Load(); r != nil {
		return *r
	}
	return ""
}

// Done is closed once the connection is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch(now time.Time) {
	s.lastReceive.Store(now.UnixNano())
}

// LastReceive returns when the last TCP bytes arrived.
func (s *Session) LastReceive() time.Time {
	return time.Unix(0, s.lastReceive.Load())
}

// updateActivity records activity at now and reports whether the level rose.
func (s *Session) updateActivity(a Activity, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch a {
	case ActivityInGame:
		s.lastInGame = now
	case ActivityInFlight:
		s.lastInFlight = now
		s.lastInGame = now
	}
	if a > s.activity {
		s.activity = a
		return true
	}
	return false
}

// decayActivity lowers the activity level when no matching update arrived within delay.
func (s *Session) decayActivity(now time.Time, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if s.activity == ActivityInFlight && now.Sub(s.lastInFlight) > delay {
		s.activity = ActivityInGame
		changed = true
	}
	if s.activity == ActivityInGame && now.Sub(s.lastInGame) > delay {
		s.activity = ActivityInactive
		changed = true
	}
	return changed
}

// enqueue queues a pre-encoded message.
func (s *Session) enqueue(msg []byte) {
	s.out.Enqueue(msg)
}

func (s *Session) send(id protocol.ServerMessageID, payload []byte) {
	s.out.Enqueue(protocol.EncodeMessage(id, payload))
}

// requestFlush asks the send loop to write out the queue.
func (s *Session) requestFlush() {
	select {
	case s.flushReq <- struct{}{}:
	default:
	}
}

// End starts closing the session. farewell, if any, is the last message written.
// Only the first call has an effect; it reports whether this call ended the session.
func (s *Session) End(reason string, intentional bool, farewell []byte) bool {
	if err := s.transition(StateEnding); err != nil {
		return false
	}
	s.intentional.Store(intentional)
	s.endReason.Store(&reason)
	s.out.Enqueue(farewell)
	close(s.ending)

	s.log().Debug().
		Str("reason", reason).
		Bool("intentional", intentional).
		Msg("session ending")
	return true
}

// sessionHooks connects a session's goroutines to the relay loop.
type sessionHooks struct {
	deliver func(inbound) bool
	lost    func(*Session, string)
	flushed func(bytes uint64, took time.Duration)
	now     func() time.Time
}

// start launches the read and send loops.
func (s *Session) start(wg *sync.WaitGroup, hooks sessionHooks) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(hooks)
	}()
	go func() {
		defer wg.Done()
		s.sendLoop(hooks)
	}()
}

func (s *Session) readLoop(hooks sessionHooks) {
	bufPtr := protocol.GetReadBuffer()
	defer protocol.PutReadBuffer(bufPtr)
	buf := *bufPtr

	var reader protocol.FrameReader
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.touch(hooks.now())
			frames, ferr := reader.Feed(buf[:n])
			for _, f := range frames {
				m := inbound{session: s, id: protocol.ParseClientMessageID(f.ID), payload: f.Payload}
				if !hooks.deliver(m) {
					return
				}
			}
			if ferr != nil {
				s.log().Debug().Err(ferr).Msg("unrecoverable framing error")
				hooks.lost(s, "Invalid message")
				return
			}
		}
		if err != nil {
			if s.State() < StateEnding {
				s.log().Debug().Err(err).Bool("partial_frame", reader.Pending()).Msg("read failed")
				hooks.lost(s, "Connection lost")
			}
			return
		}
	}
}

func (s *Session) sendLoop(hooks sessionHooks) {
	defer s.finish()

	broken := false
	flush := func() {
		if broken {
			return
		}
		before := s.out.BytesWritten()
		start := time.Now()
		err := s.out.Flush()
		if written := s.out.BytesWritten() - before; written > 0 && hooks.flushed != nil {
			hooks.flushed(written, time.Since(start))
		}
		if err != nil {
			broken = true
			s.out.Discard()
			if s.State() < StateEnding {
				s.log().Debug().Err(err).Msg("write failed")
				hooks.lost(s, "Connection lost")
			}
		}
	}

	for {
		select {
		case <-s.flushReq:
			flush()
		case <-s.ending:
			s.writer.timeout.Store(int64(endFlushTimeout))
			flush()
			return
		}
	}
}

func (s *Session) finish() {
	_ = s.conn.Close()
	if err := s.transition(StateClosed); err != nil {
		s.log().Warn().Err(err).Msg("close session")
	}
	close(s.done)
}
