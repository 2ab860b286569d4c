package client

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mmx233/klf/outbound"
	"github.com/Mmx233/klf/protocol"
)

// ConnectionState represents the state of the connection to the relay server.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateAwaitingHandshake
	StateActive
	StateEnding
	StateClosed
)

// String returns a string representation of the connection state
func (s ConnectionState) String() string {
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

var ErrIllegalTransition = errors.New("illegal connection state transition")

func canTransition(from, to ConnectionState) bool {
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

// UDPState is the client's view of the UDP side channel.
type UDPState int32

const (
	UDPUnknown UDPState = iota
	UDPProbing
	UDPEstablished
)

func (s UDPState) String() string {
	switch s {
	case UDPUnknown:
		return "unknown"
	case UDPProbing:
		return "probing"
	case UDPEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// udpLink judges UDP liveness from the acknowledgements the server sends over TCP.
// All times are supplied by the caller.
type udpLink struct {
	state    UDPState
	acked    bool
	lastAck  time.Time
	lastSend time.Time

	timeout       time.Duration
	probeInterval time.Duration
}

func newUDPLink(timeout, probeInterval time.Duration) *udpLink {
	return &udpLink{timeout: timeout, probeInterval: probeInterval}
}

func (u *udpLink) ack(now time.Time) {
	u.acked = true
	u.lastAck = now
}

func (u *udpLink) sent(now time.Time) {
	u.lastSend = now
}

// probeDue reports whether the channel has been silent for a probe interval.
func (u *udpLink) probeDue(now time.Time) bool {
	return now.Sub(u.lastSend) >= u.probeInterval
}

// update re-evaluates the state at now. It reports true exactly when the
// channel became established or stopped being established.
func (u *udpLink) update(now time.Time) bool {
	prev := u.state
	switch {
	case u.acked && now.Sub(u.lastAck) < u.timeout:
		u.state = UDPEstablished
	case !u.lastSend.IsZero():
		u.state = UDPProbing
	default:
		u.state = UDPUnknown
	}
	return (prev == UDPEstablished) != (u.state == UDPEstablished)
}

func (u *udpLink) established() bool {
	return u.state == UDPEstablished
}

// session is one TCP connection to the server and its optional UDP socket.
// Apart from the read loop every field is owned by the client's run loop.
type session struct {
	conn  net.Conn
	udp   net.Conn
	out   *outbound.Dispatcher
	state atomic.Int32
	index int32

	link        *udpLink
	lastTCPSend time.Time

	intentional bool
	endReason   string

	frames chan protocol.Frame
	lost   chan string
	done   chan struct{}

	logger atomic.Pointer[zerolog.Logger]
}

func newSession(conn, udp net.Conn, now time.Time, logger zerolog.Logger) *session {
	s := &session{
		conn:        conn,
		udp:         udp,
		out:         outbound.New(conn),
		index:       -1,
		link:        newUDPLink(udpTimeout, udpProbeInterval),
		lastTCPSend: now,
		frames:      make(chan protocol.Frame, 64),
		lost:        make(chan string, 1),
		done:        make(chan struct{}),
	}
	logger = logger.With().Str("server_addr", conn.RemoteAddr().String()).Logger()
	s.logger.Store(&logger)
	s.state.Store(int32(StateAwaitingHandshake))
	return s
}

func (s *session) log() *zerolog.Logger {
	return s.logger.Load()
}

func (s *session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

func (s *session) transition(to ConnectionState) error {
	for {
		from := s.State()
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.log().Trace().Stringer("from", from).Stringer("to", to).Msg("connection state changed")
			return nil
		}
	}
}

// end records why the session is closing. Only the first call counts.
func (s *session) end(reason string, intentional bool) bool {
	if err := s.transition(StateEnding); err != nil {
		return false
	}
	s.endReason = reason
	s.intentional = intentional
	s.log().Debug().Str("reason", reason).Bool("intentional", intentional).Msg("connection ending")
	return true
}

func (s *session) send(id protocol.ClientMessageID, payload []byte, now time.Time) {
	s.out.Enqueue(protocol.EncodeMessage(id, payload))
	s.lastTCPSend = now
}

// sendUDP writes a datagram right away. Failures are logged and otherwise ignored.
func (s *session) sendUDP(id protocol.ClientMessageID, payload []byte, now time.Time) {
	if s.udp == nil {
		return
	}
	s.link.sent(now)
	if _, err := s.udp.Write(protocol.EncodeDatagram(s.index, id, payload)); err != nil {
		s.log().Debug().Err(err).Msg("write UDP datagram failed")
	}
}

func (s *session) flush(timeout time.Duration) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.out.Flush()
}

// readLoop cuts frames from the TCP stream until the connection fails.
func (s *session) readLoop() {
	defer close(s.done)

	bufPtr := protocol.GetReadBuffer()
	defer protocol.PutReadBuffer(bufPtr)
	buf := *bufPtr

	var reader protocol.FrameReader
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := reader.Feed(buf[:n])
			for _, f := range frames {
				s.frames <- f
			}
			if ferr != nil {
				s.log().Debug().Err(ferr).Msg("unrecoverable framing error")
				s.lost <- "Invalid message"
				return
			}
		}
		if err != nil {
			s.log().Debug().Err(err).Bool("partial_frame", reader.Pending()).Msg("read failed")
			s.lost <- "Connection lost"
			return
		}
	}
}

// close tears the connection down and waits for the read loop.
func (s *session) close() {
	_ = s.conn.Close()
	if s.udp != nil {
		_ = s.udp.Close()
	}
	for {
		select {
		case <-s.frames:
		case <-s.lost:
		case <-s.done:
			if err := s.transition(StateClosed); err != nil {
				s.log().Warn().Err(err).Msg("close connection")
			}
			return
		}
	}
}
