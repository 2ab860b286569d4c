package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Mmx233/klf/config"
	"github.com/Mmx233/klf/protocol"
	"github.com/Mmx233/klf/server/bans"
	"github.com/Mmx233/klf/server/pool"
	"github.com/Mmx233/klf/server/status"
	"github.com/Mmx233/klf/server/telemetry"
	"github.com/Mmx233/klf/server/throttle"
)

// Refusal and disconnect reasons sent to clients
const (
	ReasonBanned          = "You are banned from the server."
	ReasonFull            = "Server is currently full"
	ReasonVersionMismatch = "version mismatch"
	ReasonDuplicateName   = "Your username is already in use."
	ReasonTimeout         = "timeout"
	ReasonHandshake       = "handshake timeout"
	ReasonShutdown        = "Server is shutting down"
	ReasonKicked          = "You were kicked from the server."
	ReasonBannedNow       = "Banned from the server."
	ReasonQuit            = "Requested quit"
)

var (
	ErrLoopPanic     = errors.New("relay loop panic")
	ErrServerStopped = errors.New("server stopped")
)

// inbound is a client message waiting for the relay loop.
type inbound struct {
	session *Session
	id      protocol.ClientMessageID
	payload []byte
	udp     bool
}

type lostEvent struct {
	session *Session
	reason  string
}

// Server relays game state between connected clients.
type Server struct {
	config          *config.Server
	protocolVersion int32
	screenshots     config.ScreenshotSettings
	logger          zerolog.Logger

	slots    *pool.Slots[Session]
	guard    *throttle.Guard
	bans     *bans.Store
	registry *prometheus.Registry
	metrics  *status.Metrics
	events   telemetry.Publisher

	inbox    chan inbound
	lost     chan lostEvent
	commands chan func()

	// Owned by the relay loop
	numInGame   int
	numInFlight int

	now func() time.Time

	// stopped is closed once Serve begins shutting down.
	stopped   chan struct{}
	listeners sync.WaitGroup
	sessions  sync.WaitGroup
}

// New creates a server from conf. The ban database is opened here.
func New(conf *config.Server) (*Server, error) {
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	logger := log.With().Str("com", "server").Logger()

	guard, err := throttle.NewGuard(
		throttle.Policy{Limit: conf.MessageFlood.Limit, Interval: throttle.DefaultInterval, Duration: conf.MessageFlood.Throttle},
		throttle.Policy{Limit: conf.ScreenshotFlood.Limit, Interval: throttle.DefaultInterval, Duration: conf.ScreenshotFlood.Throttle},
		throttle.DefaultSavedStates,
	)
	if err != nil {
		return nil, err
	}

	banStore, err := bans.Open(conf.BanDatabase, log.With().Str("com", "bans").Logger())
	if err != nil {
		return nil, fmt.Errorf("open bans: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	version := conf.ProtocolVersion
	if version == 0 {
		version = protocol.Version
	}

	return &Server{
		config:          conf,
		protocolVersion: version,
		screenshots:     conf.Screenshots(),
		logger:          logger,
		slots:           pool.New[Session](conf.MaxClients, logger),
		guard:           guard,
		bans:            banStore,
		registry:        registry,
		metrics:         status.NewMetrics(registry),
		events:          telemetry.Nop{},
		inbox:           make(chan inbound, 1024),
		lost:            make(chan lostEvent, 64),
		commands:        make(chan func()),
		now:             time.Now,
		stopped:         make(chan struct{}),
	}, nil
}

// SetPublisher routes session events to p.
func (s *Server) SetPublisher(p telemetry.Publisher) {
	s.events = p
}

// Close releases the ban database.
func (s *Server) Close() error {
	return s.bans.Close()
}

// ListenAndServe opens the configured TCP and UDP listeners, the optional
// status page and telemetry, and serves until ctx is cancelled or a component fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	conf := s.config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var publisher *telemetry.MQTT
	if conf.Telemetry.Broker != "" {
		var err error
		publisher, err = telemetry.NewMQTT(conf.Telemetry, log.With().Str("com", "telemetry").Logger())
		if err != nil {
			return err
		}
		s.SetPublisher(publisher)
	}

	lc := net.ListenConfig{Control: setSocketOptions}
	ln, err := lc.Listen(ctx, "tcp", conf.Listen.Addr())
	if err != nil {
		return fmt.Errorf("listen TCP: %w", err)
	}
	pc, err := lc.ListenPacket(ctx, "udp", conf.Listen.Addr())
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("listen UDP: %w", err)
	}

	errCh := make(chan error, 2)
	var aux sync.WaitGroup

	if conf.HTTPPort != 0 {
		page := status.New(s, s.registry, true, log.With().Str("com", "status").Logger())
		addr := net.JoinHostPort(conf.Listen.IP, strconv.Itoa(conf.HTTPPort))
		aux.Add(1)
		go func() {
			defer aux.Done()
			if err := page.Run(ctx, addr); err != nil {
				errCh <- err
			}
		}()
	}

	if publisher != nil {
		aux.Add(1)
		go func() {
			defer aux.Done()
			if err := publisher.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("telemetry stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln, pc)
	}()

	s.logger.Info().
		Str("listen", conf.Listen.Addr()).
		Int("max_clients", conf.MaxClients).
		Int32("protocol_version", s.protocolVersion).
		Msg("server started")

	select {
	case err = <-serveErr:
		cancel()
	case err = <-errCh:
		cancel()
		<-serveErr
	}
	aux.Wait()
	return err
}

// Serve runs the relay on ln and pc until ctx is cancelled. pc may be nil.
// Both are closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener, pc net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := s.run(ctx); err != nil {
			errCh <- err
		}
	}()

	s.listeners.Add(1)
	go func() {
		defer s.listeners.Done()
		if err := s.acceptLoop(ctx, ln); err != nil {
			errCh <- err
		}
	}()

	if pc != nil {
		s.listeners.Add(1)
		go func() {
			defer s.listeners.Done()
			s.udpLoop(ctx, pc)
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	cancel()
	close(s.stopped)
	_ = ln.Close()
	if pc != nil {
		_ = pc.Close()
	}
	s.listeners.Wait()
	<-loopDone

	// The loop is gone; end what is left from here.
	for _, e := range s.slots.List() {
		s.disconnect(e.Item, ReasonShutdown, true)
	}
	s.sessions.Wait()

	s.logger.Info().Msg("server stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn().Err(err).Msg("accept connection failed")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.accept(conn)
	}
}

// refuse writes a HandshakeRefusal straight to conn and closes it.
func (s *Server) refuse(conn net.Conn, reason string) {
	s.events.Publish(telemetry.Event{
		Kind:        telemetry.KindRefused,
		ClientIndex: -1,
		Remote:      conn.RemoteAddr().String(),
		Detail:      reason,
	})
	_ = conn.SetWriteDeadline(s.now().Add(config.DefaultWriteTimeout))
	_ = protocol.WriteMessage(conn, protocol.ServerHandshakeRefusal, protocol.EncodeString(reason))
	_ = conn.Close()
}

func (s *Server) accept(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	ip := hostOf(conn.RemoteAddr())

	banned, err := s.bans.Contains(ip)
	if err != nil {
		logger.Error().Err(err).Msg("ban lookup failed")
	}
	if banned {
		logger.Info().Msg("banned client attempted to connect")
		s.metrics.Refusals.WithLabelValues("banned").Inc()
		s.refuse(conn, ReasonBanned)
		return
	}

	now := s.now()
	sess := newSession(conn, s.config.Screenshot.Backlog, config.DefaultWriteTimeout, now, s.logger)
	sess.throttle = s.guard.Restore(ip)

	index, err := s.slots.Add(sess)
	if err != nil {
		logger.Info().Msg("client attempted to connect, but server is full")
		s.metrics.Refusals.WithLabelValues("full").Inc()
		s.refuse(conn, ReasonFull)
		return
	}
	sess.index.Store(int32(index))
	sess.annotate(func(c zerolog.Context) zerolog.Context { return c.Int("client_index", index) })
	s.metrics.Sessions.Set(float64(s.slots.Count()))

	sess.send(protocol.ServerHandshake, protocol.HandshakeReply{
		ProtocolVersion: s.protocolVersion,
		Version:         protocol.ProgramVersion,
		ClientIndex:     int32(index),
	}.Encode())
	sess.send(protocol.ServerNull, nil)
	if s.config.JoinMessage != "" {
		sess.send(protocol.ServerMessage, protocol.EncodeString(s.config.JoinMessage))
	}

	if err := sess.transition(StateAwaitingHandshake); err != nil {
		sess.log().Warn().Err(err).Msg("start session")
	}
	sess.start(&s.sessions, s.hooks())
	sess.requestFlush()
	sess.log().Info().Msg("accepted client, handshaking")

	s.exec(s.sendSettingsToAll)
}

func (s *Server) hooks() sessionHooks {
	return sessionHooks{
		deliver: s.deliver,
		lost: func(sess *Session, reason string) {
			select {
			case s.lost <- lostEvent{session: sess, reason: reason}:
			case <-sess.ending:
			case <-s.stopped:
			}
		},
		flushed: func(n uint64, took time.Duration) {
			s.metrics.BytesSent.Add(float64(n))
			s.metrics.FlushLatency.Observe(took.Seconds())
		},
		now: s.now,
	}
}

// deliver hands m to the relay loop. It reports false when the session or server is going away.
func (s *Server) deliver(m inbound) bool {
	select {
	case s.inbox <- m:
		return true
	case <-m.session.ending:
		return false
	case <-s.stopped:
		return false
	}
}

// exec runs fn on the relay loop without waiting for it.
func (s *Server) exec(fn func()) {
	go func() {
		select {
		case s.commands <- fn:
		case <-s.stopped:
		}
	}()
}

// call runs fn on the relay loop and waits for it to finish.
func (s *Server) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.commands <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrServerStopped
	}
	<-done
	return nil
}

// run is the relay loop: every handler and every session end happens here.
func (s *Server) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoopPanic, r)
			s.logger.Error().Err(err).Msg("relay loop crashed")
		}
	}()

	ticker := time.NewTicker(config.DefaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.inbox:
			s.handleMessage(m)
		case l := <-s.lost:
			s.disconnect(l.session, l.reason, false)
		case fn := <-s.commands:
			fn()
		case <-ticker.C:
			s.housekeeping(s.now())
		}
	}
}

// housekeeping enforces timeouts, decays activity and flushes every session.
func (s *Server) housekeeping(now time.Time) {
	activityChanged := false

	for _, e := range s.slots.List() {
		sess := e.Item
		switch sess.State() {
		case StateAwaitingHandshake:
			if now.Sub(sess.connectedAt) > s.config.HandshakeTimeout {
				s.disconnect(sess, ReasonHandshake, false)
				continue
			}
		case StateActive:
		default:
			continue
		}

		if now.Sub(sess.LastReceive()) > s.config.ClientTimeout {
			s.disconnect(sess, ReasonTimeout, false)
			continue
		}
		if sess.decayActivity(now, config.DefaultActivityResetDelay) {
			s.publishActivity(sess)
			activityChanged = true
		}
		sess.requestFlush()
	}

	if activityChanged {
		s.activityChanged()
	}
}

// disconnect ends sess with reason and releases its slot.
func (s *Server) disconnect(sess *Session, reason string, intentional bool) {
	wasActive := sess.State() == StateActive
	farewell := protocol.EncodeMessage(protocol.ServerConnectionEnd, protocol.EncodeString(reason))
	if !sess.End(reason, intentional, farewell) {
		return
	}
	s.release(sess, reason, wasActive)
}

// refuseSession ends sess with a HandshakeRefusal instead of a ConnectionEnd.
func (s *Server) refuseSession(sess *Session, reason string) {
	wasActive := sess.State() == StateActive
	refusal := protocol.EncodeMessage(protocol.ServerHandshakeRefusal, protocol.EncodeString(reason))
	if !sess.End(reason, true, refusal) {
		return
	}
	s.metrics.Refusals.WithLabelValues(reason).Inc()
	s.release(sess, reason, wasActive)
}

func (s *Server) release(sess *Session, reason string, wasActive bool) {
	s.slots.Remove(sess.Index(), sess)
	s.metrics.Sessions.Set(float64(s.slots.Count()))
	s.metrics.Disconnects.WithLabelValues(strconv.FormatBool(sess.Intentional())).Inc()

	now := s.now()
	if wasActive {
		name := sess.Username()
		sess.log().Info().Str("username", name).Str("reason", reason).Msg("client disconnected")
		if sess.throttle.AllowMessage(now) {
			s.broadcastServerMessage("User "+name+" has disconnected : "+reason, nil)
		}
		s.events.Publish(telemetry.Event{
			Kind:        telemetry.KindLeave,
			ClientIndex: sess.Index(),
			Username:    name,
			Remote:      sess.remote,
			Detail:      reason,
		})
	} else {
		sess.log().Info().Str("reason", reason).Msg("client failed to handshake")
	}

	s.guard.Save(sess.ip, sess.throttle)

	if sess.Activity() != ActivityInactive {
		s.activityChanged()
	} else {
		s.sendSettingsToAll()
	}
}

// activityChanged recounts players in game and in flight and republishes settings.
func (s *Server) activityChanged() {
	inGame, inFlight := 0, 0
	for _, e := range s.slots.List() {
		if !live(e.Item) {
			continue
		}
		switch e.Item.Activity() {
		case ActivityInGame:
			inGame++
		case ActivityInFlight:
			inGame++
			inFlight++
		}
	}
	s.numInGame, s.numInFlight = inGame, inFlight
	s.sendSettingsToAll()
}

// live reports whether sess still counts as connected.
func live(sess *Session) bool {
	st := sess.State()
	return st == StateAwaitingHandshake || st == StateActive
}

func (s *Server) settings() protocol.Settings {
	return protocol.Settings{
		UpdateInterval:     s.config.UpdateInterval(s.numInGame, s.numInFlight),
		ScreenshotInterval: int32(s.config.Screenshot.Interval.Milliseconds()),
		ScreenshotHeight:   int32(s.screenshots.MaxHeight),
		InactiveShips:      s.config.InactiveShipsPerClient(s.numInFlight),
	}
}

func (s *Server) sendSettingsToAll() {
	msg := protocol.EncodeMessage(protocol.ServerSettings, s.settings().Encode())
	for _, e := range s.slots.List() {
		if live(e.Item) {
			e.Item.enqueue(msg)
		}
	}
}

// StatusSnapshot implements status.Source.
func (s *Server) StatusSnapshot() status.Snapshot {
	snap := status.Snapshot{
		Version:           protocol.ProgramVersion,
		ProtocolVersion:   s.protocolVersion,
		Port:              s.config.Listen.Port,
		NumPlayers:        s.slots.Count(),
		MaxPlayers:        s.config.MaxClients,
		Players:           []status.Player{},
		Information:       s.config.ServerInfo,
		UpdatesPerSecond:  s.config.UpdatesPerSecond,
		InactiveShipLimit: s.config.TotalInactiveShips,
		ScreenshotHeight:  s.screenshots.MaxHeight,
		ScreenshotSave:    s.config.Screenshot.Save,
		ScreenshotBacklog: s.config.Screenshot.Backlog,
	}
	for _, e := range s.slots.List() {
		if e.Item.State() != StateActive {
			continue
		}
		snap.Players = append(snap.Players, status.Player{
			Index:            e.Index,
			Username:         e.Item.Username(),
			Activity:         e.Item.Activity().String(),
			Screenshots:      e.Item.shots.Len(),
			LatestScreenshot: e.Item.shots.LastIndex(),
		})
	}
	return snap
}
