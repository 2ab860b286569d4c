package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mmx233/klf/protocol"
	"github.com/Mmx233/klf/server/telemetry"
)

const getCraftCommand = "/getcraft"

// handleMessage dispatches one client message. It runs on the relay loop.
func (s *Server) handleMessage(m inbound) {
	sess := m.session
	st := sess.State()
	if st != StateAwaitingHandshake && st != StateActive {
		return
	}

	channel := "tcp"
	if m.udp {
		channel = "udp"
	}
	s.metrics.Messages.WithLabelValues(m.id.String()).Inc()
	sess.log().Trace().
		Stringer("id", m.id).
		Int("len", len(m.payload)).
		Str("channel", channel).
		Msg("message received")

	now := s.now()
	if m.udp && now.Sub(sess.lastUDPAck) > udpAckThrottle {
		sess.lastUDPAck = now
		sess.send(protocol.ServerUdpAcknowledge, nil)
	}

	switch m.id {
	case protocol.ClientHandshake:
		s.handleHandshake(sess, m.payload, now)
	case protocol.ClientPrimaryPluginUpdate, protocol.ClientSecondaryPluginUpdate:
		s.handlePluginUpdate(sess, m.id, m.payload, now)
	case protocol.ClientTextMessage:
		if st == StateActive {
			s.handleTextMessage(sess, protocol.DecodeString(m.payload), now)
		}
	case protocol.ClientScreenWatchPlayer:
		s.handleWatchPlayer(sess, m.payload)
	case protocol.ClientScreenshotShare:
		s.handleScreenshotShare(sess, m.payload, now)
	case protocol.ClientConnectionEnd:
		s.disconnect(sess, protocol.DecodeString(m.payload), true)
	case protocol.ClientShareCraftFile:
		s.handleShareCraft(sess, m.payload, now)
	case protocol.ClientActivityUpdateInGame:
		s.raiseActivity(sess, ActivityInGame, now)
	case protocol.ClientActivityUpdateInFlight:
		s.raiseActivity(sess, ActivityInFlight, now)
	case protocol.ClientPing:
		sess.send(protocol.ServerPingReply, nil)
	case protocol.ClientKeepAlive, protocol.ClientUdpProbe, protocol.ClientNull:
	}
}

func (s *Server) handleHandshake(sess *Session, payload []byte, now time.Time) {
	if sess.State() != StateAwaitingHandshake {
		return
	}

	req, err := protocol.DecodeHandshakeRequest(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed handshake dropped")
		return
	}

	if v, ok := req.ProtocolVersion(); !ok || v != s.protocolVersion {
		sess.log().Info().
			Str("username", req.Username).
			Str("client_version", req.Version).
			Msg("rejected client with mismatched protocol version")
		s.refuseSession(sess, ReasonVersionMismatch)
		return
	}

	lower := strings.ToLower(req.Username)
	var others []string
	for _, e := range s.slots.List() {
		other := e.Item
		if other == sess || other.State() != StateActive {
			continue
		}
		if strings.ToLower(other.Username()) == lower {
			sess.log().Info().Str("username", req.Username).Msg("rejected client due to duplicate username")
			s.disconnect(sess, ReasonDuplicateName, true)
			return
		}
		others = append(others, other.Username())
	}

	sess.mu.Lock()
	sess.username = req.Username
	sess.mu.Unlock()
	if err := sess.transition(StateActive); err != nil {
		sess.log().Warn().Err(err).Msg("complete handshake")
		return
	}
	sess.annotate(func(c zerolog.Context) zerolog.Context { return c.Str("username", req.Username) })

	sess.send(protocol.ServerMessage, protocol.EncodeString(userCountMessage(others)))
	sess.send(protocol.ServerSettings, s.settings().Encode())

	sess.log().Info().Str("client_version", req.Version).Msg("client joined the server")
	s.events.Publish(telemetry.Event{
		Kind:        telemetry.KindJoin,
		ClientIndex: sess.Index(),
		Username:    req.Username,
		Remote:      sess.remote,
	})

	if s.allowMessage(sess, now) {
		s.broadcastServerMessage("User "+req.Username+" has joined the server.", sess)
	}
}

func userCountMessage(others []string) string {
	if len(others) == 1 {
		return "There is currently 1 other user on this server: " + others[0]
	}
	msg := "There are currently " + strconv.Itoa(len(others)) + " other users on this server."
	if len(others) > 0 {
		msg += " Enter /list to see them."
	}
	return msg
}

// allowMessage counts one chat action, warns the sender when it becomes
// restricted and reports whether the action may take effect.
func (s *Server) allowMessage(sess *Session, now time.Time) bool {
	allowed := sess.throttle.AllowMessage(now)
	if allowed && sess.throttle.MessagesThrottled(now) {
		seconds := int64(s.config.MessageFlood.Throttle / time.Second)
		sess.send(protocol.ServerMessage, protocol.EncodeString(
			fmt.Sprintf("You have been restricted from sending messages for %d seconds.", seconds)))
		sess.log().Info().Int64("seconds", seconds).Msg("client restricted from sending messages")
		s.metrics.Throttled.WithLabelValues("message").Inc()
	}
	return allowed
}

func (s *Server) handlePluginUpdate(sess *Session, id protocol.ClientMessageID, payload []byte, now time.Time) {
	if sess.State() != StateActive {
		return
	}
	if sess.updateActivity(ActivityInGame, now) {
		s.publishActivity(sess)
		s.activityChanged()
	}

	secondary := id == protocol.ClientSecondaryPluginUpdate
	msg := protocol.EncodeMessage(protocol.ServerPluginUpdate, payload)
	for _, e := range s.slots.List() {
		other := e.Item
		if other == sess || other.State() != StateActive {
			continue
		}
		switch a := other.Activity(); {
		case a == ActivityInactive:
			continue
		case secondary && a != ActivityInFlight:
			continue
		}
		other.enqueue(msg)
	}
}

func (s *Server) handleTextMessage(sess *Session, text string, now time.Time) {
	if !s.allowMessage(sess, now) {
		return
	}

	if strings.HasPrefix(text, "/") {
		lower := strings.ToLower(text)
		switch {
		case lower == "/list":
			var b strings.Builder
			b.WriteString("Connected users:\n")
			for _, e := range s.slots.List() {
				if e.Item.State() == StateActive {
					b.WriteString(e.Item.Username())
					b.WriteByte('\n')
				}
			}
			sess.send(protocol.ServerTextMessage, protocol.EncodeString(b.String()))
			return
		case lower == "/quit":
			s.disconnect(sess, ReasonQuit, true)
			return
		case lower == "/crafts":
			sess.send(protocol.ServerTextMessage, protocol.EncodeString(s.sharedCraftList()))
			return
		case len(lower) > len(getCraftCommand)+1 && strings.HasPrefix(lower, getCraftCommand+" "):
			s.sendCraft(sess, text[len(getCraftCommand)+1:])
			return
		}
	}

	full := "[" + sess.Username() + "] " + text
	sess.log().Info().Str("text", text).Msg("chat")
	s.broadcast(protocol.ServerTextMessage, protocol.EncodeString(full), sess)
}

func (s *Server) sharedCraftList() string {
	var b strings.Builder
	b.WriteString("Shared crafts:\n")
	for _, e := range s.slots.List() {
		if e.Item.State() != StateActive {
			continue
		}
		e.Item.mu.RLock()
		craft := e.Item.craft
		e.Item.mu.RUnlock()
		if craft == nil {
			continue
		}
		b.WriteString(e.Item.Username())
		b.WriteString(": ")
		b.WriteString(craft.Name)
		b.WriteString(" (")
		b.WriteString(craft.Type.String())
		b.WriteString(")\n")
	}
	return b.String()
}

func (s *Server) sendCraft(sess *Session, owner string) {
	target := s.findByName(owner)
	if target == nil {
		return
	}
	target.mu.RLock()
	craft := target.craft
	target.mu.RUnlock()
	if craft == nil || craft.Name == "" || len(craft.Data) == 0 {
		return
	}

	payload, err := protocol.EncodeCraft(*craft)
	if err != nil {
		sess.log().Debug().Err(err).Msg("encode craft failed")
		return
	}
	sess.send(protocol.ServerCraftFile, payload)
	sess.log().Info().Str("craft", craft.Name).Str("owner", target.Username()).Msg("sent craft")
}

// findByName returns the Active session whose username matches name, ignoring case.
func (s *Server) findByName(name string) *Session {
	for _, e := range s.slots.List() {
		if e.Item.State() == StateActive && strings.EqualFold(e.Item.Username(), name) {
			return e.Item
		}
	}
	return nil
}

func (s *Server) handleWatchPlayer(sess *Session, payload []byte) {
	if sess.State() != StateActive {
		return
	}
	req, err := protocol.DecodeWatchRequest(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed watch request")
		return
	}

	sess.mu.Lock()
	changed := req.Player != sess.watchPlayer || req.WatchIndex != sess.watchIndex
	sess.watchPlayer = req.Player
	sess.watchIndex = req.WatchIndex
	sess.mu.Unlock()

	if !req.WantScreenshot || !changed || req.Player == "" {
		return
	}
	watched := s.findByName(req.Player)
	if watched == nil {
		return
	}
	shot, ok := watched.shots.Lookup(req.WatchIndex)
	if ok && shot.Index != req.CurrentIndex {
		sess.send(protocol.ServerScreenshotShare, shot.Encode())
	}
}

func (s *Server) handleScreenshotShare(sess *Session, payload []byte, now time.Time) {
	if len(payload) > s.screenshots.MaxNumBytes() || sess.State() != StateActive {
		return
	}

	if !sess.throttle.ScreenshotsThrottled(now) {
		shot, err := protocol.DecodeScreenshot(payload)
		if err != nil {
			sess.log().Debug().Err(err).Msg("malformed screenshot")
			return
		}
		name := sess.Username()
		shot.Player = name
		shot = sess.shots.Push(shot)
		s.metrics.Screenshots.Inc()

		if s.config.Screenshot.Save {
			if err := s.saveScreenshot(name, shot.Index, shot.Image); err != nil {
				sess.log().Warn().Err(err).Msg("save screenshot failed")
			}
		}

		notice := name + " has shared a screenshot."
		sess.log().Info().Int32("index", shot.Index).Msg("client shared a screenshot")
		s.broadcast(protocol.ServerTextMessage, protocol.EncodeString(notice), nil)
		s.sendToWatchers(sess, shot)
		s.events.Publish(telemetry.Event{
			Kind:        telemetry.KindScreenshot,
			ClientIndex: sess.Index(),
			Username:    name,
			Detail:      strconv.Itoa(int(shot.Index)),
		})
	}

	res := sess.throttle.IncrementScreenshots(now)
	switch {
	case res.Restricted:
		seconds := int64(s.config.ScreenshotFlood.Throttle / time.Second)
		sess.send(protocol.ServerMessage, protocol.EncodeString(
			fmt.Sprintf("You have been restricted from sharing screenshots for %d seconds.", seconds)))
		sess.log().Info().Int64("seconds", seconds).Msg("client restricted from sharing screenshots")
		s.metrics.Throttled.WithLabelValues("screenshot").Inc()
	case res.Warn:
		sess.send(protocol.ServerMessage, protocol.EncodeString("Warning: You are sharing too many screenshots."))
	}
}

func (s *Server) sendToWatchers(owner *Session, shot protocol.Screenshot) {
	name := owner.Username()
	msg := protocol.EncodeMessage(protocol.ServerScreenshotShare, shot.Encode())
	for _, e := range s.slots.List() {
		w := e.Item
		if w == owner || w.State() != StateActive || w.Activity() == ActivityInactive {
			continue
		}
		w.mu.RLock()
		watching := w.watchPlayer == name
		w.mu.RUnlock()
		if watching {
			w.enqueue(msg)
		}
	}
}

var screenshotNameReplacer = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "", "..", "",
)

func (s *Server) saveScreenshot(owner string, index int32, image []byte) error {
	dir := s.config.Screenshot.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s %d.png", screenshotNameReplacer.Replace(owner), index)
	if err := os.WriteFile(filepath.Join(dir, name), image, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

func (s *Server) handleShareCraft(sess *Session, payload []byte, now time.Time) {
	if sess.State() != StateActive || len(payload) <= 5 || len(payload)-5 > protocol.MaxCraftSize {
		return
	}
	if !s.allowMessage(sess, now) {
		return
	}

	craft, err := protocol.DecodeCraft(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed craft")
		return
	}
	sess.mu.Lock()
	sess.craft = &craft
	sess.mu.Unlock()
	s.metrics.Crafts.Inc()

	name := sess.Username()
	notice := name + " shared " + craft.Name + " (" + craft.Type.String() + "). Enter " + getCraftCommand + " " + name + " to get it."
	sess.log().Info().Str("craft", craft.Name).Stringer("type", craft.Type).Msg("client shared a craft")
	s.broadcast(protocol.ServerTextMessage, protocol.EncodeString(notice), nil)
	s.events.Publish(telemetry.Event{
		Kind:        telemetry.KindCraft,
		ClientIndex: sess.Index(),
		Username:    name,
		Detail:      craft.Name,
	})
}

func (s *Server) raiseActivity(sess *Session, a Activity, now time.Time) {
	if sess.State() != StateActive {
		return
	}
	if sess.updateActivity(a, now) {
		s.publishActivity(sess)
		s.activityChanged()
	}
}

func (s *Server) publishActivity(sess *Session) {
	s.events.Publish(telemetry.Event{
		Kind:        telemetry.KindActivity,
		ClientIndex: sess.Index(),
		Username:    sess.Username(),
		Detail:      sess.Activity().String(),
	})
}

// broadcast queues a message for every Active session except skip.
func (s *Server) broadcast(id protocol.ServerMessageID, payload []byte, skip *Session) {
	msg := protocol.EncodeMessage(id, payload)
	for _, e := range s.slots.List() {
		if e.Item != skip && e.Item.State() == StateActive {
			e.Item.enqueue(msg)
		}
	}
}

func (s *Server) broadcastServerMessage(text string, skip *Session) {
	s.broadcast(protocol.ServerMessage, protocol.EncodeString(text), skip)
}
