package client

import (
	"errors"
	"time"

	"github.com/Mmx233/klf/interop"
	"github.com/Mmx233/klf/protocol"
)

// enqueuePlugin queues a message for the next interop file. The oldest message
// is dropped when the plugin falls behind.
func (c *Client) enqueuePlugin(id protocol.ClientInteropMessageID, payload []byte) {
	if c.pluginQueue.Push(interop.Message{ID: int32(id), Payload: payload}) {
		c.logger.Debug().Stringer("id", id).Msg("interop queue full, dropped oldest message")
	}
}

// syncInterop refreshes the plugin's client data, writes queued messages and
// handles whatever the plugin wrote.
func (c *Client) syncInterop(sess *session) {
	now := c.now()
	if sess.State() == StateActive && (c.clientDataDirty || now.Sub(c.lastClientData) >= clientDataInterval) {
		c.enqueuePlugin(protocol.ClientInteropClientData, protocol.ClientData{
			InactiveShips:    c.settings.InactiveShips,
			ScreenshotHeight: c.settings.ScreenshotHeight,
			UpdateInterval:   c.settings.UpdateInterval,
			Username:         c.config.Username,
		}.Encode())
		c.clientDataDirty = false
		c.lastClientData = now
	}
	c.writeInterop()

	msgs, err := c.pluginIn.Read()
	if err != nil {
		c.logger.Warn().Err(err).Str("path", c.pluginIn.Path()).Msg("read plugin interop failed")
	}
	for _, m := range msgs {
		c.handlePluginMessage(sess, m)
	}
}

// writeInterop hands queued messages to the plugin. They stay queued while the
// plugin has not consumed the previous file.
func (c *Client) writeInterop() {
	msgs := c.pluginQueue.Drain()
	if len(msgs) == 0 {
		return
	}
	if err := c.pluginOut.Write(msgs); err != nil {
		c.pluginQueue.Requeue(msgs)
		if !errors.Is(err, interop.ErrPending) {
			c.logger.Warn().Err(err).Str("path", c.pluginOut.Path()).Msg("write client interop failed")
		}
	}
}

func (c *Client) handlePluginMessage(sess *session, m interop.Message) {
	id := protocol.ParsePluginInteropMessageID(m.ID)
	now := c.now()

	switch id {
	case protocol.PluginInteropChatSend:
		line := protocol.DecodeString(m.Payload)
		c.printf("[%s] %s", c.config.Username, line)
		c.handleChatInput(sess, line)
	case protocol.PluginInteropPluginData:
		data, err := protocol.DecodePluginData(m.Payload)
		if err != nil {
			c.logger.Debug().Err(err).Msg("malformed plugin data")
			return
		}
		if sess.State() != StateActive {
			return
		}
		if data.InFlight {
			sess.send(protocol.ClientActivityUpdateInFlight, nil, now)
		} else {
			sess.send(protocol.ClientActivityUpdateInGame, nil, now)
		}
	case protocol.PluginInteropPrimaryPluginUpdate:
		c.sendPluginUpdate(sess, protocol.ClientPrimaryPluginUpdate, m.Payload, now)
	case protocol.PluginInteropSecondaryPluginUpdate:
		c.sendPluginUpdate(sess, protocol.ClientSecondaryPluginUpdate, m.Payload, now)
	case protocol.PluginInteropScreenshotShare:
		if len(m.Payload) > 0 {
			c.pendingShot = m.Payload
		}
	case protocol.PluginInteropScreenshotWatchUpdate:
		c.handleWatchUpdate(sess, m.Payload, now)
	case protocol.PluginInteropNull:
	}
}

// sendPluginUpdate prefers UDP once the server has acknowledged it.
func (c *Client) sendPluginUpdate(sess *session, id protocol.ClientMessageID, payload []byte, now time.Time) {
	if sess.State() != StateActive {
		return
	}
	if sess.udp != nil && sess.link.established() {
		sess.sendUDP(id, payload, now)
		return
	}
	sess.send(id, payload, now)
}

// shareScreenshot sends the newest queued screenshot once the server's
// screenshot interval has passed.
func (c *Client) shareScreenshot(sess *session, now time.Time) {
	if c.pendingShot == nil {
		return
	}
	interval := time.Duration(c.settings.ScreenshotInterval) * time.Millisecond
	if now.Sub(c.lastShotShare) <= interval {
		return
	}
	sess.send(protocol.ClientScreenshotShare, c.pendingShot, now)
	c.pendingShot = nil
	c.lastShotShare = now
}

func (c *Client) handleWatchUpdate(sess *session, payload []byte, now time.Time) {
	w, err := protocol.DecodeWatchUpdate(payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed watch update")
		return
	}
	if w == c.watch || sess.State() != StateActive {
		return
	}
	c.watch = w

	cached := false
	if w.Player != "" {
		if shot, ok := c.peers.Get(w.Index, w.Player); ok {
			c.enqueuePlugin(protocol.ClientInteropScreenshotReceive, shot.Encode())
			cached = true
		}
	}
	sess.send(protocol.ClientScreenWatchPlayer, protocol.WatchRequest{
		WantScreenshot: !cached,
		WatchIndex:     w.Index,
		CurrentIndex:   w.Current,
		Player:         w.Player,
	}.Encode(), now)
	sess.log().Debug().Str("player", w.Player).Int32("index", w.Index).Bool("cached", cached).Msg("watch target changed")
}
