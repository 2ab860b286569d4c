package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mmx233/klf/protocol"
)

const craftExt = ".craft"

func (c *Client) handleMessage(sess *session, f protocol.Frame) {
	id := protocol.ParseServerMessageID(f.ID)
	sess.log().Trace().Stringer("id", id).Int("len", len(f.Payload)).Msg("received message")

	switch id {
	case protocol.ServerHandshake:
		c.handleHandshake(sess, f.Payload)
	case protocol.ServerHandshakeRefusal:
		reason := protocol.DecodeString(f.Payload)
		c.chat("Server refused connection. Reason: " + reason)
		sess.end(reason, true)
	case protocol.ServerMessage:
		c.chat("[Server] " + protocol.DecodeString(f.Payload))
	case protocol.ServerTextMessage:
		c.chat(protocol.DecodeString(f.Payload))
	case protocol.ServerPluginUpdate:
		if sess.State() == StateActive {
			c.enqueuePlugin(protocol.ClientInteropPluginUpdate, f.Payload)
		}
	case protocol.ServerSettings:
		c.handleSettings(f.Payload)
	case protocol.ServerScreenshotShare:
		c.handleScreenshot(sess, f.Payload)
	case protocol.ServerConnectionEnd:
		reason := protocol.DecodeString(f.Payload)
		c.chat("Server closed the connection: " + reason)
		sess.end(reason, !strings.EqualFold(reason, ReasonTimeout))
	case protocol.ServerUdpAcknowledge:
		sess.link.ack(c.now())
	case protocol.ServerCraftFile:
		c.handleCraftFile(sess, f.Payload)
	case protocol.ServerPingReply:
		if !c.pingStart.IsZero() {
			c.printf("Ping Reply: %dms", c.now().Sub(c.pingStart).Milliseconds())
			c.pingStart = time.Time{}
		}
	case protocol.ServerKeepalive, protocol.ServerNull:
	}
}

func (c *Client) handleHandshake(sess *session, payload []byte) {
	if sess.State() != StateAwaitingHandshake {
		return
	}
	reply, err := protocol.DecodeHandshakeReply(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed handshake dropped")
		return
	}
	if reply.ProtocolVersion != c.protocolVersion {
		c.printf("Server version is incompatible with client version. Server: %d, Client: %d",
			reply.ProtocolVersion, c.protocolVersion)
		sess.end(ReasonIncompatibleVersion, true)
		return
	}

	sess.index = reply.ClientIndex
	sess.send(protocol.ClientHandshake, protocol.HandshakeRequest{
		Username: c.config.Username,
		Version:  strconv.Itoa(int(c.protocolVersion)),
	}.Encode(), c.now())
	if err := sess.transition(StateActive); err != nil {
		sess.log().Warn().Err(err).Msg("complete handshake")
		return
	}
	logger := sess.log().With().Int32("client_index", reply.ClientIndex).Logger()
	sess.logger.Store(&logger)
	c.index.Store(reply.ClientIndex)
	c.state.Store(int32(StateActive))
	c.clientDataDirty = true

	sess.log().Info().Str("server_version", reply.Version).Msg("handshake complete")
	c.printf("Handshake successful! Server version: %s", reply.Version)
}

func (c *Client) handleSettings(payload []byte) {
	settings, err := protocol.DecodeSettings(payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed settings")
		return
	}
	prev := c.settings
	c.settings = settings
	if settings.ScreenshotHeight != prev.ScreenshotHeight {
		c.chat(fmt.Sprintf("Screenshot Height has been set to %d", settings.ScreenshotHeight))
	}
	if settings != prev {
		c.clientDataDirty = true
	}
}

func (c *Client) handleScreenshot(sess *session, payload []byte) {
	shot, err := protocol.DecodeScreenshot(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed screenshot")
		return
	}
	c.peers.Put(shot)
	if c.watch.Player != "" && shot.Player == c.watch.Player {
		c.enqueuePlugin(protocol.ClientInteropScreenshotReceive, payload)
	}
}

func (c *Client) handleCraftFile(sess *session, payload []byte) {
	craft, err := protocol.DecodeCraft(payload)
	if err != nil {
		sess.log().Debug().Err(err).Msg("malformed craft file")
		return
	}
	path, err := c.saveCraft(craft)
	if err != nil {
		sess.log().Warn().Err(err).Str("craft", craft.Name).Msg("save craft failed")
		c.chat("Error saving craft file: " + craft.Name)
		return
	}
	sess.log().Info().Str("path", path).Msg("craft file saved")
	c.chat("Received craft file: " + craft.Name)
}

// craftFileName maps a craft name to a file name without directory parts.
func craftFileName(name string) string {
	name = protocol.SanitizeCraftName(strings.ReplaceAll(name, ".", "_"))
	if strings.TrimSpace(name) == "" {
		name = "craft"
	}
	return name + craftExt
}

func (c *Client) saveCraft(craft protocol.Craft) (string, error) {
	if craft.Type != protocol.CraftVAB && craft.Type != protocol.CraftSPH {
		return "", fmt.Errorf("%w: unknown craft type %d", protocol.ErrMalformedCraft, craft.Type)
	}
	dir := filepath.Join(c.config.CraftDir, craft.Type.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create craft dir: %w", err)
	}
	path := filepath.Join(dir, craftFileName(craft.Name))
	if err := os.WriteFile(path, craft.Data, 0o644); err != nil {
		return "", fmt.Errorf("write craft file: %w", err)
	}
	return path, nil
}

// findCraft looks for a saved craft, VAB first.
func (c *Client) findCraft(name string) (string, protocol.CraftType, bool) {
	for _, typ := range []protocol.CraftType{protocol.CraftVAB, protocol.CraftSPH} {
		path := filepath.Join(c.config.CraftDir, typ.String(), craftFileName(name))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, typ, true
		}
	}
	return "", 0, false
}

// localCrafts lists the craft files under the craft dir, sorted per type.
func (c *Client) localCrafts() ([]string, error) {
	var crafts []string
	for _, typ := range []protocol.CraftType{protocol.CraftVAB, protocol.CraftSPH} {
		entries, err := os.ReadDir(filepath.Join(c.config.CraftDir, typ.String()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("list %s crafts: %w", typ, err)
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasSuffix(e.Name(), craftExt) {
				names = append(names, strings.TrimSuffix(e.Name(), craftExt)+" ("+typ.String()+")")
			}
		}
		sort.Strings(names)
		crafts = append(crafts, names...)
	}
	return crafts, nil
}

// handleChatInput runs a console or plugin chat line.
func (c *Client) handleChatInput(sess *session, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	now := c.now()
	if !strings.HasPrefix(line, "/") {
		if sess.State() == StateActive {
			sess.send(protocol.ClientTextMessage, protocol.EncodeString(line), now)
		}
		return
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/quit":
		c.quit(sess)
	case "/ping":
		if c.pingStart.IsZero() {
			sess.send(protocol.ClientPing, nil, now)
			c.pingStart = now
		}
	case "/sharecraft":
		c.shareCraft(sess, arg, now)
	case "/crafts":
		crafts, err := c.localCrafts()
		if err != nil {
			c.printf("Error listing crafts: %v", err)
		} else {
			c.printf("Local crafts:\n%s", strings.Join(crafts, "\n"))
		}
		// the server answers with the crafts other players shared
		if sess.State() == StateActive {
			sess.send(protocol.ClientTextMessage, protocol.EncodeString(line), now)
		}
	case "/list", "/getcraft":
		if sess.State() == StateActive {
			sess.send(protocol.ClientTextMessage, protocol.EncodeString(line), now)
		}
	default:
		c.chat("Unrecognized command: " + name)
	}
}

func (c *Client) shareCraft(sess *session, name string, now time.Time) {
	if name == "" || sess.State() != StateActive {
		return
	}
	path, typ, ok := c.findCraft(name)
	if !ok {
		c.chat("Craft file not found: " + name)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		sess.log().Warn().Err(err).Str("path", path).Msg("read craft failed")
		c.chat("Error reading craft file: " + path)
		return
	}
	payload, err := protocol.EncodeCraft(protocol.Craft{Type: typ, Name: name, Data: data})
	if err != nil {
		c.chat("Craft file is too large to share: " + name)
		return
	}
	sess.send(protocol.ClientShareCraftFile, payload, now)
	c.printf("Sharing craft: %s", name)
}
