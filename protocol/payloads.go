package protocol

import (
	"fmt"
	"strconv"
)

// SettingsSize is the exact length of a ServerSettings payload.
const SettingsSize = 13

// HandshakeRequest is the client's handshake. Version carries the client's
// protocol version in decimal.
type HandshakeRequest struct {
	Username string
	Version  string
}

func (h HandshakeRequest) Encode() []byte {
	return NewBuilder(64).
		WriteString(h.Username).
		WriteTrailingString(h.Version).
		Build()
}

// ProtocolVersion parses Version, reporting false when it is not a number.
func (h HandshakeRequest) ProtocolVersion() (int32, bool) {
	v, err := strconv.ParseInt(h.Version, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

func DecodeHandshakeRequest(payload []byte) (HandshakeRequest, error) {
	d := NewDecoder(payload)
	username, err := d.ReadString()
	if err != nil {
		return HandshakeRequest{}, fmt.Errorf("decode handshake username: %w", err)
	}
	return HandshakeRequest{Username: username, Version: d.RestString()}, nil
}

// HandshakeReply is the server's greeting, sent right after accept.
type HandshakeReply struct {
	ProtocolVersion int32
	Version         string
	ClientIndex     int32
}

func (h HandshakeReply) Encode() []byte {
	return NewBuilder(32).
		WriteInt32(h.ProtocolVersion).
		WriteString(h.Version).
		WriteInt32(h.ClientIndex).
		Build()
}

func DecodeHandshakeReply(payload []byte) (HandshakeReply, error) {
	var (
		h   HandshakeReply
		err error
	)
	d := NewDecoder(payload)
	if h.ProtocolVersion, err = d.ReadInt32(); err != nil {
		return HandshakeReply{}, fmt.Errorf("decode handshake protocol version: %w", err)
	}
	if h.Version, err = d.ReadString(); err != nil {
		return HandshakeReply{}, fmt.Errorf("decode handshake version: %w", err)
	}
	if h.ClientIndex, err = d.ReadInt32(); err != nil {
		return HandshakeReply{}, fmt.Errorf("decode handshake client index: %w", err)
	}
	return h, nil
}

// Settings is the ServerSettings payload.
type Settings struct {
	UpdateInterval     int32
	ScreenshotInterval int32
	ScreenshotHeight   int32
	InactiveShips      byte
}

func (s Settings) Encode() []byte {
	return NewBuilder(SettingsSize).
		WriteInt32(s.UpdateInterval).
		WriteInt32(s.ScreenshotInterval).
		WriteInt32(s.ScreenshotHeight).
		WriteUint8(s.InactiveShips).
		Build()
}

func DecodeSettings(payload []byte) (Settings, error) {
	if len(payload) != SettingsSize {
		return Settings{}, fmt.Errorf("%w: settings must be %d bytes, got %d", ErrShortPayload, SettingsSize, len(payload))
	}
	d := NewDecoder(payload)
	var s Settings
	s.UpdateInterval, _ = d.ReadInt32()
	s.ScreenshotInterval, _ = d.ReadInt32()
	s.ScreenshotHeight, _ = d.ReadInt32()
	s.InactiveShips, _ = d.ReadByte()
	return s, nil
}

// WatchRequest is the ScreenWatchPlayer payload.
type WatchRequest struct {
	WantScreenshot bool
	WatchIndex     int32
	CurrentIndex   int32
	Player         string
}

// LatestIndex asks for the newest screenshot of the watched player.
const LatestIndex = -1

func (w WatchRequest) Encode() []byte {
	return NewBuilder(32).
		WriteBool(w.WantScreenshot).
		WriteInt32(w.WatchIndex).
		WriteInt32(w.CurrentIndex).
		WriteTrailingString(w.Player).
		Build()
}

func DecodeWatchRequest(payload []byte) (WatchRequest, error) {
	if len(payload) < 9 {
		return WatchRequest{}, fmt.Errorf("%w: watch request needs 9 bytes, got %d", ErrShortPayload, len(payload))
	}
	d := NewDecoder(payload)
	var w WatchRequest
	w.WantScreenshot, _ = d.ReadBool()
	w.WatchIndex, _ = d.ReadInt32()
	w.CurrentIndex, _ = d.ReadInt32()
	w.Player = d.RestString()
	return w, nil
}

// Screenshot is a shared image with its owner and per-owner index.
// Image bytes are opaque.
type Screenshot struct {
	Index       int32
	Player      string
	Description string
	Image       []byte
}

func (s Screenshot) Encode() []byte {
	return NewBuilder(16 + len(s.Image)).
		WriteInt32(s.Index).
		WriteString(s.Player).
		WriteString(s.Description).
		WriteBytes(s.Image).
		Build()
}

func DecodeScreenshot(payload []byte) (Screenshot, error) {
	var (
		s   Screenshot
		err error
	)
	d := NewDecoder(payload)
	if s.Index, err = d.ReadInt32(); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot index: %w", err)
	}
	if s.Player, err = d.ReadString(); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot player: %w", err)
	}
	if s.Description, err = d.ReadString(); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot description: %w", err)
	}
	s.Image = d.Rest()
	return s, nil
}

// PluginData is sent by the game plugin to describe the local player.
type PluginData struct {
	InFlight bool
	Title    string
}

func (p PluginData) Encode() []byte {
	return NewBuilder(32).WriteBool(p.InFlight).WriteString(p.Title).Build()
}

func DecodePluginData(payload []byte) (PluginData, error) {
	var (
		p   PluginData
		err error
	)
	d := NewDecoder(payload)
	if p.InFlight, err = d.ReadBool(); err != nil {
		return PluginData{}, fmt.Errorf("decode plugin data: %w", err)
	}
	if p.Title, err = d.ReadString(); err != nil {
		return PluginData{}, fmt.Errorf("decode plugin data title: %w", err)
	}
	return p, nil
}

// WatchUpdate is the plugin's ScreenshotWatchUpdate payload.
type WatchUpdate struct {
	Index   int32
	Current int32
	Player  string
}

func (w WatchUpdate) Encode() []byte {
	return NewBuilder(32).
		WriteInt32(w.Index).
		WriteInt32(w.Current).
		WriteTrailingString(w.Player).
		Build()
}

func DecodeWatchUpdate(payload []byte) (WatchUpdate, error) {
	var (
		w   WatchUpdate
		err error
	)
	d := NewDecoder(payload)
	if w.Index, err = d.ReadInt32(); err != nil {
		return WatchUpdate{}, fmt.Errorf("decode watch update index: %w", err)
	}
	if w.Current, err = d.ReadInt32(); err != nil {
		return WatchUpdate{}, fmt.Errorf("decode watch update current: %w", err)
	}
	w.Player = d.RestString()
	return w, nil
}

// ClientData is handed to the game plugin whenever settings change.
type ClientData struct {
	InactiveShips    byte
	ScreenshotHeight int32
	UpdateInterval   int32
	Username         string
}

func (c ClientData) Encode() []byte {
	return NewBuilder(32).
		WriteUint8(c.InactiveShips).
		WriteInt32(c.ScreenshotHeight).
		WriteInt32(c.UpdateInterval).
		WriteTrailingString(c.Username).
		Build()
}

func DecodeClientData(payload []byte) (ClientData, error) {
	var (
		c   ClientData
		err error
	)
	d := NewDecoder(payload)
	if c.InactiveShips, err = d.ReadByte(); err != nil {
		return ClientData{}, fmt.Errorf("decode client data: %w", err)
	}
	if c.ScreenshotHeight, err = d.ReadInt32(); err != nil {
		return ClientData{}, fmt.Errorf("decode client data: %w", err)
	}
	if c.UpdateInterval, err = d.ReadInt32(); err != nil {
		return ClientData{}, fmt.Errorf("decode client data: %w", err)
	}
	c.Username = d.RestString()
	return c, nil
}
