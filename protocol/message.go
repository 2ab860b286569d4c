package protocol

// MessageID is implemented by every id space carried in a frame header.
type MessageID interface {
	~int32
}

// ClientMessageID identifies messages sent by a client to the server, over TCP or UDP.
// Values are wire ordinals: never reorder.
type ClientMessageID int32

const (
	ClientHandshake ClientMessageID = iota
	ClientPrimaryPluginUpdate
	ClientSecondaryPluginUpdate
	ClientTextMessage
	ClientScreenWatchPlayer
	ClientScreenshotShare
	ClientKeepAlive
	ClientConnectionEnd
	ClientUdpProbe
	ClientNull
	ClientShareCraftFile
	ClientActivityUpdateInGame
	ClientActivityUpdateInFlight
	ClientPing
)

var clientMessageNames = [...]string{
	ClientHandshake:              "handshake",
	ClientPrimaryPluginUpdate:    "primary_plugin_update",
	ClientSecondaryPluginUpdate:  "secondary_plugin_update",
	ClientTextMessage:            "text_message",
	ClientScreenWatchPlayer:      "screen_watch_player",
	ClientScreenshotShare:        "screenshot_share",
	ClientKeepAlive:              "keep_alive",
	ClientConnectionEnd:          "connection_end",
	ClientUdpProbe:               "udp_probe",
	ClientNull:                   "null",
	ClientShareCraftFile:         "share_craft_file",
	ClientActivityUpdateInGame:   "activity_update_in_game",
	ClientActivityUpdateInFlight: "activity_update_in_flight",
	ClientPing:                   "ping",
}

// ParseClientMessageID maps a raw header id to ClientMessageID, falling back to ClientNull.
func ParseClientMessageID(raw int32) ClientMessageID {
	if raw < 0 || int(raw) >= len(clientMessageNames) {
		return ClientNull
	}
	return ClientMessageID(raw)
}

func (id ClientMessageID) String() string {
	if id < 0 || int(id) >= len(clientMessageNames) {
		return "unknown"
	}
	return clientMessageNames[id]
}

// ServerMessageID identifies messages sent by the server to a client over TCP.
type ServerMessageID int32

const (
	ServerHandshake ServerMessageID = iota
	ServerHandshakeRefusal
	ServerMessage
	ServerTextMessage
	ServerPluginUpdate
	ServerSettings
	ServerScreenshotShare
	ServerKeepalive
	ServerConnectionEnd
	ServerUdpAcknowledge
	ServerNull
	ServerCraftFile
	ServerPingReply
)

var serverMessageNames = [...]string{
	ServerHandshake:        "handshake",
	ServerHandshakeRefusal: "handshake_refusal",
	ServerMessage:          "server_message",
	ServerTextMessage:      "text_message",
	ServerPluginUpdate:     "plugin_update",
	ServerSettings:         "server_settings",
	ServerScreenshotShare:  "screenshot_share",
	ServerKeepalive:        "keepalive",
	ServerConnectionEnd:    "connection_end",
	ServerUdpAcknowledge:   "udp_acknowledge",
	ServerNull:             "null",
	ServerCraftFile:        "craft_file",
	ServerPingReply:        "ping_reply",
}

// ParseServerMessageID maps a raw header id to ServerMessageID, falling back to ServerNull.
func ParseServerMessageID(raw int32) ServerMessageID {
	if raw < 0 || int(raw) >= len(serverMessageNames) {
		return ServerNull
	}
	return ServerMessageID(raw)
}

func (id ServerMessageID) String() string {
	if id < 0 || int(id) >= len(serverMessageNames) {
		return "unknown"
	}
	return serverMessageNames[id]
}

// ClientInteropMessageID identifies messages the relay client hands to the game plugin.
type ClientInteropMessageID int32

const (
	ClientInteropNull ClientInteropMessageID = iota
	ClientInteropClientData
	ClientInteropScreenshotReceive
	ClientInteropChatReceive
	ClientInteropPluginUpdate
)

var clientInteropNames = [...]string{
	ClientInteropNull:              "null",
	ClientInteropClientData:        "client_data",
	ClientInteropScreenshotReceive: "screenshot_receive",
	ClientInteropChatReceive:       "chat_receive",
	ClientInteropPluginUpdate:      "plugin_update",
}

// ParseClientInteropMessageID maps a raw id, falling back to ClientInteropNull.
func ParseClientInteropMessageID(raw int32) ClientInteropMessageID {
	if raw < 0 || int(raw) >= len(clientInteropNames) {
		return ClientInteropNull
	}
	return ClientInteropMessageID(raw)
}

func (id ClientInteropMessageID) String() string {
	if id < 0 || int(id) >= len(clientInteropNames) {
		return "unknown"
	}
	return clientInteropNames[id]
}

// PluginInteropMessageID identifies messages the game plugin hands to the relay client.
type PluginInteropMessageID int32

const (
	PluginInteropNull PluginInteropMessageID = iota
	PluginInteropPluginData
	PluginInteropScreenshotShare
	PluginInteropChatSend
	PluginInteropPrimaryPluginUpdate
	PluginInteropSecondaryPluginUpdate
	PluginInteropScreenshotWatchUpdate
)

var pluginInteropNames = [...]string{
	PluginInteropNull:                  "null",
	PluginInteropPluginData:            "plugin_data",
	PluginInteropScreenshotShare:       "screenshot_share",
	PluginInteropChatSend:              "chat_send",
	PluginInteropPrimaryPluginUpdate:   "primary_plugin_update",
	PluginInteropSecondaryPluginUpdate: "secondary_plugin_update",
	PluginInteropScreenshotWatchUpdate: "screenshot_watch_update",
}

// ParsePluginInteropMessageID maps a raw id, falling back to PluginInteropNull.
func ParsePluginInteropMessageID(raw int32) PluginInteropMessageID {
	if raw < 0 || int(raw) >= len(pluginInteropNames) {
		return PluginInteropNull
	}
	return PluginInteropMessageID(raw)
}

func (id PluginInteropMessageID) String() string {
	if id < 0 || int(id) >= len(pluginInteropNames) {
		return "unknown"
	}
	return pluginInteropNames[id]
}
