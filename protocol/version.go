package protocol

const (
	// Version is the wire protocol version exchanged at handshake.
	Version int32 = 9

	// ProgramVersion is the human readable release string sent with the handshake.
	ProgramVersion = "0.8.0"

	// FileFormatVersion prefixes every interop file.
	FileFormatVersion int32 = 8
)
