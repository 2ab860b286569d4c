package protocol

import (
	"golang.org/x/text/encoding/unicode"
)

// Strings travel as UTF-16LE without a BOM.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeString converts s to UTF-16LE bytes.
func EncodeString(s string) []byte {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte{}
	}
	return b
}

// DecodeString converts UTF-16LE bytes to a Go string.
// A trailing odd byte decodes to the replacement character.
func DecodeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}
