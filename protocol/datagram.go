package protocol

import (
	"encoding/binary"
	"fmt"
)

// Datagram format: [4 bytes sender index][frame header][payload].
const (
	DatagramPrefixSize = 4
	MinDatagramSize    = DatagramPrefixSize + HeaderSize
)

// EncodeDatagram prefixes a framed message with the sender's client index.
func EncodeDatagram[T MessageID](sender int32, id T, payload []byte) []byte {
	buf := make([]byte, MinDatagramSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(sender))
	header := EncodeHeader(int32(id), int32(len(payload)))
	copy(buf[DatagramPrefixSize:], header[:])
	copy(buf[MinDatagramSize:], payload)
	return buf
}

// DecodeDatagram splits a datagram into its sender index and frame.
// The returned payload is a copy and safe to keep after the read buffer is reused.
func DecodeDatagram(data []byte) (sender int32, frame Frame, err error) {
	if len(data) < MinDatagramSize {
		return 0, Frame{}, fmt.Errorf("%w: datagram of %d bytes", ErrShortPayload, len(data))
	}
	sender = int32(binary.LittleEndian.Uint32(data[0:4]))

	var header [HeaderSize]byte
	copy(header[:], data[DatagramPrefixSize:MinDatagramSize])
	id, length := DecodeHeader(header)

	body := data[MinDatagramSize:]
	if length < 0 {
		length = 0
	}
	if int(length) > len(body) {
		return 0, Frame{}, fmt.Errorf("%w: datagram declares %d bytes, carries %d", ErrShortPayload, length, len(body))
	}

	payload := make([]byte, length)
	copy(payload, body[:length])
	return sender, Frame{ID: id, Payload: payload}, nil
}
