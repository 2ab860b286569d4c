package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire format: [4 bytes id][4 bytes length][payload], little-endian.

const (
	// HeaderSize is the size of every frame header.
	HeaderSize = 8

	// MaxPayloadSize bounds a single declared payload length.
	MaxPayloadSize = 16 * 1024 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
	ErrShortPayload  = errors.New("payload too short")
)

// EncodeHeader encodes a frame header.
func EncodeHeader(id, length int32) [HeaderSize]byte {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(id))
	binary.LittleEndian.PutUint32(header[4:8], uint32(length))
	return header
}

// DecodeHeader decodes a frame header into its raw id and declared length.
func DecodeHeader(header [HeaderSize]byte) (id, length int32) {
	id = int32(binary.LittleEndian.Uint32(header[0:4]))
	length = int32(binary.LittleEndian.Uint32(header[4:8]))
	return id, length
}

// EncodeMessage returns header ++ payload as a new slice.
func EncodeMessage[T MessageID](id T, payload []byte) []byte {
	msg := make([]byte, HeaderSize+len(payload))
	header := EncodeHeader(int32(id), int32(len(payload)))
	copy(msg, header[:])
	copy(msg[HeaderSize:], payload)
	return msg
}

// WriteMessage writes a framed message to w in a single write using a pooled buffer.
func WriteMessage[T MessageID](w io.Writer, id T, payload []byte) error {
	buf := GetBufferWithSize(HeaderSize + len(payload))
	defer PutBuffer(buf)

	header := EncodeHeader(int32(id), int32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from a blocking reader.
func ReadMessage(r io.Reader) (id int32, payload []byte, err error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	id, length := DecodeHeader(header)
	if length <= 0 {
		return id, []byte{}, nil
	}
	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}
	return id, payload, nil
}
