package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Builder assembles little-endian payloads.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder creates a Builder with room for sizeHint bytes.
func NewBuilder(sizeHint int) *Builder {
	b := &Builder{}
	if sizeHint > 0 {
		b.buf.Grow(sizeHint)
	}
	return b
}

// WriteUint8 writes a single byte.
func (b *Builder) WriteUint8(v byte) *Builder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes 1 or 0.
func (b *Builder) WriteBool(v bool) *Builder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteInt32 writes an int32 in little-endian order.
func (b *Builder) WriteInt32(v int32) *Builder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteString writes a UTF-16LE string prefixed with its byte length.
func (b *Builder) WriteString(s string) *Builder {
	data := EncodeString(s)
	b.WriteInt32(int32(len(data)))
	b.buf.Write(data)
	return b
}

// WriteTrailingString writes a UTF-16LE string without a prefix. It must be the last field.
func (b *Builder) WriteTrailingString(s string) *Builder {
	b.buf.Write(EncodeString(s))
	return b
}

// WriteBytes writes raw bytes.
func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// Build returns the assembled payload.
func (b *Builder) Build() []byte {
	return b.buf.Bytes()
}

// Decoder reads little-endian payloads with bounds checks.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.Remaining() < 1 {
		return 0, fmt.Errorf("%w: want 1 byte at offset %d", ErrShortPayload, d.pos)
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// ReadBool reads a byte and reports whether it is non-zero.
func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadByte()
	return v != 0, err
}

// ReadInt32 reads a little-endian int32.
func (d *Decoder) ReadInt32() (int32, error) {
	if d.Remaining() < 4 {
		return 0, fmt.Errorf("%w: want 4 bytes at offset %d", ErrShortPayload, d.pos)
	}
	v := int32(binary.LittleEndian.Uint32(d.buf[d.pos:]))
	d.pos += 4
	return v, nil
}

// ReadBytes reads exactly n bytes. The result aliases the decoder's buffer.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d", ErrShortPayload, n, d.pos)
	}
	v := d.buf[d.pos : d.pos+n]
	d.pos += n
	return v, nil
}

// ReadString reads a length-prefixed UTF-16LE string.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadInt32()
	if err != nil {
		return "", err
	}
	data, err := d.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return DecodeString(data), nil
}

// Rest returns a copy of all unread bytes and consumes them.
func (d *Decoder) Rest() []byte {
	rest := make([]byte, d.Remaining())
	copy(rest, d.buf[d.pos:])
	d.pos = len(d.buf)
	return rest
}

// RestString decodes all unread bytes as a UTF-16LE string.
func (d *Decoder) RestString() string {
	return DecodeString(d.Rest())
}
