package protocol

import "fmt"

// Frame is one complete message cut from a byte stream.
type Frame struct {
	ID      int32
	Payload []byte
}

// FrameReader turns an arbitrarily chunked byte stream into complete frames.
// It performs no I/O and must be owned by a single connection.
type FrameReader struct {
	header     [HeaderSize]byte
	headerFill int

	id          int32
	payload     []byte
	payloadFill int
	inPayload   bool

	err error
}

// Feed consumes chunk and returns every frame completed by it, in stream order.
// Partial headers and payloads are kept until a later call completes them.
// Once a declared length exceeds MaxPayloadSize the reader is poisoned and every
// subsequent call returns the same error.
func (r *FrameReader) Feed(chunk []byte) ([]Frame, error) {
	if r.err != nil {
		return nil, r.err
	}

	var frames []Frame
	for len(chunk) > 0 {
		if !r.inPayload {
			n := copy(r.header[r.headerFill:], chunk)
			r.headerFill += n
			chunk = chunk[n:]
			if r.headerFill < HeaderSize {
				break
			}

			id, length := DecodeHeader(r.header)
			r.headerFill = 0
			if length <= 0 {
				frames = append(frames, Frame{ID: id, Payload: []byte{}})
				continue
			}
			if length > MaxPayloadSize {
				r.err = fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
				return frames, r.err
			}

			r.id = id
			r.payload = make([]byte, length)
			r.payloadFill = 0
			r.inPayload = true
			continue
		}

		n := copy(r.payload[r.payloadFill:], chunk)
		r.payloadFill += n
		chunk = chunk[n:]
		if r.payloadFill == len(r.payload) {
			frames = append(frames, Frame{ID: r.id, Payload: r.payload})
			r.payload = nil
			r.payloadFill = 0
			r.inPayload = false
		}
	}

	return frames, nil
}

// Pending reports whether a partially received frame is buffered.
func (r *FrameReader) Pending() bool {
	return r.headerFill > 0 || r.inPayload
}
