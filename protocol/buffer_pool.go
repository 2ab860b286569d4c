package protocol

import (
	"bytes"
	"sync"
)

const (
	// MaxPooledBuffer is the largest buffer capacity returned to the pool.
	MaxPooledBuffer = 1024 * 1024

	// ReadBufferSize fits any UDP datagram and is used for TCP reads as well.
	ReadBufferSize = 65535
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

var readPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufferSize)
		return &buf
	},
}

// GetBuffer retrieves a reset buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// GetBufferWithSize retrieves a buffer and grows it to at least sizeHint.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}

// PutBuffer returns a buffer to the pool.
// Buffers that grew past MaxPooledBuffer (screenshots, crafts) are dropped.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// GetReadBuffer returns a ReadBufferSize byte slice for socket reads.
func GetReadBuffer() *[]byte {
	return readPool.Get().(*[]byte)
}

// PutReadBuffer returns a read buffer to the pool.
func PutReadBuffer(buf *[]byte) {
	if buf == nil || len(*buf) != ReadBufferSize {
		return
	}
	readPool.Put(buf)
}
