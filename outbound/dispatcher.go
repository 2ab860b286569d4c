// Package outbound coalesces queued messages into as few transport writes as possible.
package outbound

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// SendBufferSize is the largest batch written in one call.
const SendBufferSize = 8192

// Dispatcher holds the outgoing queue of one connection.
// Enqueue may be called from any goroutine; Flush calls are serialized.
type Dispatcher struct {
	w io.Writer

	mu    sync.Mutex
	queue [][]byte

	writeMu sync.Mutex
	buf     []byte

	writes atomic.Uint64
	bytes  atomic.Uint64
}

// New creates a Dispatcher writing to w.
func New(w io.Writer) *Dispatcher {
	return &Dispatcher{
		w:   w,
		buf: make([]byte, 0, SendBufferSize),
	}
}

// Enqueue appends a pre-encoded message. The dispatcher takes ownership of msg.
func (d *Dispatcher) Enqueue(msg []byte) {
	if len(msg) == 0 {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, msg)
	d.mu.Unlock()
}

// Flush drains the queue into the writer. Messages are concatenated while they
// fit in SendBufferSize; a message that does not fit first flushes the pending
// batch, and a message larger than the buffer is written on its own.
// On a write error the rest of the drained queue is discarded.
func (d *Dispatcher) Flush() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	buf := d.buf[:0]
	for _, msg := range pending {
		if len(buf)+len(msg) <= SendBufferSize {
			buf = append(buf, msg...)
			continue
		}
		if len(buf) > 0 {
			if err := d.write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
		if len(msg) > SendBufferSize {
			if err := d.write(msg); err != nil {
				return err
			}
			continue
		}
		buf = append(buf, msg...)
	}
	if len(buf) > 0 {
		return d.write(buf)
	}
	return nil
}

// Discard drops everything still queued.
func (d *Dispatcher) Discard() {
	d.mu.Lock()
	d.queue = nil
	d.mu.Unlock()
}

// Writes returns the number of transport writes performed.
func (d *Dispatcher) Writes() uint64 {
	return d.writes.Load()
}

// BytesWritten returns the number of bytes handed to the transport.
func (d *Dispatcher) BytesWritten() uint64 {
	return d.bytes.Load()
}

func (d *Dispatcher) write(p []byte) error {
	n, err := d.w.Write(p)
	d.writes.Add(1)
	d.bytes.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("flush %d bytes: %w", len(p), err)
	}
	return nil
}
