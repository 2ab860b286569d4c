// Package screenshot keeps recent screenshots for retrieval by index.
package screenshot

import (
	"sync"

	"github.com/Mmx233/klf/protocol"
)

// Ring is a per-owner backlog of screenshots, newest first.
// Indexes are assigned on Push and increase monotonically.
type Ring struct {
	mu       sync.RWMutex
	items    []protocol.Screenshot
	capacity int
}

// NewRing creates a ring holding at most capacity screenshots.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		items:    make([]protocol.Screenshot, 0, capacity),
		capacity: capacity,
	}
}

// Push stores s with index 1 + the current newest index (0 when empty),
// evicting the oldest entry at capacity. It returns the stored screenshot.
func (r *Ring) Push(s protocol.Screenshot) protocol.Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Index = r.lastIndexLocked() + 1
	if len(r.items) == r.capacity {
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append(r.items, protocol.Screenshot{})
	copy(r.items[1:], r.items)
	r.items[0] = s
	return s
}

// Get returns the screenshot with the given index.
func (r *Ring) Get(index int32) (protocol.Screenshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.items {
		if s.Index == index {
			return s, true
		}
	}
	return protocol.Screenshot{}, false
}

// Latest returns the newest screenshot.
func (r *Ring) Latest() (protocol.Screenshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		return protocol.Screenshot{}, false
	}
	return r.items[0], true
}

// Lookup resolves a watch index: protocol.LatestIndex selects the newest.
func (r *Ring) Lookup(index int32) (protocol.Screenshot, bool) {
	if index == protocol.LatestIndex {
		return r.Latest()
	}
	return r.Get(index)
}

// LastIndex returns the newest index, or -1 when empty.
func (r *Ring) LastIndex() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastIndexLocked()
}

// FirstIndex returns the oldest retained index, or -1 when empty.
func (r *Ring) FirstIndex() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.items) == 0 {
		return -1
	}
	return r.items[len(r.items)-1].Index
}

// Len returns the number of stored screenshots.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Ring) lastIndexLocked() int32 {
	if len(r.items) == 0 {
		return -1
	}
	return r.items[0].Index
}
