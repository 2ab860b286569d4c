// Package pool holds the fixed set of client slots of a relay server.
// A connection's slot index doubles as its client index on the wire.
package pool

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Slots is an index-addressed arena of at most capacity items.
// Writes take a lock; List serves a cached snapshot without one.
type Slots[T any] struct {
	mu     sync.RWMutex
	items  []*T
	count  int
	logger zerolog.Logger

	// Cached occupied-slot snapshot, rebuilt lazily after Add/Remove.
	cached atomic.Pointer[[]Entry[T]]
}

// Entry pairs an occupied slot with its index.
type Entry[T any] struct {
	Index int
	Item  *T
}

// New creates an arena with capacity slots.
func New[T any](capacity int, logger zerolog.Logger) *Slots[T] {
	return &Slots[T]{
		items:  make([]*T, capacity),
		logger: logger,
	}
}

// Add stores item in the lowest free slot and returns its index.
func (p *Slots[T]) Add(item *T) (int, error) {
	if item == nil {
		return -1, ErrNilItem
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cur := range p.items {
		if cur != nil {
			continue
		}
		p.items[i] = item
		p.count++
		p.cached.Store(nil)

		p.logger.Debug().
			Int("slot", i).
			Int("occupied", p.count).
			Msg("slot acquired")
		return i, nil
	}
	return -1, ErrPoolFull
}

// Remove frees slot index if it still holds item. It reports whether a slot was freed.
func (p *Slots[T]) Remove(index int, item *T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.items) || p.items[index] == nil || p.items[index] != item {
		return false
	}
	p.items[index] = nil
	p.count--
	p.cached.Store(nil)

	p.logger.Debug().
		Int("slot", index).
		Int("occupied", p.count).
		Msg("slot released")
	return true
}

// Get returns the item in slot index.
func (p *Slots[T]) Get(index int) (*T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if index < 0 || index >= len(p.items) || p.items[index] == nil {
		return nil, false
	}
	return p.items[index], true
}

// List returns the occupied slots in index order. The slice must not be modified.
func (p *Slots[T]) List() []Entry[T] {
	if entries := p.cached.Load(); entries != nil {
		return *entries
	}
	return p.rebuild()
}

func (p *Slots[T]) rebuild() []Entry[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have rebuilt while we waited.
	if entries := p.cached.Load(); entries != nil {
		return *entries
	}

	entries := make([]Entry[T], 0, p.count)
	for i, item := range p.items {
		if item != nil {
			entries = append(entries, Entry[T]{Index: i, Item: item})
		}
	}
	p.cached.Store(&entries)
	return entries
}

// Count returns the number of occupied slots.
func (p *Slots[T]) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Capacity returns the total number of slots.
func (p *Slots[T]) Capacity() int {
	return len(p.items)
}

// Errors
var (
	ErrPoolFull = errors.New("no free client slot")
	ErrNilItem  = errors.New("nil slot item")
)
