package screenshot

import (
	"sync"

	"github.com/Mmx233/klf/protocol"
)

// DefaultPeerCacheSize is how many screenshots of other players a client keeps.
const DefaultPeerCacheSize = 8

// PeerCache keeps screenshots received from other players, keyed by
// (index, player). Indexes are trusted as received. A successful Get moves the
// entry to the newest position so a watched screenshot survives longer.
type PeerCache struct {
	mu       sync.Mutex
	items    []protocol.Screenshot // oldest first
	capacity int
}

// NewPeerCache creates a cache of the given capacity.
func NewPeerCache(capacity int) *PeerCache {
	if capacity < 1 {
		capacity = DefaultPeerCacheSize
	}
	return &PeerCache{capacity: capacity}
}

// Put stores s unless an entry with the same index and player is already cached.
func (c *PeerCache) Put(s protocol.Screenshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.findLocked(s.Index, s.Player) >= 0 {
		return
	}
	c.items = append(c.items, s)
	for len(c.items) > c.capacity {
		c.items[0] = protocol.Screenshot{}
		c.items = c.items[1:]
	}
}

// Get returns the cached screenshot and promotes it to newest.
func (c *PeerCache) Get(index int32, player string) (protocol.Screenshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.findLocked(index, player)
	if i < 0 {
		return protocol.Screenshot{}, false
	}
	s := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.items = append(c.items, s)
	return s, true
}

// Len returns the number of cached screenshots.
func (c *PeerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *PeerCache) findLocked(index int32, player string) int {
	for i, s := range c.items {
		if s.Index == index && s.Player == player {
			return i
		}
	}
	return -1
}
