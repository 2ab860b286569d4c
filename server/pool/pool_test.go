package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"
)

type conn struct {
	name string
}

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

// TestSlots_AddRemove tests slot allocation and release
func TestSlots_AddRemove(t *testing.T) {
	p := New[conn](2, newTestLogger())

	a, b, c := &conn{"a"}, &conn{"b"}, &conn{"c"}

	ia, err := p.Add(a)
	if err != nil || ia != 0 {
		t.Fatalf("expected slot 0, got %d (%v)", ia, err)
	}
	ib, err := p.Add(b)
	if err != nil || ib != 1 {
		t.Fatalf("expected slot 1, got %d (%v)", ib, err)
	}

	if _, err := p.Add(c); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}

	if !p.Remove(ia, a) {
		t.Fatal("expected slot 0 to be released")
	}
	if p.Remove(ia, a) {
		t.Error("second remove must be a no-op")
	}

	// The lowest free slot is reused
	ic, err := p.Add(c)
	if err != nil || ic != 0 {
		t.Fatalf("expected reused slot 0, got %d (%v)", ic, err)
	}
	if p.Count() != 2 {
		t.Errorf("expected 2 occupied slots, got %d", p.Count())
	}
}

// TestSlots_RemoveChecksOwner ensures a stale owner cannot free a reused slot
func TestSlots_RemoveChecksOwner(t *testing.T) {
	p := New[conn](1, newTestLogger())
	old, fresh := &conn{"old"}, &conn{"fresh"}

	i, _ := p.Add(old)
	p.Remove(i, old)
	i2, _ := p.Add(fresh)

	if p.Remove(i2, old) {
		t.Fatal("stale owner freed a reused slot")
	}
	got, ok := p.Get(i2)
	if !ok || got != fresh {
		t.Fatal("slot lost its current owner")
	}
}

func TestSlots_GetOutOfRange(t *testing.T) {
	p := New[conn](1, newTestLogger())
	for _, idx := range []int{-1, 0, 1, 100} {
		if _, ok := p.Get(idx); ok {
			t.Errorf("expected no item at %d", idx)
		}
	}
	if _, err := p.Add(nil); !errors.Is(err, ErrNilItem) {
		t.Errorf("expected ErrNilItem, got %v", err)
	}
}

func TestSlots_ListIsOrderedAndCached(t *testing.T) {
	p := New[conn](4, newTestLogger())
	items := []*conn{{"a"}, {"b"}, {"c"}}
	for _, c := range items {
		if _, err := p.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	p.Remove(1, items[1])

	list := p.List()
	if len(list) != 2 || list[0].Index != 0 || list[1].Index != 2 {
		t.Fatalf("unexpected list %+v", list)
	}

	// Unchanged arena returns the same snapshot
	again := p.List()
	if &again[0] != &list[0] {
		t.Error("expected cached snapshot")
	}
}

// TestSlots_ConcurrentAccess exercises Add/Remove/List from many goroutines
func TestSlots_ConcurrentAccess(t *testing.T) {
	p := New[conn](16, newTestLogger())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := &conn{}
				idx, err := p.Add(c)
				if err == nil {
					_ = p.List()
					p.Remove(idx, c)
				}
			}
		}()
	}
	wg.Wait()

	if p.Count() != 0 {
		t.Errorf("expected empty arena, got %d", p.Count())
	}
}

// Property 1: Occupancy accounting
// *For any* sequence of adds and removes, Count equals the number of listed
// entries, never exceeds Capacity, and every listed index resolves to its item.
func TestSlotsOccupancy_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		p := New[conn](capacity, zerolog.Nop())
		held := map[int]*conn{}

		ops := rapid.SliceOfN(rapid.Bool(), 1, 100).Draw(t, "ops")
		for step, add := range ops {
			if add || len(held) == 0 {
				c := &conn{}
				idx, err := p.Add(c)
				if len(held) == capacity {
					if !errors.Is(err, ErrPoolFull) {
						t.Fatalf("step %d: expected full arena", step)
					}
					continue
				}
				if err != nil {
					t.Fatalf("step %d: unexpected error %v", step, err)
				}
				for i := 0; i < idx; i++ {
					if _, ok := held[i]; !ok {
						t.Fatalf("step %d: slot %d was free but %d was chosen", step, i, idx)
					}
				}
				held[idx] = c
				continue
			}
			for idx, c := range held {
				p.Remove(idx, c)
				delete(held, idx)
				break
			}
		}

		list := p.List()
		if p.Count() != len(held) || len(list) != len(held) {
			t.Fatalf("count %d, list %d, held %d", p.Count(), len(list), len(held))
		}
		for _, e := range list {
			if held[e.Index] != e.Item {
				t.Fatalf("slot %d holds the wrong item", e.Index)
			}
		}
	})
}
