// Package throttle implements per-source flood control for chat messages and
// screenshot shares.
package throttle

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSavedStates is how many disconnected sources keep their counters.
const DefaultSavedStates = 16

// DefaultInterval is the counting window for both guarded actions.
const DefaultInterval = 60 * time.Second

// Policy configures one guarded action.
type Policy struct {
	Limit    int
	Interval time.Duration
	Duration time.Duration
}

// Counter is the sliding-window state of one guarded action.
type Counter struct {
	Count       int
	WindowStart time.Time
	Until       time.Time
}

// Throttled reports whether the action is suppressed at now.
func (c *Counter) Throttled(now time.Time) bool {
	return now.Before(c.Until)
}

// Increment records one action and reports whether the source is throttled afterwards.
// Actions attempted while throttled are counted too, so continued abuse extends the penalty.
func (c *Counter) Increment(now time.Time, p Policy) bool {
	if now.Sub(c.WindowStart) > p.Interval {
		c.Count = 0
		c.WindowStart = now
	}
	c.Count++
	if c.Count >= p.Limit {
		c.Until = now.Add(p.Duration)
	}
	return c.Throttled(now)
}

// State holds both counters of a source.
type State struct {
	Messages    Counter
	Screenshots Counter
}

// Tracker guards the actions of one connected source.
type Tracker struct {
	mu         sync.Mutex
	state      State
	message    Policy
	screenshot Policy
}

// MessagesThrottled reports whether chat from this source is suppressed.
func (t *Tracker) MessagesThrottled(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Messages.Throttled(now)
}

// AllowMessage counts one chat action and reports whether it may take effect.
// The action is counted even when it is refused.
func (t *Tracker) AllowMessage(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := !t.state.Messages.Throttled(now)
	t.state.Messages.Increment(now, t.message)
	return allowed
}

// ScreenshotsThrottled reports whether screenshot shares from this source are suppressed.
func (t *Tracker) ScreenshotsThrottled(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Screenshots.Throttled(now)
}

// ScreenshotResult describes the outcome of one counted screenshot share.
type ScreenshotResult struct {
	Allowed bool
	// Restricted is set on the transition into the throttled state.
	Restricted bool
	// Warn is set when the next share in the window will trigger the restriction.
	Warn bool
}

// IncrementScreenshots counts one screenshot share.
func (t *Tracker) IncrementScreenshots(now time.Time) ScreenshotResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.state.Screenshots.Throttled(now)
	is := t.state.Screenshots.Increment(now, t.screenshot)
	return ScreenshotResult{
		Allowed:    !was,
		Restricted: !was && is,
		Warn:       !is && t.state.Screenshots.Count == t.screenshot.Limit-1,
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Guard owns the policies and the saved states of recently disconnected sources.
type Guard struct {
	message    Policy
	screenshot Policy
	saved      *lru.Cache[string, State]
}

// NewGuard creates a Guard remembering up to savedStates disconnected sources.
func NewGuard(message, screenshot Policy, savedStates int) (*Guard, error) {
	if savedStates <= 0 {
		savedStates = DefaultSavedStates
	}
	saved, err := lru.New[string, State](savedStates)
	if err != nil {
		return nil, fmt.Errorf("create saved throttle states: %w", err)
	}
	return &Guard{
		message:    message,
		screenshot: screenshot,
		saved:      saved,
	}, nil
}

// Restore returns a tracker for source, carrying over any saved state.
func (g *Guard) Restore(source string) *Tracker {
	t := &Tracker{message: g.message, screenshot: g.screenshot}
	if state, ok := g.saved.Get(source); ok {
		g.saved.Remove(source)
		t.state = state
	}
	return t
}

// Save remembers the tracker's counters for source, evicting the least recently saved source when full.
func (g *Guard) Save(source string, t *Tracker) {
	if t == nil {
		return
	}
	g.saved.Add(source, t.Snapshot())
}

// Saved returns the number of remembered sources.
func (g *Guard) Saved() int {
	return g.saved.Len()
}
