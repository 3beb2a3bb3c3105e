// Package timing accumulates the seconds a student spends on each question.
package timing

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Tracker charges elapsed time to the question that was on screen. Time
// between two navigations goes to the question being left, never the one
// being entered.
type Tracker struct {
	mu      sync.Mutex
	keys    []string
	current int
	last    time.Time
	spent   map[string]int
	now     func() time.Time
}

// New starts tracking on the first of keys. now may be nil.
func New(keys []string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		keys:  keys,
		last:  now(),
		spent: make(map[string]int, len(keys)),
		now:   now,
	}
}

// Current returns the index of the question on screen.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Navigate moves to index, charging the interval to the previous question.
// Navigating to the current question is a no-op.
func (t *Tracker) Navigate(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.keys) {
		return fmt.Errorf("question index %d out of range [0,%d)", index, len(t.keys))
	}
	if index == t.current {
		return nil
	}
	t.charge()
	t.current = index
	return nil
}

// Flush charges the active question up to now and returns a copy of the
// accumulated seconds. Calling it again only adds time elapsed since.
func (t *Tracker) Flush() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.keys) > 0 {
		t.charge()
	}
	return maps.Clone(t.spent)
}

// Snapshot returns the accumulated seconds without charging the active question.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.spent)
}

// charge adds whole elapsed seconds to the current question. Fractions are
// dropped per interval. Callers hold mu.
func (t *Tracker) charge() {
	now := t.now()
	elapsed := int(now.Sub(t.last) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	t.spent[t.keys[t.current]] += elapsed
	t.last = now
}
