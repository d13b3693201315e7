package progress

import "sync"

// Tracker enforces monotonically non-decreasing progress for one job run.
// Stages may report overlapping values when the service replays an event;
// the tracker clamps any regression to the highest value seen so far.
type Tracker struct {
	mu   sync.Mutex
	last int
}

// NewTracker starts a tracker at zero.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe returns percent adjusted so it never goes below a previously
// observed value, and remembers the result.
func (t *Tracker) Observe(percent int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent < t.last {
		return t.last
	}
	t.last = percent
	return percent
}

// Last returns the highest percentage observed so far.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Reset drops the floor back to zero for an explicit retry restart.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = 0
}
