// Package progress implements the synthetic progress indicator shown while
// a file is being scored. The value is driven by a timer only and says
// nothing about the actual state of the scoring request.
package progress

import (
	"sync"
	"time"
)

// DefaultInterval is the tick period.
const DefaultInterval = 800 * time.Millisecond

// Ceiling is the highest value reached before Complete.
const Ceiling = 95

// State of a tracker.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
)

// Next returns the value after one tick: +10 below 70, +3 below 90 and +1
// after that, never above Ceiling.
func Next(prev int) int {
	inc := 1
	switch {
	case prev < 70:
		inc = 10
	case prev < 90:
		inc = 3
	}
	return min(prev+inc, Ceiling)
}

// Status is a point-in-time read of a tracker.
type Status struct {
	State State `json:"state"`
	Value int   `json:"value"`
}

// Tracker advances a value on a timer while a request is in flight.
type Tracker struct {
	interval time.Duration

	mu    sync.Mutex
	state State
	value int
	stop  chan struct{}
}

// NewTracker returns an idle tracker. interval <= 0 means DefaultInterval.
func NewTracker(interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{interval: interval, state: StateIdle}
}

// Start resets the value to 0 and begins ticking. A running timer is
// replaced.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.state = StateRunning
	t.value = 0
	stop := make(chan struct{})
	t.stop = stop
	go t.run(stop)
}

func (t *Tracker) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !t.tick(stop) {
				return
			}
		}
	}
}

// tick advances once and reports whether the timer should keep going.
func (t *Tracker) tick(stop chan struct{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != stop || t.state != StateRunning {
		return false
	}
	t.value = Next(t.value)
	return t.value < Ceiling
}

// Complete snaps the value to 100 and stops the timer wherever it was.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.state = StateDone
	t.value = 100
}

// Reset stops the timer and returns to idle at 0.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.state = StateIdle
	t.value = 0
}

// Status returns the current state and value.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{State: t.state, Value: t.value}
}

// Value returns the current value.
func (t *Tracker) Value() int {
	return t.Status().Value
}

func (t *Tracker) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}
