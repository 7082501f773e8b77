// Package traffic keeps a sliding window of forecast API outcomes. The health
// endpoint reads it to decide whether the service is degraded.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a completed forecast API request.
type Outcome int

const (
	// Success is a 2xx response, including a 404 for an unknown city.
	Success Outcome = iota
	// Failure is an upstream or internal error.
	Failure
	// Denied is a rate-limit rejection. Denials do not count toward the error rate.
	Denied
)

// DefaultRetention is how long outcomes are kept when NewTracker is given zero.
const DefaultRetention = 5 * time.Minute

// Counts summarises the outcomes inside a window.
type Counts struct {
	Success int
	Failure int
	Denied  int
}

// Total returns every outcome in the window, denials included.
func (c Counts) Total() int {
	return c.Success + c.Failure + c.Denied
}

// ErrorRate returns Failure / (Success + Failure), or 0 with no served requests.
func (c Counts) ErrorRate() float64 {
	served := c.Success + c.Failure
	if served == 0 {
		return 0
	}
	return float64(c.Failure) / float64(served)
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker records outcomes in arrival order. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	events    []event
	retention time.Duration
	now       func() time.Time
}

func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// Record appends an outcome and drops events older than the retention period.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Counts returns the outcomes recorded within window of now.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var c Counts
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].outcome {
		case Success:
			c.Success++
		case Failure:
			c.Failure++
		case Denied:
			c.Denied++
		}
	}
	return c
}

// Degraded reports whether the error rate in window is at or above threshold (0..1),
// once at least minRequests have been served.
func (t *Tracker) Degraded(window time.Duration, threshold float64, minRequests int) bool {
	c := t.Counts(window)
	if c.Success+c.Failure < minRequests || c.Success+c.Failure == 0 {
		return false
	}
	return c.ErrorRate() >= threshold
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
