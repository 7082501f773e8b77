// Package lifecycle tracks the process phase so the health endpoint can report draining.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle stage.
type Phase int32

const (
	Starting Phase = iota
	Serving
	Draining
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. main sets Serving once the listener is up and
// Draining when a shutdown signal arrives.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == Draining
}
