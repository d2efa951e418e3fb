package reconnect

import "time"

// Timer is a pending scheduled callback
type Timer interface {
	// Stop the timer, returns false if it already fired or was stopped
	Stop() bool
}

// Scheduler runs f after d. Real code uses the wall clock, tests may
// inject something they can drive by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

// WallClock scheduler, backed by time.AfterFunc
func WallClock() Scheduler {
	return wallClock{}
}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
