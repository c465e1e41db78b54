package escalation

import "time"

// Clock abstracts wall time and timer arming so the escalation timeline can
// be driven deterministically in tests. The production implementation wraps
// the time package directly.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a stoppable pending callback. Stop reports whether the callback
// was prevented from running.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewClock returns the wall-clock implementation.
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
