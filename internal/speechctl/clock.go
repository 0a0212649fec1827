package speechctl

import "time"

// Clock creates timers. The controller owns three independent timers
// (debounce, restart, resume); injecting the clock lets tests drive them on
// virtual time instead of sleeping.
type Clock interface {
	// AfterFunc arms a timer that calls f in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable pending call.
type Timer interface {
	// Stop cancels the timer. Reports whether it was still pending.
	Stop() bool
}

// realClock is the production Clock backed by the time package.
type realClock struct{}

var _ Clock = realClock{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
