package services

import "time"

// TimerHandle is a pending callback that can be cancelled before it fires
type TimerHandle interface {
	// Cancel stops the timer. It reports false if the callback already
	// fired or the timer was already cancelled.
	Cancel() bool
}

// TimerFactory schedules fn to run once after d. Tests substitute a manual
// implementation so debounce behavior can be driven deterministically.
type TimerFactory func(d time.Duration, fn func()) TimerHandle

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Cancel() bool {
	return r.t.Stop()
}

// AfterFunc is the default TimerFactory backed by time.AfterFunc
func AfterFunc(d time.Duration, fn func()) TimerHandle {
	return &realTimer{t: time.AfterFunc(d, fn)}
}
