package live

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Reconnects are scheduled through it so
// callers can substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallClock schedules on real time.
var WallClock Scheduler = wallScheduler{}

// Backoff returns the delay before reconnect attempt n (1-based):
// base·2^n, capped at ceiling.
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
