package combobox

import "time"

type stopper interface {
	Stop() bool
}

// scheduler runs f once after d. Tests swap in a manual clock.
type scheduler interface {
	AfterFunc(d time.Duration, f func()) stopper
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}
