package clock

import "time"

// Clock abstracts wall time so ledger periods and queue windows can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
