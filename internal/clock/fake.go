package clock

import "time"

// FakeClock is a Clock pinned to an instant tests move by hand.
// It is not safe for concurrent use.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(at time.Time) *FakeClock {
	return &FakeClock{current: at.UTC()}
}

func (f *FakeClock) Now() time.Time { return f.current }

// Advance moves the clock forward (or backward, with a negative d).
func (f *FakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

// Set pins the clock to an exact instant.
func (f *FakeClock) Set(at time.Time) {
	f.current = at.UTC()
}
