package clock

import "time"

// Clock abstracts time operations for testability. The closing-time gate on
// bids and sweeps is always evaluated against the authoritative server
// clock, never a client-supplied timestamp, so every component takes a Clock.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Advanced returns a copy of the mock shifted forward by d.
func (m Mock) Advanced(d time.Duration) Mock {
	return Mock{T: m.T.Add(d)}
}
