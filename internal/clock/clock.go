// Package clock supplies time to every service through an interface so
// tests can control it instead of racing the OS clock.
package clock

import "time"

// Clock is the only sanctioned source of "now" for the core services.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Frozen returns a fixed instant, for tests that need determinism.
type Frozen struct {
	At time.Time
}

func (f Frozen) Now() time.Time { return f.At }
