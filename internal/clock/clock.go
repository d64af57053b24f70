// Package clock provides the monotonic millisecond time source shared by
// every timer in the control loop. Components never call time.Now
// directly; they receive a reading from a [Clock] once per tick so that
// all gates in a tick compare against the same instant.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock reports milliseconds elapsed on a monotonic timeline. The zero
// point is arbitrary but fixed for the lifetime of the Clock.
type Clock interface {
	NowMillis() uint64
}

// Monotonic is a [Clock] backed by the runtime's monotonic clock. Its
// zero point is the moment it was created, mirroring a device's
// milliseconds-since-boot counter.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Monotonic clock starting at zero now.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// NowMillis returns milliseconds since the clock was created.
func (m *Monotonic) NowMillis() uint64 {
	return uint64(time.Since(m.start).Milliseconds())
}

// Manual is a [Clock] whose time only moves when told to. It is safe
// for concurrent use and intended for tests and replay tooling.
type Manual struct {
	now atomic.Uint64
}

// NewManual returns a Manual clock set to start.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() uint64 {
	return m.now.Load()
}

// Set moves the clock to an absolute time.
func (m *Manual) Set(ms uint64) {
	m.now.Store(ms)
}

// Advance moves the clock forward by d milliseconds and returns the new time.
func (m *Manual) Advance(d uint64) uint64 {
	return m.now.Add(d)
}
