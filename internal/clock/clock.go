// internal/clock/clock.go

package clock

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Clock reports monotonic time in nanoseconds.
type Clock interface {
	Now() int64
}

// System reads CLOCK_MONOTONIC, the same base hardware vsync timestamps use.
type System struct{}

func (System) Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	now atomic.Int64
}

// NewManual creates a manual clock starting at start.
func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) Now() int64 { return m.now.Load() }

// Set jumps the clock to t.
func (m *Manual) Set(t int64) { m.now.Store(t) }

// Advance moves the clock forward by d nanoseconds and returns the new time.
func (m *Manual) Advance(d int64) int64 { return m.now.Add(d) }
