// ABOUTME: Emulated headset clock
// ABOUTME: Local monotonic time with a configurable offset and rate error
package headset

import (
	"time"

	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
)

// Clock runs at (1 + drift) times the local monotonic rate, shifted by skew
type Clock struct {
	skew  int64
	drift float64
	local func() int64
}

// NewClock creates a headset clock; driftPPM is in parts per million
func NewClock(skew time.Duration, driftPPM float64) *Clock {
	return &Clock{
		skew:  int64(skew),
		drift: driftPPM * 1e-6,
		local: xrsync.ServerNanos,
	}
}

// Now returns headset time in nanoseconds
func (c *Clock) Now() int64 {
	return c.At(c.local())
}

// At returns the headset time matching a local monotonic instant
func (c *Clock) At(local int64) int64 {
	return local + int64(c.drift*float64(local)) + c.skew
}
