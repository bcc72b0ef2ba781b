// ABOUTME: Affine headset-to-server clock mapping
// ABOUTME: Immutable value handed out by the estimator
package sync

import (
	"fmt"
	"math"
)

// ClockOffset maps headset time to server time: server = A*headset + B.
// The zero value is the uncalibrated identity mapping.
type ClockOffset struct {
	A          float64 // drift scale
	B          int64   // offset in nanoseconds
	Calibrated bool
}

// Identity returns the uncalibrated offset (A=1, B=0)
func Identity() ClockOffset {
	return ClockOffset{A: 1}
}

// Valid reports whether the offset comes from at least one probe
func (o ClockOffset) Valid() bool {
	return o.Calibrated
}

// scale returns A, treating an unset zero value as 1
func (o ClockOffset) scale() float64 {
	if o.A == 0 {
		return 1
	}
	return o.A
}

// FromHeadset converts a headset timestamp (ns) to server time (ns)
func (o ClockOffset) FromHeadset(headsetNs int64) int64 {
	// Split A into 1 + (A-1) so the integer part of the timestamp never
	// goes through float64.
	return headsetNs + int64(math.Round((o.scale()-1)*float64(headsetNs))) + o.B
}

// ToHeadset converts a server timestamp (ns) to headset time (ns)
func (o ClockOffset) ToHeadset(serverNs int64) int64 {
	a := o.scale()
	d := serverNs - o.B
	return d - int64(math.Round(float64(d)*(a-1)/a))
}

func (o ClockOffset) String() string {
	if !o.Calibrated {
		return "uncalibrated"
	}
	return fmt.Sprintf("a=%.9f b=%dns", o.A, o.B)
}
