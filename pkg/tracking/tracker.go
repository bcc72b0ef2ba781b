// ABOUTME: Per-headset set of history buffers
// ABOUTME: One stream per device, per hand, and for foveation
package tracking

import (
	"fmt"
	"time"

	"github.com/xrstream/xrsync-go/pkg/history"
	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"go.uber.org/zap"
)

// StreamStats names the counters of one stream
type StreamStats struct {
	Name  string
	Stats history.Stats
}

// Tracker holds the tracking history of one headset
type Tracker struct {
	poses     [deviceCount]*history.Buffer[Pose]
	hands     [2]*history.Buffer[HandJoints]
	foveation *history.Buffer[Foveation]
}

// NewTracker creates empty streams for every device, both hands and foveation
func NewTracker(log *zap.Logger, opts ...history.Option) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append([]history.Option{history.WithLogger(log)}, opts...)

	t := &Tracker{}
	for d := Device(0); d < deviceCount; d++ {
		t.poses[d] = history.New[Pose](d.String(), PoseInterpolator{}, opts...)
	}
	for h := range t.hands {
		name := Hand(h).String() + "_hand"
		t.hands[h] = history.New[HandJoints](name, HandInterpolator{}, opts...)
	}
	t.foveation = history.New[Foveation]("foveation", FoveationInterpolator{}, opts...)
	return t
}

func (t *Tracker) pose(d Device) *history.Buffer[Pose] {
	if d < 0 || d >= deviceCount {
		panic(fmt.Sprintf("tracking: invalid device %d", int(d)))
	}
	return t.poses[d]
}

func (t *Tracker) hand(h Hand) *history.Buffer[HandJoints] {
	if h != LeftHand && h != RightHand {
		panic(fmt.Sprintf("tracking: invalid hand %d", int(h)))
	}
	return t.hands[h]
}

// AddPose records a device pose; the result is the stream's active hint
func (t *Tracker) AddPose(d Device, produced, at int64, p Pose, offset xrsync.ClockOffset) bool {
	return t.pose(d).AddSample(produced, at, p, offset)
}

// Pose returns the device pose at server time at
func (t *Tracker) Pose(d Device, at int64) (Pose, time.Duration, bool) {
	ex, p, ok := t.pose(d).GetAt(at)
	return p, ex, ok
}

// AddHand records a hand skeleton
func (t *Tracker) AddHand(h Hand, produced, at int64, joints HandJoints, offset xrsync.ClockOffset) bool {
	return t.hand(h).AddSample(produced, at, joints, offset)
}

// Hand returns the hand skeleton at server time at
func (t *Tracker) Hand(h Hand, at int64) (HandJoints, time.Duration, bool) {
	ex, j, ok := t.hand(h).GetAt(at)
	return j, ex, ok
}

// AddFoveation records foveation parameters
func (t *Tracker) AddFoveation(produced, at int64, f Foveation, offset xrsync.ClockOffset) bool {
	return t.foveation.AddSample(produced, at, f, offset)
}

// Foveation returns the foveation parameters at server time at
func (t *Tracker) Foveation(at int64) (Foveation, time.Duration, bool) {
	ex, f, ok := t.foveation.GetAt(at)
	return f, ex, ok
}

// Streams returns the counters of every stream
func (t *Tracker) Streams() []StreamStats {
	streams := make([]StreamStats, 0, len(t.poses)+len(t.hands)+1)
	for _, b := range t.poses {
		streams = append(streams, StreamStats{Name: b.Name(), Stats: b.Stats()})
	}
	for _, b := range t.hands {
		streams = append(streams, StreamStats{Name: b.Name(), Stats: b.Stats()})
	}
	streams = append(streams, StreamStats{Name: t.foveation.Name(), Stats: t.foveation.Stats()})
	return streams
}
