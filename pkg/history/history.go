// ABOUTME: Bounded time-series buffer with interpolation and bounded extrapolation
// ABOUTME: One instance per data stream, timestamps kept on the server timeline
package history

import (
	"math"
	"sync"
	"time"

	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is the number of slots of a buffer
	DefaultCapacity = 10

	// CoalesceWindow merges samples whose target instants are this close
	CoalesceWindow = 2 * time.Millisecond

	// ActiveWindow is how recent the last query must be for a stream to be active
	ActiveWindow = time.Second

	// MaxExtrapolation is the horizon past the newest sample beyond which
	// queries return no data
	MaxExtrapolation = time.Second

	// WarnExtrapolation is the overshoot past the newest sample that gets logged
	WarnExtrapolation = time.Millisecond
)

// Interpolator combines two samples of a payload type. t is the weight of
// before: 1 at before's instant, 0 at after's.
type Interpolator[T any] interface {
	Interpolate(before, after T, t float64) T
}

// InterpolatorFunc adapts a function to Interpolator
type InterpolatorFunc[T any] func(before, after T, t float64) T

// Interpolate calls f(before, after, t)
func (f InterpolatorFunc[T]) Interpolate(before, after T, t float64) T {
	return f(before, after, t)
}

type slot[T any] struct {
	data     T
	produced int64
	at       int64
	occupied bool
}

// Stats counts buffer activity
type Stats struct {
	Inserted  uint64
	Coalesced uint64
	Rejected  uint64
	Queries   uint64
	Misses    uint64
}

// Buffer stores the most relevant recent samples of one stream
type Buffer[T any] struct {
	mu          sync.Mutex
	slots       []slot[T]
	lastRequest int64
	stats       Stats

	name   string
	interp Interpolator[T]
	log    *zap.Logger
	now    func() int64
}

// Option configures a Buffer
type Option func(*options)

type options struct {
	capacity int
	log      *zap.Logger
	now      func() int64
}

// WithCapacity sets the number of slots
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithLogger sets the logger used for extrapolation warnings
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock replaces the server clock used for liveness bookkeeping
func WithClock(now func() int64) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty buffer. It panics on a nil interpolator or a
// capacity below one.
func New[T any](name string, interp Interpolator[T], opts ...Option) *Buffer[T] {
	o := options{
		capacity: DefaultCapacity,
		log:      zap.NewNop(),
		now:      xrsync.ServerNanos,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if interp == nil {
		panic("history: nil interpolator")
	}
	if o.capacity < 1 {
		panic("history: capacity must be at least 1")
	}

	return &Buffer[T]{
		slots:       make([]slot[T], o.capacity),
		lastRequest: o.now(),
		name:        name,
		interp:      interp,
		log:         o.log,
		now:         o.now,
	}
}

// AddSample stores data produced at produced and describing instant at,
// both in headset time, converted with offset. It returns whether the
// stream was queried within ActiveWindow of this production.
//
// With a calibrated offset, a sample older than anything stored is dropped.
func (b *Buffer[T]) AddSample(produced, at int64, data T, offset xrsync.ClockOffset) bool {
	produced = offset.FromHeadset(produced)
	at = offset.FromHeadset(at)

	b.mu.Lock()
	defer b.mu.Unlock()

	active := produced-b.lastRequest < int64(ActiveWindow)

	target := 0
	if offset.Valid() {
		for i := range b.slots {
			if b.slots[i].occupied && b.slots[i].produced > produced {
				b.stats.Rejected++
				return active
			}
		}

		target = -1
		for i := range b.slots {
			if b.slots[i].occupied && abs(b.slots[i].at-at) < int64(CoalesceWindow) {
				target = i
				b.stats.Coalesced++
				break
			}
		}
		if target < 0 {
			target = b.oldest()
		}
	}

	b.slots[target] = slot[T]{data: data, produced: produced, at: at, occupied: true}
	b.stats.Inserted++
	return active
}

// oldest returns the first free slot, or the one with the smallest target instant
func (b *Buffer[T]) oldest() int {
	target := 0
	for i := range b.slots {
		if !b.slots[i].occupied {
			return i
		}
		if b.slots[i].at < b.slots[target].at {
			target = i
		}
	}
	return target
}

// GetAt returns the value at server time at, and how far at lies past the
// newest production that contributed to it. ok is false when the buffer is
// empty or at is more than MaxExtrapolation past the newest sample.
func (b *Buffer[T]) GetAt(at int64) (extrapolation time.Duration, data T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastRequest = b.now()
	b.stats.Queries++

	before, after := -1, -1
	for i := range b.slots {
		s := &b.slots[i]
		if !s.occupied {
			continue
		}
		if s.at < at {
			if before < 0 || b.slots[before].at < s.at {
				before = i
			}
		} else {
			if after < 0 || b.slots[after].at > s.at {
				after = i
			}
		}
	}

	var produced int64
	if after >= 0 {
		produced = max(produced, b.slots[after].produced)
	}
	if before >= 0 {
		produced = max(produced, b.slots[before].produced)
	}
	extrapolation = time.Duration(max(0, at-produced))

	switch {
	case before >= 0 && after >= 0:
		bs, as := &b.slots[before], &b.slots[after]
		t := float64(as.at-at) / float64(as.at-bs.at)
		return extrapolation, b.interp.Interpolate(bs.data, as.data, t), true

	case before >= 0:
		bs := &b.slots[before]
		overshoot := time.Duration(at - bs.at)
		if overshoot > MaxExtrapolation {
			b.stats.Misses++
			return 0, data, false
		}
		if overshoot > WarnExtrapolation {
			b.log.Warn("prediction exceeded",
				zap.String("stream", b.name),
				zap.Duration("overshoot", overshoot),
				zap.Duration("age", time.Duration(b.lastRequest-bs.produced)),
				zap.Duration("extrapolation", time.Duration(at-bs.produced)))
		}
		return extrapolation, bs.data, true

	case after >= 0:
		return extrapolation, b.slots[after].data, true
	}

	b.stats.Misses++
	return 0, data, false
}

// Len returns the number of occupied slots
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for i := range b.slots {
		if b.slots[i].occupied {
			n++
		}
	}
	return n
}

// Capacity returns the number of slots
func (b *Buffer[T]) Capacity() int {
	return len(b.slots)
}

// Name returns the stream name
func (b *Buffer[T]) Name() string {
	return b.name
}

// Stats returns the activity counters
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func abs(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}
