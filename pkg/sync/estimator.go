// ABOUTME: Clock offset estimator fed by timesync round trips
// ABOUTME: Rolling probe window, rate-limited requests, least-squares drift fit
package sync

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSampleCount is the number of probes kept in the rolling window
	DefaultSampleCount = 64

	// DefaultInterval is the minimum spacing between two timesync queries
	DefaultInterval = 50 * time.Millisecond

	// DefaultMaxDrift bounds |A-1|; fits beyond it are treated as noise
	DefaultMaxDrift = 1e-3
)

// Conn sends timesync queries to the headset
type Conn interface {
	SendTimesyncQuery(query int64) error
}

// Response holds the decoded fields of a timesync response
type Response struct {
	Query              int64 // server time the query was sent, echoed by the headset
	HeadsetReceived    int64 // headset time the query arrived
	HeadsetTransmitted int64 // headset time the response left
}

// Sample is one completed probe
type Sample struct {
	Response
	Received int64 // server time the response arrived
}

// RTT returns the network round trip, excluding headset turnaround
func (s Sample) RTT() time.Duration {
	return time.Duration((s.Received - s.Query) - (s.HeadsetTransmitted - s.HeadsetReceived))
}

// midpoints returns matching instants on both clocks
func (s Sample) midpoints() (headset, server int64) {
	headset = s.HeadsetReceived + (s.HeadsetTransmitted-s.HeadsetReceived)/2
	server = s.Query + (s.Received-s.Query)/2
	return headset, server
}

// EstimatorConfig configures an Estimator; zero fields take defaults
type EstimatorConfig struct {
	SampleCount int
	Interval    time.Duration
	MaxDrift    float64
	Logger      *zap.Logger
}

// EstimatorStats is a snapshot of estimator state
type EstimatorStats struct {
	Samples int
	MinRTT  time.Duration
	LastRTT time.Duration
	Offset  ClockOffset
}

// Estimator keeps the current headset-to-server ClockOffset
type Estimator struct {
	mu sync.Mutex

	samples []Sample
	count   int
	index   int
	rtts    []int64 // scratch for the median, sized once

	offset      ClockOffset
	nextRequest int64
	lastRTT     time.Duration

	interval time.Duration
	maxDrift float64
	log      *zap.Logger
	now      func() int64
}

// NewEstimator creates an uncalibrated estimator
func NewEstimator(config EstimatorConfig) *Estimator {
	if config.SampleCount <= 0 {
		config.SampleCount = DefaultSampleCount
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxDrift <= 0 {
		config.MaxDrift = DefaultMaxDrift
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Estimator{
		samples:  make([]Sample, config.SampleCount),
		rtts:     make([]int64, 0, config.SampleCount),
		offset:   Identity(),
		interval: config.Interval,
		maxDrift: config.MaxDrift,
		log:      config.Logger,
		now:      ServerNanos,
	}
}

// RequestSample sends a timesync query unless one was sent less than
// Interval ago. It never waits for the response.
func (e *Estimator) RequestSample(conn Conn) error {
	now := e.now()

	e.mu.Lock()
	if now < e.nextRequest {
		e.mu.Unlock()
		return nil
	}
	e.nextRequest = now + int64(e.interval)
	e.mu.Unlock()

	if err := conn.SendTimesyncQuery(now); err != nil {
		return fmt.Errorf("send timesync query: %w", err)
	}
	return nil
}

// AddSample records a response received now
func (e *Estimator) AddSample(resp Response) bool {
	return e.AddSampleAt(resp, e.now())
}

// AddSampleAt records a response received at the given server time and
// refits the offset. It returns false for inconsistent timestamps.
func (e *Estimator) AddSampleAt(resp Response, received int64) bool {
	s := Sample{Response: resp, Received: received}

	if s.Received < s.Query || s.HeadsetTransmitted < s.HeadsetReceived || s.RTT() < 0 {
		e.log.Debug("discarding timesync sample: inconsistent timestamps",
			zap.Int64("query", s.Query),
			zap.Int64("headset_received", s.HeadsetReceived),
			zap.Int64("headset_transmitted", s.HeadsetTransmitted),
			zap.Int64("received", s.Received))
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples[e.index] = s
	e.index = (e.index + 1) % len(e.samples)
	if e.count < len(e.samples) {
		e.count++
	}
	e.lastRTT = s.RTT()

	wasCalibrated := e.offset.Calibrated
	e.offset = e.fit()

	if !wasCalibrated {
		e.log.Info("clock offset calibrated",
			zap.Stringer("offset", e.offset),
			zap.Duration("rtt", e.lastRTT))
	}
	return true
}

// fit computes the offset from the retained samples; caller holds mu
func (e *Estimator) fit() ClockOffset {
	window := e.samples[:e.count]

	best := 0
	for i := range window {
		if window[i].RTT() < window[best].RTT() {
			best = i
		}
	}
	anchor := anchorOffset(window[best])
	if len(window) < 2 {
		return anchor
	}

	// Only the low-latency half of the window takes part: queued packets
	// skew the midpoints towards the slow direction.
	e.rtts = e.rtts[:0]
	for i := range window {
		e.rtts = append(e.rtts, int64(window[i].RTT()))
	}
	slices.Sort(e.rtts)
	median := time.Duration(e.rtts[len(e.rtts)/2])

	// Center on the anchor so float64 only carries small differences.
	xr, yr := window[best].midpoints()
	var sx, sy, sxx, sxy, m float64
	for i := range window {
		if window[i].RTT() > median {
			continue
		}
		x, y := window[i].midpoints()
		dx := float64(x - xr)
		dy := float64(y - yr)
		sx += dx
		sy += dy
		sxx += dx * dx
		sxy += dx * dy
		m++
	}

	denom := m*sxx - sx*sx
	if m < 2 || denom <= 0 {
		return anchor
	}

	a := (m*sxy - sx*sy) / denom
	c := (sy - a*sx) / m
	if math.Abs(a-1) > e.maxDrift {
		e.log.Debug("clock drift fit out of range, using anchor",
			zap.Float64("a", a),
			zap.Int("samples", int(m)))
		return anchor
	}

	return ClockOffset{
		A:          a,
		B:          yr - xr + int64(math.Round(c-(a-1)*float64(xr))),
		Calibrated: true,
	}
}

// anchorOffset is a pure offset through a single sample
func anchorOffset(s Sample) ClockOffset {
	x, y := s.midpoints()
	return ClockOffset{A: 1, B: y - x, Calibrated: true}
}

// Offset returns a copy of the current offset
func (e *Estimator) Offset() ClockOffset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Stats returns a snapshot of the estimator
func (e *Estimator) Stats() EstimatorStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := EstimatorStats{
		Samples: e.count,
		LastRTT: e.lastRTT,
		Offset:  e.offset,
	}
	for i := 0; i < e.count; i++ {
		if rtt := e.samples[i].RTT(); i == 0 || rtt < stats.MinRTT {
			stats.MinRTT = rtt
		}
	}
	return stats
}
