// ABOUTME: Tests for the clock offset estimator
// ABOUTME: Covers rate limiting, calibration, convergence, and concurrent access
package sync

import (
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	queries []int64
	err     error
}

func (c *fakeConn) SendTimesyncQuery(query int64) error {
	c.queries = append(c.queries, query)
	return c.err
}

// headsetLink simulates a headset whose clock satisfies
// server = a*headset + b, reached through a link with the given one-way delays
type headsetLink struct {
	a float64
	b int64
}

func (l headsetLink) toHeadset(server int64) int64 {
	return int64(float64(server-l.b) / l.a)
}

func (l headsetLink) toServer(headset int64) int64 {
	return int64(l.a*float64(headset)) + l.b
}

// probe returns the response and receive time for a query sent at server time s
func (l headsetLink) probe(s int64, up, down, turnaround time.Duration) (Response, int64) {
	hr := l.toHeadset(s + int64(up))
	ht := hr + int64(turnaround)
	received := l.toServer(ht) + int64(down)
	return Response{Query: s, HeadsetReceived: hr, HeadsetTransmitted: ht}, received
}

func TestOffsetBeforeAnySample(t *testing.T) {
	e := NewEstimator(EstimatorConfig{})

	o := e.Offset()
	assert.False(t, o.Valid())
	assert.Equal(t, 1.0, o.A)
	assert.Equal(t, int64(0), o.B)
}

func TestDefaultWindowSize(t *testing.T) {
	link := headsetLink{a: 1, b: 0}
	e := NewEstimator(EstimatorConfig{})

	for i := 0; i < 80; i++ {
		resp, received := link.probe(int64(i)*int64(50*time.Millisecond), time.Millisecond, time.Millisecond, 0)
		require.True(t, e.AddSampleAt(resp, received))
	}

	assert.Equal(t, 64, e.Stats().Samples)
}

func TestRequestSampleRateLimit(t *testing.T) {
	now := int64(1_000_000_000)
	e := NewEstimator(EstimatorConfig{Interval: 50 * time.Millisecond})
	e.now = func() int64 { return now }
	conn := &fakeConn{}

	require.NoError(t, e.RequestSample(conn))
	require.NoError(t, e.RequestSample(conn))
	assert.Len(t, conn.queries, 1, "second request inside the interval must not send")

	now += int64(49 * time.Millisecond)
	require.NoError(t, e.RequestSample(conn))
	assert.Len(t, conn.queries, 1)

	now += int64(time.Millisecond)
	require.NoError(t, e.RequestSample(conn))
	require.Len(t, conn.queries, 2)
	assert.Equal(t, now, conn.queries[1], "query carries the send time")
}

func TestRequestSampleSendError(t *testing.T) {
	e := NewEstimator(EstimatorConfig{})
	e.now = func() int64 { return 10 }
	conn := &fakeConn{err: errors.New("closed")}

	err := e.RequestSample(conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, conn.err)
	assert.False(t, e.Offset().Valid())
}

func TestSingleSampleAnchor(t *testing.T) {
	e := NewEstimator(EstimatorConfig{})
	link := headsetLink{a: 1, b: 7_000_000_000}

	resp, received := link.probe(1_000_000_000, 2*time.Millisecond, 2*time.Millisecond, 100*time.Microsecond)
	e.AddSampleAt(resp, received)

	o := e.Offset()
	require.True(t, o.Valid())
	assert.Equal(t, 1.0, o.A)
	assert.InDelta(t, link.b, o.B, 1_000)

	stats := e.Stats()
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, 4*time.Millisecond, stats.LastRTT)
}

func TestConvergesToDriftAndOffset(t *testing.T) {
	link := headsetLink{a: 1 + 50e-6, b: -3_000_000_000}
	e := NewEstimator(EstimatorConfig{SampleCount: 100})

	start := int64(20 * time.Second)
	for i := 0; i < 200; i++ {
		s := start + int64(i)*int64(50*time.Millisecond)
		up := 2*time.Millisecond + time.Duration(i%5)*20*time.Microsecond
		down := up
		if i%4 == 0 {
			// Queued response: one-sided delay that would bias the midpoint
			down += 6 * time.Millisecond
		}
		resp, received := link.probe(s, up, down, 150*time.Microsecond)
		e.AddSampleAt(resp, received)
	}

	o := e.Offset()
	require.True(t, o.Valid())
	assert.InDelta(t, link.a, o.A, 1e-6)
	assert.InDelta(t, link.b, o.B, 200_000)

	// Prediction at the end of the window stays within 50µs
	h := link.toHeadset(start + int64(10*time.Second))
	assert.InDelta(t, link.toServer(h), o.FromHeadset(h), 50_000)

	assert.Equal(t, 100, e.Stats().Samples)
}

func TestExcessiveDriftFallsBackToAnchor(t *testing.T) {
	e := NewEstimator(EstimatorConfig{MaxDrift: 1e-3})

	// Headset clock running 10% fast is outside any plausible drift
	e.AddSampleAt(Response{Query: 0, HeadsetReceived: 1_000_000, HeadsetTransmitted: 1_000_000}, 2_000_000)
	e.AddSampleAt(Response{Query: 1_000_000_000, HeadsetReceived: 1_101_000_000, HeadsetTransmitted: 1_101_000_000}, 1_002_000_000)

	o := e.Offset()
	require.True(t, o.Valid())
	assert.Equal(t, 1.0, o.A)
}

func TestInconsistentSampleIgnored(t *testing.T) {
	e := NewEstimator(EstimatorConfig{})

	// Response received before the query was sent
	assert.False(t, e.AddSampleAt(Response{Query: 5_000, HeadsetReceived: 10, HeadsetTransmitted: 20}, 1_000))
	// Headset turnaround longer than the whole round trip
	assert.False(t, e.AddSampleAt(Response{Query: 0, HeadsetReceived: 0, HeadsetTransmitted: 10_000}, 1_000))

	assert.False(t, e.Offset().Valid())
	assert.Equal(t, 0, e.Stats().Samples)
}

func TestSampleWindowEviction(t *testing.T) {
	e := NewEstimator(EstimatorConfig{SampleCount: 3})
	link := headsetLink{a: 1, b: 1_000_000}

	for i := 0; i < 5; i++ {
		rtt := time.Duration(5-i) * time.Millisecond
		resp, received := link.probe(int64(i)*int64(time.Second), rtt/2, rtt/2, 0)
		e.AddSampleAt(resp, received)
	}

	stats := e.Stats()
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, time.Millisecond, stats.MinRTT)
	assert.Equal(t, time.Millisecond, stats.LastRTT)
}

func TestConcurrentAccess(t *testing.T) {
	e := NewEstimator(EstimatorConfig{SampleCount: 16})
	link := headsetLink{a: 1, b: 250_000_000}

	var wg stdsync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := int64(g*1000+i) * int64(time.Millisecond)
				resp, received := link.probe(s, time.Millisecond, time.Millisecond, 0)
				e.AddSampleAt(resp, received)
			}
		}(g)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				o := e.Offset()
				if o.Valid() {
					assert.InDelta(t, link.b, o.B, 1_000_000)
				}
				e.Stats()
			}
		}()
	}
	wg.Wait()

	assert.True(t, e.Offset().Valid())
}
