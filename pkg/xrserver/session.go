// ABOUTME: Per-headset session state and goroutines
// ABOUTME: Writer, timesync, and prediction loops around an estimator and a tracker
package xrserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xrstream/xrsync-go/pkg/history"
	"github.com/xrstream/xrsync-go/pkg/protocol"
	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"github.com/xrstream/xrsync-go/pkg/tracking"
	"go.uber.org/zap"
)

// sendBuffer is the depth of the outgoing message queue
const sendBuffer = 64

// SessionInfo is a snapshot of a session
type SessionInfo struct {
	ID          string
	HeadsetID   string
	Name        string
	RemoteAddr  string
	ConnectedAt time.Time

	Offset  xrsync.ClockOffset
	Samples int
	MinRTT  time.Duration
	LastRTT time.Duration

	Predictions      uint64
	Misses           uint64
	Rejected         uint64
	Uncalibrated     uint64 // tracking messages dropped before calibration
	ExtrapolationP50 time.Duration
	ExtrapolationP99 time.Duration
	HeadPosition     tracking.Vec3
}

// Session is one connected headset
type Session struct {
	ID         string
	HeadsetID  string
	Name       string
	RemoteAddr string

	server    *Server
	conn      *websocket.Conn
	log       *zap.Logger
	estimator *xrsync.Estimator
	tracker   *tracking.Tracker
	sendChan  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	hasTracking atomic.Bool
	connectedAt time.Time

	mu            sync.Mutex
	extrapolation *hdrhistogram.Histogram // microseconds
	predictions   uint64
	misses        uint64
	uncalibrated  uint64
	lastHead      tracking.Pose
	reported      map[string]history.Stats
}

func newSession(s *Server, conn *websocket.Conn, hello protocol.HeadsetHello, remoteAddr string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	log := s.log.With(zap.String("session", id), zap.String("headset", hello.HeadsetID))

	return &Session{
		ID:         id,
		HeadsetID:  hello.HeadsetID,
		Name:       hello.Name,
		RemoteAddr: remoteAddr,
		server:     s,
		conn:       conn,
		log:        log,
		estimator: xrsync.NewEstimator(xrsync.EstimatorConfig{
			SampleCount: s.config.SampleCount,
			Interval:    s.config.TimesyncInterval,
			MaxDrift:    s.config.MaxDrift,
			Logger:      log,
		}),
		tracker:       tracking.NewTracker(log, history.WithCapacity(s.config.HistorySize)),
		sendChan:      make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		connectedAt:   time.Now(),
		extrapolation: hdrhistogram.New(1, int64(2*history.MaxExtrapolation/time.Microsecond), 3),
		reported:      make(map[string]history.Stats),
	}
}

// Offset returns the current headset-to-server clock offset
func (sess *Session) Offset() xrsync.ClockOffset {
	return sess.estimator.Offset()
}

// Tracker returns the tracking history of the headset
func (sess *Session) Tracker() *tracking.Tracker {
	return sess.tracker
}

// Done is closed when the session ends
func (sess *Session) Done() <-chan struct{} {
	return sess.ctx.Done()
}

// Info returns a snapshot of the session
func (sess *Session) Info() SessionInfo {
	est := sess.estimator.Stats()

	info := SessionInfo{
		ID:          sess.ID,
		HeadsetID:   sess.HeadsetID,
		Name:        sess.Name,
		RemoteAddr:  sess.RemoteAddr,
		ConnectedAt: sess.connectedAt,
		Offset:      est.Offset,
		Samples:     est.Samples,
		MinRTT:      est.MinRTT,
		LastRTT:     est.LastRTT,
	}
	for _, st := range sess.tracker.Streams() {
		info.Rejected += st.Stats.Rejected
	}

	sess.mu.Lock()
	info.Predictions = sess.predictions
	info.Misses = sess.misses
	info.Uncalibrated = sess.uncalibrated
	info.HeadPosition = sess.lastHead.Position
	if sess.extrapolation.TotalCount() > 0 {
		info.ExtrapolationP50 = time.Duration(sess.extrapolation.ValueAtQuantile(50)) * time.Microsecond
		info.ExtrapolationP99 = time.Duration(sess.extrapolation.ValueAtQuantile(99)) * time.Microsecond
	}
	sess.mu.Unlock()

	return info
}

// SendTimesyncQuery queues a timesync/query; it implements sync.Conn
func (sess *Session) SendTimesyncQuery(query int64) error {
	if err := sess.send(protocol.TypeTimesyncQuery, protocol.TimesyncQuery{Query: query}); err != nil {
		return err
	}
	sess.server.metrics.TimesyncQueries.Inc()
	return nil
}

// send queues a JSON message without blocking
func (sess *Session) send(msgType string, payload interface{}) error {
	data, err := encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	select {
	case <-sess.ctx.Done():
		return fmt.Errorf("session closed")
	default:
	}

	select {
	case sess.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("session send buffer full")
	}
}

// start launches the session goroutines
func (sess *Session) start() {
	s := sess.server
	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		sess.writer()
	}()
	go func() {
		defer s.wg.Done()
		sess.timesyncLoop()
	}()
	go func() {
		defer s.wg.Done()
		sess.predictionLoop()
	}()
	go func() {
		defer s.wg.Done()
		select {
		case <-s.stopChan:
			sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			sess.conn.Close()
		case <-sess.ctx.Done():
		}
	}()
}

// writer sends queued messages and keepalive pings
func (sess *Session) writer() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case data := <-sess.sendChan:
			sess.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.log.Debug("write failed", zap.Error(err))
				sess.cancel()
				return
			}

		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				sess.cancel()
				return
			}

		case <-sess.ctx.Done():
			return
		}
	}
}

// timesyncLoop offers the estimator a chance to probe twice per interval
func (sess *Session) timesyncLoop() {
	ticker := time.NewTicker(max(sess.server.config.TimesyncInterval/2, time.Millisecond))
	defer ticker.Stop()

	if err := sess.estimator.RequestSample(sess); err != nil {
		sess.log.Debug("timesync query failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := sess.estimator.RequestSample(sess); err != nil {
				sess.log.Debug("timesync query failed", zap.Error(err))
			}
		case <-sess.ctx.Done():
			return
		}
	}
}

// predictionLoop queries the head pose ahead of now once per frame, the way
// a renderer would, and reports history counters once per second
func (sess *Session) predictionLoop() {
	cfg := sess.server.config
	frames := time.NewTicker(cfg.FramePeriod)
	defer frames.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for {
		select {
		case <-frames.C:
			if sess.hasTracking.Load() {
				sess.predict(xrsync.ServerNanos() + int64(cfg.PredictionLead))
			}
		case <-report.C:
			sess.reportHistory()
		case <-sess.ctx.Done():
			sess.reportHistory()
			return
		}
	}
}

// predict queries the head pose at server time at
func (sess *Session) predict(at int64) {
	m := sess.server.metrics
	pose, extrapolation, ok := sess.tracker.Pose(tracking.Head, at)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.predictions++
	if !ok {
		sess.misses++
		m.HistoryMisses.Inc()
		return
	}
	sess.lastHead = pose
	us := min(max(1, int64(extrapolation/time.Microsecond)), sess.extrapolation.HighestTrackableValue())
	if err := sess.extrapolation.RecordValue(us); err != nil {
		sess.log.Debug("extrapolation not recorded", zap.Int64("us", us), zap.Error(err))
	}
	m.Extrapolation.Observe(extrapolation.Seconds())
}

// reportHistory publishes per-stream counter deltas
func (sess *Session) reportHistory() {
	m := sess.server.metrics

	sess.mu.Lock()
	defer sess.mu.Unlock()

	for _, st := range sess.tracker.Streams() {
		prev := sess.reported[st.Name]
		if d := st.Stats.Inserted - prev.Inserted; d > 0 {
			m.HistoryInserted.WithLabelValues(st.Name).Add(float64(d))
		}
		if d := st.Stats.Rejected - prev.Rejected; d > 0 {
			m.HistoryRejected.WithLabelValues(st.Name).Add(float64(d))
		}
		sess.reported[st.Name] = st.Stats
	}
}

// handleMessage processes one message from the headset
func (sess *Session) handleMessage(data []byte, received int64) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		sess.log.Debug("error decoding message", zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.TypeTimesyncResponse:
		var resp protocol.TimesyncResponse
		if err := env.Decode(&resp); err != nil {
			sess.log.Debug("bad timesync response", zap.Error(err))
			return
		}
		sess.handleTimesync(resp, received)

	case protocol.TypeTrackingSample:
		var sample protocol.TrackingSample
		if err := env.Decode(&sample); err != nil {
			sess.log.Debug("bad tracking sample", zap.Error(err))
			return
		}
		sess.handleTracking(sample)

	case protocol.TypeHandTracking:
		var hand protocol.HandTracking
		if err := env.Decode(&hand); err != nil {
			sess.log.Debug("bad hand tracking", zap.Error(err))
			return
		}
		h, err := protocol.ParseHand(hand.Hand)
		if err != nil {
			sess.log.Debug("ignoring hand tracking", zap.Error(err))
			return
		}
		if offset, ok := sess.calibratedOffset(); ok {
			sess.tracker.AddHand(h, hand.Produced, hand.At, hand.Joints, offset)
		}

	case protocol.TypeFoveationUpdate:
		var update protocol.FoveationUpdate
		if err := env.Decode(&update); err != nil {
			sess.log.Debug("bad foveation update", zap.Error(err))
			return
		}
		if offset, ok := sess.calibratedOffset(); ok {
			sess.tracker.AddFoveation(update.Produced, update.At, update.Foveation, offset)
		}

	case protocol.TypeHeadsetGoodbye:
		var goodbye protocol.HeadsetGoodbye
		if err := env.Decode(&goodbye); err == nil {
			sess.log.Info("headset goodbye", zap.String("reason", goodbye.Reason))
		}

	default:
		sess.log.Debug("unknown message type", zap.String("type", env.Type))
	}
}

// handleTimesync feeds a timesync response to the estimator
func (sess *Session) handleTimesync(resp protocol.TimesyncResponse, received int64) {
	accepted := sess.estimator.AddSampleAt(xrsync.Response{
		Query:              resp.Query,
		HeadsetReceived:    resp.HeadsetReceived,
		HeadsetTransmitted: resp.HeadsetTransmitted,
	}, received)
	if !accepted {
		return
	}

	m := sess.server.metrics
	st := sess.estimator.Stats()
	m.TimesyncSamples.Inc()
	m.TimesyncRTT.Observe(st.LastRTT.Seconds())
	m.ClockOffset.WithLabelValues(sess.ID).Set(time.Duration(st.Offset.B).Seconds())
	m.ClockDrift.WithLabelValues(sess.ID).Set((st.Offset.A - 1) * 1e6)
}

// calibratedOffset returns the clock offset once the first probe completed.
// Until then tracking is dropped: raw headset stamps would sort ahead of
// every later calibrated sample.
func (sess *Session) calibratedOffset() (xrsync.ClockOffset, bool) {
	offset := sess.estimator.Offset()
	if !offset.Valid() {
		sess.mu.Lock()
		sess.uncalibrated++
		sess.mu.Unlock()
		return offset, false
	}
	return offset, true
}

// handleTracking stores the device poses of one tracking sample
func (sess *Session) handleTracking(sample protocol.TrackingSample) {
	offset, ok := sess.calibratedOffset()
	if !ok {
		return
	}
	for _, p := range sample.Poses {
		d, err := tracking.ParseDevice(p.Device)
		if err != nil {
			sess.log.Debug("ignoring pose", zap.Error(err))
			continue
		}
		sess.tracker.AddPose(d, sample.Produced, p.At, p.Pose, offset)
		if d == tracking.Head {
			sess.hasTracking.Store(true)
		}
	}
}
