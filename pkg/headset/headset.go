// ABOUTME: Headset emulator streaming synthetic tracking to a server
// ABOUTME: Answers timesync probes from a skewed, drifting clock
package headset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xrstream/xrsync-go/internal/version"
	"github.com/xrstream/xrsync-go/pkg/protocol"
	"github.com/xrstream/xrsync-go/pkg/tracking"
	"go.uber.org/zap"
)

// Config holds emulator configuration
type Config struct {
	// ServerAddr is the server address (host:port)
	ServerAddr string

	// Name is the display name for this headset
	Name string

	// HeadsetID defaults to a random uuid
	HeadsetID string

	// ClockSkew and DriftPPM shape the headset clock relative to local time
	ClockSkew time.Duration
	DriftPPM  float64

	// TrackingRate is the pose sample rate in Hz (default: 90)
	TrackingRate int

	// PredictionLead is how far ahead of production each pose is stamped (default: 20ms)
	PredictionLead time.Duration

	// HandTracking also streams both hand skeletons
	HandTracking bool

	Logger *zap.Logger

	// OnError is called when sending fails
	OnError func(error)
}

// Stats counts emulator traffic
type Stats struct {
	Queries          uint64
	TrackingSamples  uint64
	HandSamples      uint64
	FoveationUpdates uint64
	Errors           uint64
	Connected        bool
}

// Headset emulates a tracked headset
type Headset struct {
	config Config
	clock  *Clock
	client *protocol.Client
	log    *zap.Logger

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an emulator with the given configuration
func New(config Config) (*Headset, error) {
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if config.Name == "" {
		config.Name = "XRSync Headset"
	}
	if config.HeadsetID == "" {
		config.HeadsetID = uuid.New().String()
	}
	if config.TrackingRate == 0 {
		config.TrackingRate = 90
	}
	if config.TrackingRate < 0 || config.TrackingRate > 1000 {
		return nil, fmt.Errorf("tracking rate %d out of range", config.TrackingRate)
	}
	if config.PredictionLead == 0 {
		config.PredictionLead = 20 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Headset{
		config: config,
		clock:  NewClock(config.ClockSkew, config.DriftPPM),
		log:    config.Logger.With(zap.String("headset", config.HeadsetID)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Clock returns the emulated headset clock
func (h *Headset) Clock() *Clock {
	return h.clock
}

// ID returns the headset id sent in headset/hello
func (h *Headset) ID() string {
	return h.config.HeadsetID
}

// Connect opens the session and starts streaming
func (h *Headset) Connect() error {
	devices := []string{tracking.Head.String(), tracking.LeftGrip.String(), tracking.RightGrip.String()}

	h.client = protocol.NewClient(protocol.Config{
		ServerAddr: h.config.ServerAddr,
		HeadsetID:  h.config.HeadsetID,
		Name:       h.config.Name,
		DeviceInfo: protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		Capabilities: protocol.Capabilities{
			Devices:      devices,
			HandTracking: h.config.HandTracking,
		},
		Clock:  h.clock.Now,
		Logger: h.log,
	})

	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	h.mu.Lock()
	h.stats.Connected = true
	h.mu.Unlock()

	h.log.Info("connected to server",
		zap.String("server", h.config.ServerAddr),
		zap.String("session", h.client.ServerHello().SessionID),
		zap.Duration("skew", h.config.ClockSkew),
		zap.Float64("drift_ppm", h.config.DriftPPM))

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		h.answerTimesync()
	}()
	go func() {
		defer h.wg.Done()
		h.streamTracking()
	}()
	go func() {
		defer h.wg.Done()
		h.streamFoveation()
	}()

	return nil
}

// Done is closed when the connection ends
func (h *Headset) Done() <-chan struct{} {
	if h.client == nil {
		return h.ctx.Done()
	}
	return h.client.Done()
}

// answerTimesync replies to each query with receive and transmit stamps
func (h *Headset) answerTimesync() {
	for {
		select {
		case q := <-h.client.TimesyncQueries:
			err := h.client.SendTimesyncResponse(protocol.TimesyncResponse{
				Query:              q.Query,
				HeadsetReceived:    q.Received,
				HeadsetTransmitted: h.clock.Now(),
			})
			h.count(func(s *Stats) { s.Queries++ }, err)

		case <-h.client.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// streamTracking sends device poses at TrackingRate
func (h *Headset) streamTracking() {
	ticker := time.NewTicker(time.Second / time.Duration(h.config.TrackingRate))
	defer ticker.Stop()

	lead := int64(h.config.PredictionLead)
	var tick uint64

	for {
		select {
		case <-ticker.C:
			now := h.clock.Now()
			at := now + lead
			err := h.client.SendTracking(protocol.TrackingSample{
				Produced: now,
				Poses: []protocol.DevicePose{
					{Device: tracking.Head.String(), At: at, Pose: headPose(at)},
					{Device: tracking.LeftGrip.String(), At: at, Pose: gripPose(at, -1)},
					{Device: tracking.RightGrip.String(), At: at, Pose: gripPose(at, 1)},
				},
			})
			h.count(func(s *Stats) { s.TrackingSamples++ }, err)

			// Skeletons are heavy; send them at a third of the pose rate
			tick++
			if h.config.HandTracking && tick%3 == 0 {
				h.sendHands(now, at)
			}

		case <-h.client.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Headset) sendHands(produced, at int64) {
	for _, hand := range []tracking.Hand{tracking.LeftHand, tracking.RightHand} {
		side := float32(-1)
		if hand == tracking.RightHand {
			side = 1
		}
		err := h.client.SendHandTracking(protocol.HandTracking{
			Hand:     hand.String(),
			Produced: produced,
			At:       at,
			Joints:   handJoints(at, side),
		})
		h.count(func(s *Stats) { s.HandSamples++ }, err)
	}
}

// streamFoveation sends foveation parameters once per second
func (h *Headset) streamFoveation() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	send := func() {
		now := h.clock.Now()
		err := h.client.SendFoveation(protocol.FoveationUpdate{
			Produced:  now,
			At:        now,
			Foveation: foveation(now),
		})
		h.count(func(s *Stats) { s.FoveationUpdates++ }, err)
	}

	send()
	for {
		select {
		case <-ticker.C:
			send()
		case <-h.client.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// count bumps a counter on success, the error counter otherwise
func (h *Headset) count(ok func(*Stats), err error) {
	h.mu.Lock()
	if err == nil {
		ok(&h.stats)
	} else {
		h.stats.Errors++
	}
	h.mu.Unlock()

	if err != nil {
		h.notifyError(err)
	}
}

// Stats returns traffic counters
func (h *Headset) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.stats
	stats.Connected = h.client != nil && h.client.IsConnected()
	return stats
}

// Close says goodbye and disconnects
func (h *Headset) Close() error {
	h.cancel()

	if h.client != nil {
		if h.client.IsConnected() {
			if err := h.client.SendGoodbye("shutdown"); err != nil {
				h.log.Debug("goodbye failed", zap.Error(err))
			}
		}
		h.client.Close()
	}
	h.wg.Wait()

	return nil
}

// notifyError calls the OnError callback if set
func (h *Headset) notifyError(err error) {
	if h.config.OnError != nil {
		h.config.OnError(err)
	} else {
		h.log.Debug("headset error", zap.Error(err))
	}
}
