// ABOUTME: Integration tests for the streaming server
// ABOUTME: Tests handshake, timesync calibration, tracking storage, and shutdown
package xrserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xrstream/xrsync-go/pkg/protocol"
	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"github.com/xrstream/xrsync-go/pkg/tracking"
)

const testSkew = int64(5 * time.Second)

func TestNewServer(t *testing.T) {
	tests := []struct {
		name      string
		config    ServerConfig
		expectErr bool
	}{
		{
			name:   "defaults",
			config: ServerConfig{},
		},
		{
			name:   "explicit values",
			config: ServerConfig{Port: 9800, Name: "Lab", PredictionLead: 30 * time.Millisecond},
		},
		{
			name:      "invalid port",
			config:    ServerConfig{Port: 70000},
			expectErr: true,
		},
		{
			name:      "negative lead",
			config:    ServerConfig{PredictionLead: -time.Millisecond},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewServer(tt.config)

			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if srv.config.Port == 0 {
				t.Error("port should have been set to default")
			}
			if srv.config.Name == "" {
				t.Error("name should have been set to default")
			}
			if srv.config.FramePeriod != DefaultFramePeriod {
				t.Errorf("expected default frame period, got %v", srv.config.FramePeriod)
			}
			if srv.ID() == "" {
				t.Error("expected server id")
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	srv, err := NewServer(ServerConfig{Port: 19757, Name: "Test Server"})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	srv.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Error("server did not stop within timeout")
	}
}

// startTestServer serves srv over httptest and stops both on cleanup
func startTestServer(t *testing.T, config ServerConfig) (*Server, string) {
	t.Helper()

	srv, err := NewServer(config)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, ts.URL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(url, "http") + protocol.Path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()

	if err := conn.WriteJSON(protocol.Message{Type: msgType, Payload: payload}); err != nil {
		t.Fatalf("failed to send %s: %v", msgType, err)
	}
}

// readUntil reads messages until one of the given type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) protocol.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed waiting for %s: %v", msgType, err)
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("bad message: %v", err)
		}
		if env.Type == msgType {
			return env
		}
	}
}

func handshake(t *testing.T, conn *websocket.Conn, id string) protocol.ServerHello {
	t.Helper()

	sendMessage(t, conn, protocol.TypeHeadsetHello, protocol.HeadsetHello{
		HeadsetID: id,
		Name:      "Test Headset",
		Version:   protocol.ProtocolVersion,
		Capabilities: protocol.Capabilities{
			Devices: []string{"head"},
		},
	})

	env := readUntil(t, conn, protocol.TypeServerHello)
	var hello protocol.ServerHello
	if err := env.Decode(&hello); err != nil {
		t.Fatalf("failed to decode server hello: %v", err)
	}
	return hello
}

// answerTimesync answers one query as a headset whose clock runs testSkew ahead
func answerTimesync(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	env := readUntil(t, conn, protocol.TypeTimesyncQuery)
	var q protocol.TimesyncQuery
	if err := env.Decode(&q); err != nil {
		t.Fatalf("failed to decode query: %v", err)
	}

	headsetNow := xrsync.ServerNanos() + testSkew
	sendMessage(t, conn, protocol.TypeTimesyncResponse, protocol.TimesyncResponse{
		Query:              q.Query,
		HeadsetReceived:    headsetNow,
		HeadsetTransmitted: headsetNow,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshake(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{Name: "Test Server"})
	conn := dial(t, url)

	hello := handshake(t, conn, "headset-1")

	if hello.ServerID != srv.ID() {
		t.Errorf("expected server id %s, got %s", srv.ID(), hello.ServerID)
	}
	if hello.SessionID == "" {
		t.Error("expected session id")
	}
	if hello.Name != "Test Server" {
		t.Errorf("expected name Test Server, got %s", hello.Name)
	}
	if hello.TimesyncIntervalMs != 50 {
		t.Errorf("expected timesync interval 50, got %d", hello.TimesyncIntervalMs)
	}

	waitFor(t, "session registration", func() bool { return len(srv.Sessions()) == 1 })

	info := srv.Sessions()[0]
	if info.HeadsetID != "headset-1" || info.ID != hello.SessionID {
		t.Errorf("unexpected session info: %+v", info)
	}
	if info.Offset.Valid() {
		t.Error("offset should start uncalibrated")
	}
}

func TestHandshakeRejectsBadHello(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload interface{}
	}{
		{"wrong type", protocol.TypeTimesyncResponse, protocol.TimesyncResponse{}},
		{"missing id", protocol.TypeHeadsetHello, protocol.HeadsetHello{Name: "x"}},
		{"missing name", protocol.TypeHeadsetHello, protocol.HeadsetHello{HeadsetID: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, url := startTestServer(t, ServerConfig{})
			conn := dial(t, url)

			sendMessage(t, conn, tt.msgType, tt.payload)

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Error("expected connection to be closed")
			}
			if n := len(srv.Sessions()); n != 0 {
				t.Errorf("expected no sessions, got %d", n)
			}
		})
	}
}

func TestDuplicateHeadsetRejected(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})

	first := dial(t, url)
	handshake(t, first, "same-id")

	second := dial(t, url)
	sendMessage(t, second, protocol.TypeHeadsetHello, protocol.HeadsetHello{HeadsetID: "same-id", Name: "Other"})

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("expected duplicate connection to be closed")
	}
	if n := len(srv.Sessions()); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestTimesyncCalibratesSession(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")

	for i := 0; i < 5; i++ {
		answerTimesync(t, conn)
	}

	sess, ok := srv.Session("headset-1")
	if !ok {
		t.Fatal("expected session")
	}
	waitFor(t, "calibration", func() bool { return sess.Offset().Valid() })
	waitFor(t, "all samples", func() bool { return sess.Info().Samples == 5 })

	offset := sess.Offset()
	if d := offset.B + testSkew; d < -int64(50*time.Millisecond) || d > int64(50*time.Millisecond) {
		t.Errorf("expected offset near %v, got %v", time.Duration(-testSkew), time.Duration(offset.B))
	}
}

func TestTrackingStoredOnServerTimeline(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")
	answerTimesync(t, conn)

	sess, _ := srv.Session("headset-1")
	waitFor(t, "calibration", func() bool { return sess.Offset().Valid() })

	now := xrsync.ServerNanos()
	headsetNow := now + testSkew
	pose := tracking.Pose{
		Orientation: tracking.IdentityQuat,
		Position:    tracking.Vec3{Y: 1.6},
		Flags:       tracking.OrientationValid | tracking.PositionValid,
	}
	sendMessage(t, conn, protocol.TypeTrackingSample, protocol.TrackingSample{
		Produced: headsetNow,
		Poses: []protocol.DevicePose{
			{Device: "head", At: headsetNow + int64(20*time.Millisecond), Pose: pose},
			{Device: "unknown", At: headsetNow, Pose: pose},
		},
	})

	var got tracking.Pose
	waitFor(t, "head pose", func() bool {
		p, _, ok := sess.Tracker().Pose(tracking.Head, now+int64(20*time.Millisecond))
		got = p
		return ok
	})
	if got.Position.Y != 1.6 {
		t.Errorf("expected y=1.6, got %v", got.Position.Y)
	}

	waitFor(t, "prediction", func() bool { return sess.Info().Predictions > 0 })
	info := sess.Info()
	if info.HeadPosition.Y != 1.6 {
		t.Errorf("expected predicted y=1.6, got %v", info.HeadPosition.Y)
	}
}

func TestOutOfOrderTrackingRejected(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")
	answerTimesync(t, conn)

	sess, _ := srv.Session("headset-1")
	waitFor(t, "calibration", func() bool { return sess.Offset().Valid() })

	base := xrsync.ServerNanos() + testSkew
	for _, produced := range []int64{base + int64(10*time.Millisecond), base} {
		sendMessage(t, conn, protocol.TypeTrackingSample, protocol.TrackingSample{
			Produced: produced,
			Poses:    []protocol.DevicePose{{Device: "head", At: produced, Pose: tracking.Pose{}}},
		})
	}

	waitFor(t, "rejection", func() bool { return sess.Info().Rejected == 1 })
}

func TestMetricsEndpoint(t *testing.T) {
	_, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")
	answerTimesync(t, conn)

	resp, err := http.Get(url + MetricsPath)
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	for _, name := range []string{"xrsync_sessions_active 1", "xrsync_timesync_queries"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %q", name)
		}
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	_, url := startTestServer(t, ServerConfig{DisableMetrics: true})

	resp, err := http.Get(url + MetricsPath)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStopClosesSessions(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")

	srv.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	waitFor(t, "session removal", func() bool { return len(srv.Sessions()) == 0 })

	// New connections are refused after Stop
	late := dial(t, url)
	sendMessage(t, late, protocol.TypeHeadsetHello, protocol.HeadsetHello{HeadsetID: "late", Name: "Late"})
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("expected late connection to be closed")
	}
}

func TestHandshakeAfterStopRejected(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)

	// The connection is upgraded before Stop; the hello arrives after it
	srv.Stop()
	// The server may already have dropped the connection; the write result is irrelevant
	_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeHeadsetHello, Payload: protocol.HeadsetHello{HeadsetID: "slow", Name: "Slow"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed without server/hello")
	}
	if _, ok := srv.Session("slow"); ok {
		t.Error("session registered after Stop")
	}
}

func TestExtrapolationBeyondHistogramRange(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")

	sess, ok := srv.Session("headset-1")
	if !ok {
		t.Fatal("session not registered")
	}

	// Older than the histogram ceiling, yet inside the tracking horizon
	const produced = int64(-10 * time.Second)
	offset := xrsync.ClockOffset{A: 1, Calibrated: true}
	sess.tracker.AddPose(tracking.Head, produced, int64(time.Hour), tracking.Pose{Orientation: tracking.IdentityQuat}, offset)
	sess.predict(0)

	info := sess.Info()
	if info.Misses != 0 {
		t.Errorf("expected a hit, got %d misses", info.Misses)
	}
	if got := sess.extrapolation.TotalCount(); got != 1 {
		t.Errorf("expected the sample to be recorded at the ceiling, got count %d", got)
	}
}

func TestTrackingDroppedBeforeCalibration(t *testing.T) {
	srv, url := startTestServer(t, ServerConfig{})
	conn := dial(t, url)
	handshake(t, conn, "headset-1")

	headsetNow := xrsync.ServerNanos() + testSkew
	sendMessage(t, conn, protocol.TypeTrackingSample, protocol.TrackingSample{
		Produced: headsetNow,
		Poses:    []protocol.DevicePose{{Device: "head", At: headsetNow, Pose: tracking.Pose{}}},
	})
	sendMessage(t, conn, protocol.TypeFoveationUpdate, protocol.FoveationUpdate{
		Produced:  headsetNow,
		At:        headsetNow,
		Foveation: tracking.Unfoveated(),
	})

	sess, _ := srv.Session("headset-1")
	waitFor(t, "drops", func() bool { return sess.Info().Uncalibrated == 2 })

	if _, _, ok := sess.Tracker().Pose(tracking.Head, xrsync.ServerNanos()); ok {
		t.Error("uncalibrated pose should not be stored")
	}
}
