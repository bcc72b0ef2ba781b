// ABOUTME: Streaming server that accepts headset sessions
// ABOUTME: WebSocket endpoint, metrics endpoint, mDNS advertisement, and lifecycle
package xrserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xrstream/xrsync-go/internal/discovery"
	"github.com/xrstream/xrsync-go/internal/metrics"
	"github.com/xrstream/xrsync-go/pkg/history"
	"github.com/xrstream/xrsync-go/pkg/protocol"
	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"go.uber.org/zap"
)

const (
	// DefaultPort is the port the server listens on
	DefaultPort = 9757

	// DefaultPredictionLead is how far ahead of now the head pose is queried
	DefaultPredictionLead = 50 * time.Millisecond

	// DefaultFramePeriod is the prediction query period (90 Hz)
	DefaultFramePeriod = time.Second / 90

	// MetricsPath serves Prometheus metrics
	MetricsPath = "/metrics"
)

// ServerConfig configures a streaming server
type ServerConfig struct {
	// Port to listen on (default: 9757)
	Port int

	// Name of the server for identification
	Name string

	// EnableMDNS enables mDNS service advertisement
	EnableMDNS bool

	// TimesyncInterval is the minimum spacing of timesync queries
	TimesyncInterval time.Duration

	// SampleCount and MaxDrift tune the clock offset estimator
	SampleCount int
	MaxDrift    float64

	// HistorySize is the slot count of every tracking stream
	HistorySize int

	// PredictionLead and FramePeriod drive the per-session prediction loop
	PredictionLead time.Duration
	FramePeriod    time.Duration

	// DisableMetrics leaves MetricsPath unserved; collectors still update
	DisableMetrics bool

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server accepts headset sessions
type Server struct {
	config   ServerConfig
	serverID string
	log      *zap.Logger
	metrics  *metrics.Metrics

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Session management
	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	// mDNS discovery
	mdnsManager *discovery.Manager

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewServer creates a new server
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Name == "" {
		config.Name = "XRSync Server"
	}
	if config.TimesyncInterval == 0 {
		config.TimesyncInterval = xrsync.DefaultInterval
	}
	if config.HistorySize == 0 {
		config.HistorySize = history.DefaultCapacity
	}
	if config.PredictionLead == 0 {
		config.PredictionLead = DefaultPredictionLead
	}
	if config.FramePeriod == 0 {
		config.FramePeriod = DefaultFramePeriod
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", config.Port)
	}
	if config.TimesyncInterval < 0 || config.PredictionLead < 0 || config.FramePeriod < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	if config.HistorySize < 0 || config.SampleCount < 0 || config.MaxDrift < 0 {
		return nil, fmt.Errorf("estimator and history sizes must not be negative")
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		log:      config.Logger,
		metrics:  config.Metrics,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Headsets connect from the local network
				return true
			},
		},
		sessions: make(map[string]*Session),
		stopChan: make(chan struct{}),
	}

	s.mux.HandleFunc(protocol.Path, s.handleWebSocket)
	if !config.DisableMetrics {
		s.mux.Handle(MetricsPath, promhttp.HandlerFor(config.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return s, nil
}

// Handler returns the HTTP handler serving the WebSocket and metrics endpoints
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ID returns the server id sent in server/hello
func (s *Server) ID() string {
	return s.serverID
}

// Start listens on the configured port and blocks until Stop
func (s *Server) Start() error {
	s.log.Info("server starting",
		zap.String("name", s.config.Name),
		zap.String("id", s.serverID))

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        protocol.Path,
			Logger:      s.log,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warn("failed to start mDNS advertisement", zap.Error(err))
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.Info("WebSocket server listening", zap.String("addr", addr))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-s.stopChan:
		s.log.Info("server shutting down")
	case serveErr = <-errChan:
		s.log.Error("HTTP server error", zap.Error(serveErr))
		s.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	s.wg.Wait()
	s.log.Info("server stopped cleanly")

	return serveErr
}

// Stop stops the server and closes every session
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.shutdownMu.Lock()
		s.isShutdown = true
		s.shutdownMu.Unlock()
		close(s.stopChan)
	})
}

// Sessions returns information about all connected headsets, oldest first
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Session returns the session of a connected headset
func (s *Server) Session(headsetID string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[headsetID]
	return sess, ok
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	s.log.Debug("new WebSocket connection", zap.String("remote", r.RemoteAddr))
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection runs one headset session until it disconnects
func (s *Server) handleConnection(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		s.log.Info("rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	hello, err := readHello(conn)
	if err != nil {
		s.log.Warn("handshake failed", zap.String("remote", remoteAddr), zap.Error(err))
		return
	}

	sess := newSession(s, conn, hello, remoteAddr)

	// Stop may have run during the handshake. Registration and the session
	// goroutines' wg.Add must not race with Start's wg.Wait.
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		sess.cancel()
		s.log.Info("rejecting connection during shutdown", zap.String("headset", hello.HeadsetID))
		return
	}

	s.sessionsMu.Lock()
	if _, exists := s.sessions[hello.HeadsetID]; exists {
		s.sessionsMu.Unlock()
		s.shutdownMu.RUnlock()
		sess.cancel()
		s.log.Warn("headset already connected, rejecting duplicate",
			zap.String("headset", hello.HeadsetID))
		return
	}
	s.sessions[hello.HeadsetID] = sess
	s.sessionsMu.Unlock()
	s.metrics.SessionsActive.Inc()

	defer func() {
		s.removeSession(sess)
		sess.log.Info("headset disconnected")
	}()

	// Queued ahead of anything the session goroutines send
	serverHello := protocol.ServerHello{
		ServerID:           s.serverID,
		SessionID:          sess.ID,
		Name:               s.config.Name,
		Version:            protocol.ProtocolVersion,
		TimesyncIntervalMs: int(s.config.TimesyncInterval / time.Millisecond),
	}
	if err := sess.send(protocol.TypeServerHello, serverHello); err != nil {
		s.shutdownMu.RUnlock()
		sess.log.Warn("error sending server hello", zap.Error(err))
		return
	}
	sess.start()
	s.shutdownMu.RUnlock()

	sess.log.Info("headset connected",
		zap.String("name", hello.Name),
		zap.String("remote", remoteAddr),
		zap.Strings("devices", hello.Capabilities.Devices))

	for {
		_, data, err := conn.ReadMessage()
		received := xrsync.ServerNanos()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug("WebSocket error", zap.Error(err))
			}
			break
		}

		sess.handleMessage(data, received)
	}
}

// readHello reads headset/hello within the handshake deadline
func readHello(conn *websocket.Conn) (protocol.HeadsetHello, error) {
	var hello protocol.HeadsetHello

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		return hello, err
	}
	if env.Type != protocol.TypeHeadsetHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeHeadsetHello, env.Type)
	}
	if err := env.Decode(&hello); err != nil {
		return hello, err
	}
	if hello.HeadsetID == "" || hello.Name == "" {
		return hello, fmt.Errorf("headset hello missing required fields")
	}
	return hello, nil
}

// removeSession unregisters a session and stops its goroutines
func (s *Server) removeSession(sess *Session) {
	sess.cancel()

	s.sessionsMu.Lock()
	if s.sessions[sess.HeadsetID] == sess {
		delete(s.sessions, sess.HeadsetID)
	}
	s.sessionsMu.Unlock()

	s.metrics.SessionsActive.Dec()
	s.metrics.ForgetSession(sess.ID)
}

// encode marshals an outgoing message
func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(protocol.Message{Type: msgType, Payload: payload})
}
