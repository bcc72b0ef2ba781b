// ABOUTME: Headset-side WebSocket client for streaming sessions
// ABOUTME: Handles connection, handshake, timesync queries, and tracking uploads
package protocol

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Path is the WebSocket endpoint served by the streaming server
const Path = "/xr"

// Config holds client configuration
type Config struct {
	ServerAddr   string
	HeadsetID    string
	Name         string
	DeviceInfo   DeviceInfo
	Capabilities Capabilities

	// Clock stamps incoming timesync queries with headset time (ns)
	Clock func() int64

	Logger *zap.Logger
}

// ReceivedQuery is a timesync query stamped on arrival
type ReceivedQuery struct {
	TimesyncQuery
	Received int64 // Headset clock ns
}

// Client represents a headset connection to a server
type Client struct {
	config  Config
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	log     *zap.Logger

	// Message channels
	TimesyncQueries chan ReceivedQuery

	// State
	hello     ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Clock == nil {
		start := time.Now()
		config.Clock = func() int64 { return time.Since(start).Nanoseconds() }
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Client{
		config:          config,
		log:             config.Logger,
		TimesyncQueries: make(chan ReceivedQuery, 16),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Connect establishes the WebSocket connection and performs the handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: Path}
	c.log.Info("connecting", zap.String("url", u.String()))

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake sends headset/hello and waits for server/hello
func (c *Client) handshake() error {
	hello := HeadsetHello{
		HeadsetID:    c.config.HeadsetID,
		Name:         c.config.Name,
		Version:      ProtocolVersion,
		DeviceInfo:   &c.config.DeviceInfo,
		Capabilities: c.config.Capabilities,
	}

	if err := c.send(TypeHeadsetHello, hello); err != nil {
		return fmt.Errorf("failed to send headset/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	if env.Type != TypeServerHello {
		return fmt.Errorf("expected %s, got %s", TypeServerHello, env.Type)
	}

	var serverHello ServerHello
	if err := env.Decode(&serverHello); err != nil {
		return err
	}

	c.mu.Lock()
	c.hello = serverHello
	c.mu.Unlock()

	c.log.Info("handshake complete",
		zap.String("server", serverHello.Name),
		zap.String("session", serverHello.SessionID))
	return nil
}

// send writes one JSON message; gorilla connections allow a single writer
func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Message{Type: msgType, Payload: payload})
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("read error", zap.Error(err))
			return
		}
		received := c.config.Clock()

		if messageType != websocket.TextMessage {
			c.log.Debug("ignoring non-text message", zap.Int("type", messageType))
			continue
		}

		c.handleMessage(data, received)
	}
}

// handleMessage routes one JSON message
func (c *Client) handleMessage(data []byte, received int64) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		c.log.Warn("failed to parse message", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeTimesyncQuery:
		var query TimesyncQuery
		if err := env.Decode(&query); err != nil {
			c.log.Warn("bad timesync query", zap.Error(err))
			return
		}
		select {
		case c.TimesyncQueries <- ReceivedQuery{TimesyncQuery: query, Received: received}:
		case <-c.ctx.Done():
		default:
			// A stale query is worthless for timing; drop it
			c.log.Debug("timesync queue full, dropping query")
		}

	default:
		c.log.Debug("unknown message type", zap.String("type", env.Type))
	}
}

// ServerHello returns the handshake reply
func (c *Client) ServerHello() ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// SendTimesyncResponse answers a timesync query
func (c *Client) SendTimesyncResponse(resp TimesyncResponse) error {
	return c.send(TypeTimesyncResponse, resp)
}

// SendTracking uploads device poses
func (c *Client) SendTracking(sample TrackingSample) error {
	return c.send(TypeTrackingSample, sample)
}

// SendHandTracking uploads a hand skeleton
func (c *Client) SendHandTracking(hand HandTracking) error {
	return c.send(TypeHandTracking, hand)
}

// SendFoveation uploads foveation parameters
func (c *Client) SendFoveation(update FoveationUpdate) error {
	return c.send(TypeFoveationUpdate, update)
}

// SendGoodbye sends headset/goodbye before disconnecting
func (c *Client) SendGoodbye(reason string) error {
	return c.send(TypeHeadsetGoodbye, HeadsetGoodbye{Reason: reason})
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		c.log.Info("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
