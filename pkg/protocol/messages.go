// ABOUTME: Wire message definitions for headset streaming sessions
// ABOUTME: JSON envelope plus handshake, timesync, and tracking payloads
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/xrstream/xrsync-go/pkg/tracking"
)

// ProtocolVersion is the version of the wire protocol
const ProtocolVersion = 1

// Message types
const (
	TypeHeadsetHello     = "headset/hello"
	TypeServerHello      = "server/hello"
	TypeHeadsetGoodbye   = "headset/goodbye"
	TypeTimesyncQuery    = "timesync/query"
	TypeTimesyncResponse = "timesync/response"
	TypeTrackingSample   = "tracking/sample"
	TypeHandTracking     = "hand/tracking"
	TypeFoveationUpdate  = "foveation/update"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload is not decoded yet
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses the outer message
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// HeadsetHello is sent by the headset to open a session
type HeadsetHello struct {
	HeadsetID    string       `json:"headset_id"`
	Name         string       `json:"name"`
	Version      int          `json:"version"`
	DeviceInfo   *DeviceInfo  `json:"device_info,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// Capabilities lists which streams the headset can produce
type Capabilities struct {
	Devices      []string `json:"devices"`
	HandTracking bool     `json:"hand_tracking"`
	EyeGaze      bool     `json:"eye_gaze"`
}

// ServerHello is the server's response to headset/hello
type ServerHello struct {
	ServerID           string `json:"server_id"`
	SessionID          string `json:"session_id"`
	Name               string `json:"name"`
	Version            int    `json:"version"`
	TimesyncIntervalMs int    `json:"timesync_interval_ms"`
}

// HeadsetGoodbye is sent before graceful disconnect
type HeadsetGoodbye struct {
	Reason string `json:"reason"` // "shutdown", "user_request", "error"
}

// TimesyncQuery asks the headset for its clock
type TimesyncQuery struct {
	Query int64 `json:"query"` // Server clock ns at send
}

// TimesyncResponse answers a TimesyncQuery
type TimesyncResponse struct {
	Query              int64 `json:"query"`               // Echoed server timestamp
	HeadsetReceived    int64 `json:"headset_received"`    // Headset clock ns at receive
	HeadsetTransmitted int64 `json:"headset_transmitted"` // Headset clock ns at send
}

// DevicePose is the pose of one device at a headset instant
type DevicePose struct {
	Device string        `json:"device"`
	At     int64         `json:"at"` // Headset clock ns the pose describes
	Pose   tracking.Pose `json:"pose"`
}

// TrackingSample carries device poses produced together
type TrackingSample struct {
	Produced int64        `json:"produced"` // Headset clock ns when sampled
	Poses    []DevicePose `json:"poses"`
}

// HandTracking carries one hand skeleton
type HandTracking struct {
	Hand     string              `json:"hand"` // "left" or "right"
	Produced int64               `json:"produced"`
	At       int64               `json:"at"`
	Joints   tracking.HandJoints `json:"joints"`
}

// FoveationUpdate carries foveation parameters for both eyes
type FoveationUpdate struct {
	Produced  int64              `json:"produced"`
	At        int64              `json:"at"`
	Foveation tracking.Foveation `json:"foveation"`
}

// ParseHand maps the wire hand name
func ParseHand(name string) (tracking.Hand, error) {
	switch name {
	case "left":
		return tracking.LeftHand, nil
	case "right":
		return tracking.RightHand, nil
	}
	return 0, fmt.Errorf("unknown hand %q", name)
}
