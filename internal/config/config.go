// ABOUTME: TOML configuration file for the streaming server
// ABOUTME: Strict decoding, defaults, and validation of server tunables
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server holds server tunables. Durations are written as strings ("50ms").
type Server struct {
	Port       int    `toml:"port,omitempty"`
	Name       string `toml:"name,omitempty"`
	EnableMDNS *bool  `toml:"enable_mdns,omitempty"`
	LogFile    string `toml:"log_file,omitempty"`

	Timesync  Timesync  `toml:"timesync"`
	Tracking  Tracking  `toml:"tracking"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Timesync configures the clock offset estimator
type Timesync struct {
	Interval    Duration `toml:"interval,omitempty"`
	SampleCount int      `toml:"sample_count,omitempty"`
	MaxDriftPPM float64  `toml:"max_drift_ppm,omitempty"`
}

// Tracking configures the prediction loop
type Tracking struct {
	PredictionLead Duration `toml:"prediction_lead,omitempty"`
	FramePeriod    Duration `toml:"frame_period,omitempty"`
	HistorySize    int      `toml:"history_size,omitempty"`
}

// Telemetry configures the metrics endpoint
type Telemetry struct {
	Metrics *bool `toml:"metrics,omitempty"`
}

// Duration is a time.Duration decoded from a TOML string
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the built-in configuration
func Default() Server {
	return Server{
		Port: 9757,
		Timesync: Timesync{
			Interval:    Duration(50 * time.Millisecond),
			SampleCount: 64,
			MaxDriftPPM: 1000,
		},
		Tracking: Tracking{
			PredictionLead: Duration(50 * time.Millisecond),
			FramePeriod:    Duration(time.Second / 90),
			HistorySize:    10,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Server, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Parse(raw)
}

// Parse decodes TOML data over the defaults
func Parse(raw []byte) (Server, error) {
	cfg := Default()
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return Server{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Server) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Timesync.Interval < 0 {
		return fmt.Errorf("timesync.interval must not be negative")
	}
	if c.Timesync.SampleCount < 0 {
		return fmt.Errorf("timesync.sample_count must not be negative")
	}
	if c.Timesync.MaxDriftPPM < 0 {
		return fmt.Errorf("timesync.max_drift_ppm must not be negative")
	}
	if c.Tracking.FramePeriod < 0 || c.Tracking.PredictionLead < 0 {
		return fmt.Errorf("tracking durations must not be negative")
	}
	if c.Tracking.HistorySize < 0 {
		return fmt.Errorf("tracking.history_size must not be negative")
	}
	return nil
}

// MDNSEnabled returns enable_mdns, true when unset
func (c Server) MDNSEnabled() bool {
	return c.EnableMDNS == nil || *c.EnableMDNS
}

// MetricsEnabled returns telemetry.metrics, true when unset
func (c Server) MetricsEnabled() bool {
	return c.Telemetry.Metrics == nil || *c.Telemetry.Metrics
}
