// ABOUTME: Prometheus collectors for the streaming server
// ABOUTME: Clock sync, tracking history, and prediction metrics on a private registry
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SessionsActiveH = "The number of connected headset sessions"
	SessionsActiveN = "xrsync_sessions_active"

	TimesyncQueriesH = "The total number of timesync queries sent"
	TimesyncQueriesN = "xrsync_timesync_queries"
	TimesyncSamplesH = "The total number of timesync responses accepted"
	TimesyncSamplesN = "xrsync_timesync_samples"
	TimesyncRTTH     = "Timesync round trip time in seconds, excluding headset turnaround"
	TimesyncRTTN     = "xrsync_timesync_rtt_seconds"

	ClockOffsetH = "The current headset-to-server clock offset in seconds"
	ClockOffsetN = "xrsync_clock_offset_seconds"
	ClockDriftH  = "The current headset clock drift in parts per million"
	ClockDriftN  = "xrsync_clock_drift_ppm"

	HistoryInsertedH = "The total number of tracking samples stored"
	HistoryInsertedN = "xrsync_history_inserted"
	HistoryRejectedH = "The total number of tracking samples rejected as out of order"
	HistoryRejectedN = "xrsync_history_rejected"
	HistoryMissesH   = "The total number of history queries that returned no data"
	HistoryMissesN   = "xrsync_history_misses"

	ExtrapolationH = "How far prediction queries lie past the newest tracking sample, in seconds"
	ExtrapolationN = "xrsync_prediction_extrapolation_seconds"
)

// Metrics holds the server collectors
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	TimesyncQueries prometheus.Counter
	TimesyncSamples prometheus.Counter
	TimesyncRTT     prometheus.Histogram
	ClockOffset     *prometheus.GaugeVec
	ClockDrift      *prometheus.GaugeVec

	HistoryInserted *prometheus.CounterVec
	HistoryRejected *prometheus.CounterVec
	HistoryMisses   prometheus.Counter

	Extrapolation prometheus.Histogram
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: SessionsActiveN,
			Help: SessionsActiveH,
		}),
		TimesyncQueries: f.NewCounter(prometheus.CounterOpts{
			Name: TimesyncQueriesN,
			Help: TimesyncQueriesH,
		}),
		TimesyncSamples: f.NewCounter(prometheus.CounterOpts{
			Name: TimesyncSamplesN,
			Help: TimesyncSamplesH,
		}),
		TimesyncRTT: f.NewHistogram(prometheus.HistogramOpts{
			Name:    TimesyncRTTN,
			Help:    TimesyncRTTH,
			Buckets: prometheus.ExponentialBuckets(100e-6, 2, 12),
		}),
		ClockOffset: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: ClockOffsetN,
			Help: ClockOffsetH,
		}, []string{"session"}),
		ClockDrift: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: ClockDriftN,
			Help: ClockDriftH,
		}, []string{"session"}),

		HistoryInserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: HistoryInsertedN,
			Help: HistoryInsertedH,
		}, []string{"stream"}),
		HistoryRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: HistoryRejectedN,
			Help: HistoryRejectedH,
		}, []string{"stream"}),
		HistoryMisses: f.NewCounter(prometheus.CounterOpts{
			Name: HistoryMissesN,
			Help: HistoryMissesH,
		}),

		Extrapolation: f.NewHistogram(prometheus.HistogramOpts{
			Name:    ExtrapolationN,
			Help:    ExtrapolationH,
			Buckets: prometheus.ExponentialBuckets(1e-3, 2, 11),
		}),
	}
}

// ForgetSession drops the per-session series
func (m *Metrics) ForgetSession(id string) {
	m.ClockOffset.DeleteLabelValues(id)
	m.ClockDrift.DeleteLabelValues(id)
}
