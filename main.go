// ABOUTME: Entry point for the headset emulator
// ABOUTME: Parses CLI flags, finds a server, and streams synthetic tracking
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xrstream/xrsync-go/internal/discovery"
	"github.com/xrstream/xrsync-go/internal/logging"
	"github.com/xrstream/xrsync-go/pkg/headset"
	"go.uber.org/zap"
)

var (
	serverAddr = flag.String("server", "", "Manual server address host:port (skip mDNS)")
	name       = flag.String("name", "", "Headset friendly name (default: hostname-xrsync-headset)")
	skew       = flag.Duration("skew", 0, "Headset clock offset relative to local time")
	driftPPM   = flag.Float64("drift-ppm", 0, "Headset clock rate error in parts per million")
	rate       = flag.Int("rate", 90, "Tracking sample rate in Hz")
	lead       = flag.Duration("lead", 20*time.Millisecond, "Prediction lead stamped on each pose")
	hands      = flag.Bool("hands", false, "Also stream hand skeletons")
	logFile    = flag.String("log-file", "xrsync-headset.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log := logging.New(logging.Config{File: *logFile, Console: true, Debug: *debug})
	defer log.Sync()

	headsetName := *name
	if headsetName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		headsetName = fmt.Sprintf("%s-xrsync-headset", hostname)
	}

	serverAddress := *serverAddr
	if serverAddress == "" {
		log.Info("starting server discovery")
		disc := discovery.NewManager(discovery.Config{Logger: log})
		disc.Browse()

		select {
		case server := <-disc.Servers():
			serverAddress = server.Addr()
			log.Info("discovered server", zap.String("name", server.Name), zap.String("addr", serverAddress))
		case <-time.After(10 * time.Second):
			log.Fatal("no server found after 10 seconds")
		}
		disc.Stop()
	}

	h, err := headset.New(headset.Config{
		ServerAddr:     serverAddress,
		Name:           headsetName,
		ClockSkew:      *skew,
		DriftPPM:       *driftPPM,
		TrackingRate:   *rate,
		PredictionLead: *lead,
		HandTracking:   *hands,
		Logger:         log,
		OnError: func(err error) {
			log.Debug("headset error", zap.Error(err))
		},
	})
	if err != nil {
		log.Fatal("failed to create headset", zap.Error(err))
	}

	if err := h.Connect(); err != nil {
		log.Fatal("connection failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stats := time.NewTicker(5 * time.Second)
	defer stats.Stop()

loop:
	for {
		select {
		case <-stats.C:
			s := h.Stats()
			log.Info("headset stats",
				zap.Uint64("timesync_queries", s.Queries),
				zap.Uint64("tracking_samples", s.TrackingSamples),
				zap.Uint64("hand_samples", s.HandSamples),
				zap.Uint64("foveation_updates", s.FoveationUpdates),
				zap.Uint64("errors", s.Errors))
		case <-h.Done():
			log.Info("server closed the connection")
			break loop
		case sig := <-sigChan:
			log.Info("shutdown signal received", zap.Stringer("signal", sig))
			break loop
		}
	}

	if err := h.Close(); err != nil {
		log.Warn("error closing headset", zap.Error(err))
	}
	log.Info("headset stopped")
}
