// ABOUTME: Entry point for the headset streaming server
// ABOUTME: Parses CLI flags and config file, then runs the server with optional TUI
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xrstream/xrsync-go/internal/config"
	"github.com/xrstream/xrsync-go/internal/logging"
	"github.com/xrstream/xrsync-go/internal/tui"
	"github.com/xrstream/xrsync-go/internal/version"
	"github.com/xrstream/xrsync-go/pkg/xrserver"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "", "TOML configuration file")
	port       = flag.Int("port", xrserver.DefaultPort, "WebSocket server port")
	name       = flag.String("name", "", "Server friendly name (default: hostname-xrsync-server)")
	logFile    = flag.String("log-file", "xrsync-server.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	metricsOn  = flag.Bool("metrics", true, "Serve Prometheus metrics on /metrics")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	applyFlags(&cfg)

	useTUI := !*noTUI

	// TUI mode: log only to file
	log := logging.New(logging.Config{
		File:    cfg.LogFile,
		Console: !useTUI,
		Debug:   *debug,
	})
	defer log.Sync()

	serverName := cfg.Name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-xrsync-server", hostname)
	}

	log.Info("starting XRSync server",
		zap.String("name", serverName),
		zap.Int("port", cfg.Port),
		zap.String("version", version.Version),
		zap.String("log_file", cfg.LogFile))

	srv, err := xrserver.NewServer(xrserver.ServerConfig{
		Port:             cfg.Port,
		Name:             serverName,
		EnableMDNS:       cfg.MDNSEnabled(),
		TimesyncInterval: time.Duration(cfg.Timesync.Interval),
		SampleCount:      cfg.Timesync.SampleCount,
		MaxDrift:         cfg.Timesync.MaxDriftPPM * 1e-6,
		HistorySize:      cfg.Tracking.HistorySize,
		PredictionLead:   time.Duration(cfg.Tracking.PredictionLead),
		FramePeriod:      time.Duration(cfg.Tracking.FramePeriod),
		DisableMetrics:   !cfg.MetricsEnabled(),
		Logger:           log,
	})
	if err != nil {
		log.Fatal("failed to create server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down gracefully", zap.Stringer("signal", sig))
		srv.Stop()
	}()

	if useTUI {
		serverTUI := tui.NewServerTUI()
		go runTUI(serverTUI, srv, serverName, cfg.Port, log)
		defer serverTUI.Stop()
	} else {
		log.Info("press Ctrl-C to stop")
	}

	if err := srv.Start(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// applyFlags lets explicitly set flags override the config file
func applyFlags(cfg *config.Server) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "name":
			cfg.Name = *name
		case "log-file":
			cfg.LogFile = *logFile
		case "no-mdns":
			enabled := !*noMDNS
			cfg.EnableMDNS = &enabled
		case "metrics":
			cfg.Telemetry.Metrics = metricsOn
		}
	})
	if cfg.LogFile == "" {
		cfg.LogFile = *logFile
	}
}

// runTUI shows sessions until the user quits
func runTUI(t *tui.ServerTUI, srv *xrserver.Server, name string, port int, log *zap.Logger) {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Update(tui.ServerStatus{Name: name, Port: port, Sessions: srv.Sessions()})
			case <-t.QuitChan():
				log.Info("TUI quit requested, shutting down")
				srv.Stop()
				return
			}
		}
	}()

	if err := t.Start(name, port); err != nil {
		log.Error("TUI error", zap.Error(err))
	}
}
