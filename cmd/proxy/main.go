// Command proxy boots the adaptive reverse proxy: it loads configuration,
// wires the Performance Registry, Selector, Request Log Sink and Proxy
// Handler together, and serves inbound traffic until the process receives a
// shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phi-labs-ltd/adaptive-proxy/internal/config"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/logsink"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/metrics"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/proxyhandler"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/registry"
	"github.com/phi-labs-ltd/adaptive-proxy/internal/selector"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve /metrics on (empty disables it)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	// A bare routing-mode positional argument overrides the config file,
	// mirroring the original proxy's argv[1] handling.
	if flag.NArg() > 0 {
		cfg.RoutingMode = config.ModeFromArg(flag.Arg(0))
	}

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Info("config file not found, using defaults and environment variables", "path", *configPath)
	} else {
		logger.Info("loaded configuration", "path", *configPath)
	}

	reg := registry.New(cfg.Backends, cfg.WindowSize, cfg.EWMAAlpha)
	sel := selector.New(cfg.RoutingMode, cfg.Backends, reg)

	sink, err := logsink.Open(cfg.LogFilePath, logger)
	if err != nil {
		logger.Error("failed to open log sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	var mtr *metrics.Metrics
	if cfg.MetricsAddr != "" {
		mtr = metrics.New()
		go serveMetrics(cfg.MetricsAddr, mtr, logger)
	}

	handler := proxyhandler.New(sel, reg, sink, mtr, cfg.RoutingMode, cfg.RequestTimeout, cfg.Persistent, logger)
	defer handler.Close()

	addr := fmt.Sprintf("%s:%d", cfg.ProxyHost, cfg.ProxyPort)
	listener, err := newListener(addr, cfg.Backlog)
	if err != nil {
		logger.Error("failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}

	server := &http.Server{Handler: handler.Router()}

	variant := "non-persistent"
	if cfg.Persistent {
		variant = "persistent"
	}
	logger.Info("adaptive proxy listening", "addr", addr, "mode", cfg.RoutingMode, "variant", variant, "backends", cfg.Backends, "backlog", cfg.Backlog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

// newListener binds addr using the platform's listen(2) backlog. Go's net
// package has no portable knob to request a specific backlog; backlog is
// retained in Config purely to document deployment intent and is logged at
// startup rather than threaded through a raw syscall.
func newListener(addr string, backlog int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server exited", "error", err)
	}
}
