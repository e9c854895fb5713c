// Command federate-demo runs a single federate runtime core: it connects
// to an RTI, establishes P2P links with its peers, negotiates a
// coordinated start time, and then serves the NET/TAG/LTC time-advance
// protocol until told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lfed/federate/internal/adminapi"
	"github.com/lfed/federate/internal/config"
	"github.com/lfed/federate/internal/federate"
	"github.com/lfed/federate/internal/identity"
	federatemetrics "github.com/lfed/federate/internal/metrics"
	"github.com/lfed/federate/internal/rti"
	appversion "github.com/lfed/federate/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP server
// to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("federate-demo starting",
		slog.String("version", appversion.Version),
		slog.Uint64("fed_id", uint64(cfg.Federate.FedID)),
		slog.String("federation_id", cfg.Federate.FederationID),
		slog.String("rti_addr", fmt.Sprintf("%s:%d", cfg.RTI.Host, cfg.RTI.Port)),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := federatemetrics.NewCollector(reg)

	// 5. Build the runtime.
	id := identity.Identity{FedID: cfg.Federate.FedID, FederationID: cfg.Federate.FederationID}
	rt := federate.New(federate.Options{
		Identity: id,
		RTIHost:  cfg.RTI.Host,
		RTIPort:  cfg.RTI.Port,
		Retries: rti.RetryPolicy{
			StartingPort:              cfg.Timing.StartingPort,
			PortRangeLimit:            cfg.Timing.PortRangeLimit,
			ConnectNumRetries:         cfg.Timing.ConnectNumRetries,
			ConnectRetryInterval:      cfg.Timing.ConnectRetryInterval,
			AddressQueryRetryInterval: cfg.Timing.AddressQueryRetryInterval,
		},
		Topology: federate.Topology{
			HasUpstream:        cfg.Topology.HasUpstream,
			HasDownstream:      cfg.Topology.HasDownstream,
			NumInboundPhysical: cfg.Topology.NumInboundPhysical,
			OutboundPeers:      cfg.Topology.OutboundPeers,
		},
		RunDuration: cfg.Timing.RunDuration,
		FastMode:    cfg.Timing.FastMode,
		Logger:      logger,
		Metrics:     collector,
	})

	// 6. Run servers.
	if err := runServers(cfg, rt, id, reg, logger); err != nil {
		logger.Error("federate-demo exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("federate-demo stopped")
	return 0
}

// runServers sequences the runtime bootstrap and the metrics/admin HTTP
// servers using an errgroup with signal-aware context for graceful
// shutdown.
func runServers(
	cfg *config.Config,
	rt *federate.Runtime,
	id identity.Identity,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := adminapi.NewServer(id, rt, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return adminSrv.ListenAndServe(cfg.Admin.Addr)
	})

	g.Go(func() error {
		return rt.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, rt, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// gracefulShutdown closes the runtime's peer links and RTI connection,
// then drains the metrics HTTP server and closes the admin server
// immediately (without draining).
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	rt *federate.Runtime,
	adminSrv *adminapi.Server,
	metricsSrv *http.Server,
) error {
	logger := slog.Default()
	logger.Info("initiating graceful shutdown")

	rt.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown metrics server: %w", err))
	}
	if err := adminSrv.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown admin server: %w", err))
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using a ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
