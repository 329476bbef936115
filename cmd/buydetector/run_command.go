package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/buydetector/service/config"
	"github.com/brojonat/buydetector/service/detector"
	"github.com/brojonat/buydetector/service/metrics"
	natspkg "github.com/brojonat/buydetector/service/nats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the detector",
		Description: `Sends a startup message to every chat, then polls the watched wallet until
interrupted. Configuration is read from the environment (see service/config).

Prometheus metrics are served on METRICS_ADDR at /metrics, liveness at /health.`,
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runDetector(c.Context, cfg)
		},
	}
}

func runDetector(parent context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting buydetector",
		"version", version,
		"wallet", cfg.WatchedAddress.String(),
		"mint", cfg.WrappedSOLMint.String(),
		"poll_interval", cfg.PollInterval,
		"chats", len(cfg.ChatIDs),
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewMetrics(registry)

	ledger, err := newLedgerClient(cfg.SolanaRPCURLs, metricsCollector, logger)
	if err != nil {
		return fmt.Errorf("failed to create solana client: %w", err)
	}

	oracle, err := newPriceOracle(cfg, metricsCollector, logger)
	if err != nil {
		return fmt.Errorf("failed to create price oracle: %w", err)
	}

	deps := detector.Dependencies{
		Ledger: ledger,
		Sink:   newSink(cfg, metricsCollector, logger),
		Price:  oracle,
	}
	if cfg.BalanceQueryEnabled {
		deps.Balance = ledger
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			return fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		defer publisher.Close()
		deps.Publisher = publisher
	} else {
		logger.Info("NATS_URL not set, transfer events will not be published")
	}

	det, err := detector.New(detector.Config{
		Wallet:       cfg.WatchedAddress,
		Mint:         cfg.WrappedSOLMint,
		PollInterval: cfg.PollInterval,
		PriceAsset:   cfg.PriceAsset,
		Recipients:   cfg.ChatIDs,
		Formatter:    newFormatter(cfg),
	}, deps, metricsCollector, logger)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	// Start metrics HTTP server
	httpServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newHTTPHandler(registry, metricsCollector, det, cfg.PollInterval),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	if err := det.SelfTest(ctx); err != nil {
		// The sink may be partially misconfigured; detection still runs.
		logger.Error("startup self-test failed", "error", err)
	}

	state := detector.ResumeDedupState(cfg.StartAfterSignature)
	if err := det.Run(ctx, state); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// newHTTPHandler serves metrics and a liveness check that fails once no
// detection cycle has finished for a while.
func newHTTPHandler(registry *prometheus.Registry, m *metrics.Metrics, det *detector.Detector, interval time.Duration) http.Handler {
	maxAge := 3 * interval
	if maxAge < time.Minute {
		maxAge = time.Minute
	}
	started := time.Now()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/health", metrics.HTTPMetricsMiddleware(m, "/health")(healthHandler(det.LastCycleAt, started, maxAge)))
	return mux
}

func healthHandler(lastCycle func() time.Time, started time.Time, maxAge time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last := lastCycle()
		reference := last
		if reference.IsZero() {
			reference = started
		}

		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		if !last.IsZero() {
			body["last_cycle"] = last.UTC().Format(time.RFC3339)
		}
		if time.Since(reference) > maxAge {
			status = http.StatusServiceUnavailable
			body["status"] = "stalled"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
}
