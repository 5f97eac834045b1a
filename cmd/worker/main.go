package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/app"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/extraction"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "listen address for metrics and health")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.NATS.URL == "" {
		slog.Error("extraction worker needs nats.url")
		os.Exit(1)
	}

	slog.Info("starting facegate extraction worker",
		"workers", cfg.Extraction.WorkerCount,
		"provider", cfg.Extraction.Provider,
		"cpu_cores", runtime.NumCPU(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, blobs, err := app.Stores(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	visionStack, err := app.LoadVision(cfg)
	if visionStack.Provider == nil {
		slog.Error("init face provider", "error", err)
		os.Exit(1)
	}
	if err != nil {
		slog.Warn("onnx runtime unavailable", "error", err)
	}
	defer visionStack.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// The worker only runs continuations; the producer stands in as the
	// dispatcher so the engine does not start its own pool.
	engine := extraction.NewEngine(store, blobs, visionStack.Provider, extraction.Options{
		Timeout:    cfg.Extraction.Timeout,
		Dispatcher: producer,
	})
	defer engine.Close()

	if _, err := engine.SweepStale(ctx, cfg.Extraction.StaleAfter); err != nil {
		slog.Warn("startup stale sweep", "error", err)
	}
	go engine.RunSweeper(ctx, cfg.Extraction.SweepInterval, cfg.Extraction.StaleAfter)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeExtractions(ctx, "extraction-workers", func(ctx context.Context, task models.ExtractionTask) error {
		if err := engine.Run(ctx, task.JobID); err != nil {
			return fmt.Errorf("run extraction %s: %w", task.JobID, err)
		}
		return nil
	}, cfg.Extraction.WorkerCount, cfg.Extraction.Timeout)
	if err != nil {
		slog.Error("start extraction consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: metricsMux()}
	go func() {
		slog.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics shutdown error", "error", err)
	}
	slog.Info("worker stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
