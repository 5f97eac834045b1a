package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/app"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/extraction"
	"github.com/your-org/facegate/internal/identity"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/locks"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/promotion"
	"github.com/your-org/facegate/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegate API service",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"dispatch", cfg.Extraction.Dispatch,
		"provider", cfg.Extraction.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, blobs, err := app.Stores(ctx, cfg)
	if err != nil {
		slog.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Vision is optional for the API: without it extraction runs only
	// through workers and enrollment reports a provider failure.
	visionStack, err := app.LoadVision(cfg)
	if err != nil {
		slog.Warn("vision runtime unavailable - enrollment and inline extraction are disabled", "error", err)
	}
	defer visionStack.Close()

	checks := map[string]handlers.Pinger{"store": store, "blobs": blobs}
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	var (
		dispatcher extraction.Dispatcher
		events     identity.EventPublisher
	)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		events = producer
		checks["nats"] = handlers.PingFunc(func(context.Context) error { return producer.Ping() })
		if cfg.Extraction.Dispatch == "nats" {
			dispatcher = producer
		}

		// Recognition events from every instance reach this instance's sockets.
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		host, _ := os.Hostname()
		err = consumer.ConsumeRecognitions(ctx, "api-ws-"+host, func(_ context.Context, ev models.RecognitionEvent) error {
			hub.BroadcastRecognition(ev)
			return nil
		})
		if err != nil {
			slog.Warn("start recognition consumer", "error", err)
		}
	} else {
		events = hubPublisher{hub: hub}
	}

	engine := extraction.NewEngine(store, blobs, visionStack.Provider, extraction.Options{
		Timeout:    cfg.Extraction.Timeout,
		Workers:    cfg.Extraction.WorkerCount,
		Dispatcher: dispatcher,
	})
	defer engine.Close()

	if dispatcher == nil {
		// Inline jobs die with the process; fail the ones a previous run left behind.
		if _, err := engine.SweepStale(ctx, cfg.Extraction.StaleAfter); err != nil {
			slog.Warn("startup stale sweep", "error", err)
		}
		go engine.RunSweeper(ctx, cfg.Extraction.SweepInterval, cfg.Extraction.StaleAfter)
	}

	jobLocks := &locks.Keyed{}
	ids := identity.NewService(store, blobs, identity.Options{
		Embedder:  visionStack.Embedder,
		Events:    events,
		Threshold: cfg.Vision.RecognitionThreshold,
	})

	router := api.NewRouter(api.RouterConfig{
		APIKeys:        []string{cfg.Server.APIKey, cfg.Server.PreviousAPIKey},
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Actors:         auth.NewActors(ids, cfg.Auth.UserHeader, cfg.Auth.CacheTTL),
		Engine:         engine,
		Labels:         labeling.NewService(store, jobLocks),
		Promotion:      promotion.NewService(store, jobLocks),
		Identity:       ids,
		Hub:            hub,
		Checks:         checks,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// hubPublisher feeds recognition events straight to local sockets when no
// broker is configured.
type hubPublisher struct {
	hub *ws.Hub
}

func (p hubPublisher) PublishRecognition(_ context.Context, ev models.RecognitionEvent) error {
	p.hub.BroadcastRecognition(ev)
	return nil
}
