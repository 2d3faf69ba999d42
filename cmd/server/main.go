package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cutoutlab/cutout/internal/adapter/httpserver"
	"github.com/cutoutlab/cutout/internal/adapter/redis"
	"github.com/cutoutlab/cutout/internal/adapter/websocket"
	"github.com/cutoutlab/cutout/internal/app"
	"github.com/cutoutlab/cutout/internal/domain"
	"github.com/cutoutlab/cutout/internal/platform/config"
	"github.com/cutoutlab/cutout/internal/platform/logging"
	"github.com/cutoutlab/cutout/internal/segmenter"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupWarmupStore prefers redis when configured so the processor-warmed flag
// survives restarts; without redis it degrades to an in-memory flag.
func setupWarmupStore(ctx context.Context, cfg *config.Config) (domain.WarmupStore, func()) {
	if cfg.RedisURL == "" {
		slog.Info("No redis configured, processor warmed flag is process-local")
		return redis.NewMemoryWarmupStore(), func() {}
	}

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Warn("Could not connect to redis, falling back to in-memory warmed flag", "error", err)
		return redis.NewMemoryWarmupStore(), func() {}
	}
	return redis.NewWarmupStore(client), func() { _ = client.Close() }
}

// probeSegmenter checks the processing backend once at startup. An
// unreachable backend does not abort startup: uploads and composition still
// work, only the removal path is gated.
func probeSegmenter(ctx context.Context, client *segmenter.Client) *domain.Failure {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Healthy(probeCtx); err != nil {
		slog.Warn("Segmentation backend unavailable at startup, removal disabled", "error", err)
		return domain.CapabilityFailure("background removal is not available right now")
	}
	return nil
}

func runGracefulShutdown(srv *httpserver.Server, appSvc *app.Service, hub *websocket.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		appSvc.Stop()
		hub.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	warmupStore, closeWarmup := setupWarmupStore(context.Background(), cfg)
	defer closeWarmup()

	segClient := segmenter.NewClient(segmenter.Config{
		BaseURL:        cfg.SegmenterURL,
		MaxRetries:     cfg.RemovalRetries,
		RequestTimeout: cfg.SegmenterTimeout,
	}, clock)
	capability := probeSegmenter(context.Background(), segClient)

	hub := websocket.NewHub()

	appSvc := app.NewService(app.Config{
		CanvasWidth:    cfg.CanvasWidth,
		CanvasHeight:   cfg.CanvasHeight,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, segClient, warmupStore, hub, clock, capability)

	healthChecks := []httpserver.HealthCheck{
		{Name: "segmenter", Check: segClient.Healthy},
	}

	srv := httpserver.NewServer(cfg, appSvc, hub, healthChecks)
	done := runGracefulShutdown(srv, appSvc, hub)

	if err := srv.Start(); err != nil {
		slog.Error("Server stopped", "error", err)
	}

	<-done
	slog.Info("Shutdown complete")
}
