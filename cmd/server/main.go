package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signoff-pay/signoff/pkg/agentauth"
	"github.com/signoff-pay/signoff/internal/api"
	"github.com/signoff-pay/signoff/internal/config"
	"github.com/signoff-pay/signoff/internal/intent"
	"github.com/signoff-pay/signoff/internal/logger"
	"github.com/signoff-pay/signoff/internal/metrics"
	"github.com/signoff-pay/signoff/internal/middleware"
	"github.com/signoff-pay/signoff/internal/storage"
)

const sweepBatchSize = 200

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	store, err := storage.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	// Initialize metrics
	metricsService := metrics.New()

	// Initialize repositories and services
	intentRepo := storage.NewIntentRepository(store)
	agentRepo := storage.NewAgentRepository(store)

	intentService := intent.NewService(intentRepo, intent.Config{
		TTL:               cfg.IntentTTL,
		SupportedNetworks: cfg.SupportedNetworks,
		SupportedAssets:   cfg.SupportedAssets,
	}, metricsService)

	// Initialize middleware
	authenticator := agentauth.New(agentRepo, cfg.AuthMaxSkew)
	agentAuthMiddleware := middleware.NewAgentAuthMiddleware(authenticator, metricsService)
	appAuthMiddleware := middleware.NewAppAuthMiddleware(cfg.AppSecretHash)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)

	// Initialize API server
	server := api.NewServer(
		cfg,
		intentService,
		agentRepo,
		agentAuthMiddleware,
		appAuthMiddleware,
		rateLimiter,
		metricsService,
		metricsService.Handler(),
	)

	// Background expiry sweeper: converts overdue PENDING intents to
	// EXPIRED even when nobody reads them
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go runExpirySweeper(sweepCtx, intentService, metricsService, cfg.ExpirySweepInterval)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		stopSweeper()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}

		slog.Info("server stopped")
	}
}

// runExpirySweeper periodically expires overdue intents.
func runExpirySweeper(ctx context.Context, service *intent.Service, metricsService *metrics.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			swept, err := service.SweepExpired(ctx, sweepBatchSize)
			if err != nil {
				logger.Error(ctx, "expiry sweep failed", "error", err)
				continue
			}
			metricsService.ExpirySweep(time.Since(start))
			if swept > 0 {
				logger.Info(ctx, "expired overdue intents", "count", swept)
			}
		}
	}
}
