package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clipcast/clipcast/internal/adapter/httpserver"
	"github.com/clipcast/clipcast/internal/auth"
	"github.com/clipcast/clipcast/internal/hub"
	"github.com/clipcast/clipcast/internal/platform/config"
	"github.com/clipcast/clipcast/internal/platform/logging"
	"github.com/clipcast/clipcast/internal/ratelimit"
	"github.com/clipcast/clipcast/internal/stats"
	"github.com/clipcast/clipcast/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupLimiter(cfg *config.Config, clock clockwork.Clock) *ratelimit.Limiter {
	return ratelimit.NewLimiter(clock,
		ratelimit.Tier{Name: ratelimit.TierGeneral, Max: cfg.GeneralRateMax, Window: cfg.GeneralRateWindow},
		ratelimit.Tier{Name: ratelimit.TierAuth, Max: cfg.AuthRateMax, Window: cfg.AuthRateWindow},
		ratelimit.Tier{Name: ratelimit.TierHeavy, Max: cfg.HeavyRateMax, Window: cfg.HeavyRateWindow},
		ratelimit.Tier{Name: ratelimit.TierToken, Max: cfg.TokenRateMax, Window: cfg.TokenRateWindow},
	)
}

func runGracefulShutdown(srv *httpserver.Server, realtimeHub *hub.Hub, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Broadcast the shutdown notice and drain sessions before the
		// background loops stop.
		if err := realtimeHub.Shutdown(shutdownCtx); err != nil {
			slog.Error("Hub shutdown error", "error", err)
		}

		cancel()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	buildInfo := version.Get()
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", buildInfo.Version,
		"commit", buildInfo.Commit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := setupLimiter(cfg, clock)
	go limiter.Run(ctx, cfg.SweepInterval)

	authSvc := auth.NewService(auth.Config{
		APIKey:          cfg.AuthAPIKey,
		SigningSecret:   cfg.AuthSigningSecret,
		TokenExpiry:     cfg.TokenExpiry,
		RefreshWindow:   cfg.TokenRefreshWindow,
		TokenRateMax:    cfg.TokenRateMax,
		TokenRateWindow: cfg.TokenRateWindow,
	}, limiter, clock)
	go authSvc.Blacklist().Run(ctx, cfg.SweepInterval)

	realtimeHub := hub.New(clock, hub.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		GracePeriod:       cfg.SubscriptionGracePeriod,
		SweepInterval:     cfg.SweepInterval,
	})

	sampler := stats.NewSampler(realtimeHub, nil, clock, cfg.StatsInterval)
	go sampler.Run(ctx)

	hostLimiter := hub.NewHostLimiter(cfg.MaxConnectionsPerHost)
	srv := httpserver.NewServer(cfg, authSvc, limiter, hub.NewHandler(realtimeHub, hostLimiter))

	done := runGracefulShutdown(srv, realtimeHub, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
