package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/camp-registration/internal/app"
	"github.com/iliyamo/camp-registration/internal/config"
	"github.com/iliyamo/camp-registration/internal/handler"
	"github.com/iliyamo/camp-registration/internal/middleware"
	"github.com/iliyamo/camp-registration/internal/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := config.NewLogger(cfg.Env, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	optional := map[string]handler.Pinger{"redis": nil, "broker": nil}
	if a.Redis != nil {
		optional["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.Publisher != nil {
		optional["broker"] = func(context.Context) error { return a.Publisher.Ping() }
	}

	rh := handler.NewRegistrationHandler(a.Registrations, a.Ledger, a.Finalizer, a.Cleaner, a.Jobs)
	deps := router.Deps{
		Log:           logger,
		JWTSecret:     cfg.JWTSecret,
		Registrations: rh,
		Tents:         handler.NewTentHandler(a.Ledger),
		Jobs:          &handler.JobHandler{Progress: a.Progress},
		Health:        handler.Health(a.DB.PingContext, optional),
		Metrics:       promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		BodyLimit:     "25M",
	}
	if a.Redis != nil {
		if rl := config.LoadRateLimitConfig(); rl.Enabled {
			deps.RateLimit = middleware.NewTokenBucket(rl, a.Redis, logger)
		}
		if cc := config.LoadCacheConfig(); cc.Enabled {
			deps.Cache = middleware.NewRedisCache(cc, a.Redis)
		}
	}
	e := router.New(deps)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
