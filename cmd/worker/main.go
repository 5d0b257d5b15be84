package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/camp-registration/internal/app"
	"github.com/iliyamo/camp-registration/internal/config"
	"github.com/iliyamo/camp-registration/internal/queue"
	"github.com/iliyamo/camp-registration/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := config.NewLogger(cfg.Env, cfg.LogLevel, os.Stdout)
	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBITMQ_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	sched := queue.NewScheduler(a.Jobs, logger)
	for _, s := range []struct{ spec, job string }{
		{cfg.SweepSchedule, service.JobReservationsSweep},
		{cfg.DraftCleanupSchedule, service.JobDraftsCleanup},
	} {
		if s.spec == "" || s.spec == "off" {
			continue
		}
		if err := sched.Add(s.spec, s.job, struct{}{}); err != nil {
			logger.Fatal().Err(err).Msg("invalid schedule")
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	w := queue.NewWorker(cfg.RabbitURL, cfg.JobQueue, a.Runner, a.Publisher, logger)
	logger.Info().Str("queue", cfg.JobQueue).Int("schedules", sched.Entries()).Msg("worker started")
	if err := w.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("worker shut down")
}
