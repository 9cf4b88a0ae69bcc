package main

import (
	"os"

	"github.com/hibiken/asynq"

	"github.com/briangreenhill/harmoney/internal/app"
	"github.com/briangreenhill/harmoney/internal/config"
	"github.com/briangreenhill/harmoney/internal/jobs"
	"github.com/briangreenhill/harmoney/internal/obs"
)

func main() {
	cfg, err := config.Load()
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup error")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueResolve: 10, // higher priority
			jobs.QueueDefault: 5,  // default priority
		},
		Logger: jobs.NewAsynqLogger(logger.With().Str("component", "asynq").Logger()),
	})
	mux := asynq.NewServeMux()
	jobs.NewHandler(a.Resolver, logger.With().Str("component", "worker").Logger(), a.Metrics).Register(mux)

	logger.Info().Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker error")
	}
}
