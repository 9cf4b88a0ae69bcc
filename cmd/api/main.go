// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/briangreenhill/harmoney/internal/app"
	"github.com/briangreenhill/harmoney/internal/config"
	"github.com/briangreenhill/harmoney/internal/http/routes"
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

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := asynq.NewClient(redis)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()
	inspector := asynq.NewInspector(redis)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq inspector")
		}
	}()

	opts := routes.ServerOptions{
		Resolver:  a.Resolver,
		Queue:     queue,
		Inspector: inspector,
		APIKey:    cfg.APIKey,
		Logger:    logger,
		Gatherer:  a.Registry,
	}
	if a.Billing != nil {
		opts.Billing = a.Billing
	}
	s := routes.New(opts)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("starting api")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
