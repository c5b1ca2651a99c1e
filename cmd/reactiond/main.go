// Command reactiond serves the reaction aggregation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Xpertly-in/reactions/api"
	"github.com/Xpertly-in/reactions/api/validator"
	"github.com/Xpertly-in/reactions/postgres"
	"github.com/Xpertly-in/reactions/reaction"
	"github.com/Xpertly-in/reactions/redis"
)

type config struct {
	Addr          string        `env:"ADDR" envDefault:":8080"`
	PostgresDSN   string        `env:"POSTGRES_DSN,required"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	ToggleTimeout time.Duration `env:"TOGGLE_TIMEOUT" envDefault:"3s"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("Server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	rds, err := redis.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	svc := &reaction.Service{
		Store:    pg,
		Counters: rds,
		Profiles: pg,
		Logger:   logger,
		Timeout:  cfg.ToggleTimeout,
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: &api.API{
			Logger:    logger,
			Reactions: svc,
			Val:       validator.New(),
		},
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
