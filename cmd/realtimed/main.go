package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/registry"
	"github.com/leadpulse/realtime/src/service"
	"github.com/leadpulse/realtime/src/store"
	"github.com/leadpulse/realtime/src/transport"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.FromEnv()
	ctx := context.Background()

	var (
		loader   store.SyncLoader
		recorder store.HistoryRecorder
	)

	// Persistence is optional: without it the engine runs purely in memory.
	if os.Getenv("MONGO_URI") != "" {
		ms := store.NewMongoStore(store.MongoConfigFromEnv(), logger)
		if err := ms.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("mongo store unavailable, continuing without persistence")
		} else {
			loader = ms
			recorder = ms
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ms.Stop(stopCtx)
			}()
		}
	}

	// Redis, when configured, takes over history recording.
	if os.Getenv("REDIS_ADDR") != "" {
		rh := store.NewRedisHistory(store.RedisConfigFromEnv(), logger)
		if err := rh.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("redis history unavailable, continuing without it")
		} else {
			recorder = rh
			defer rh.Stop()
		}
	}

	svc := service.New(cfg, loader, recorder, logger)

	reaper := registry.NewReaper(svc.Registry(), cfg, logger)
	go reaper.Run()
	defer reaper.Stop()

	handler := transport.NewHandler(svc, reaper, cfg, logger)
	router := chi.NewRouter()
	router.Mount("/realtime", handler.Routes())

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("addr", addr).Msg("realtime server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-stop
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}
