package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payflow/internal/config"
	"github.com/noah-isme/payflow/internal/events"
	"github.com/noah-isme/payflow/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis uri")
	}

	srv := asynq.NewServer(taskConn, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{cfg.EventQueue: 1},
	})

	handlers := settlementHandlers{
		invalidator: events.RedisInvalidator{Client: redisClient, Prefix: cfg.HistoryCachePrefix},
		logger:      logger,
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(events.TaskPaymentSettled, handlers.handleSettled)
	mux.HandleFunc(events.TaskPaymentFailed, handlers.handleFailed)

	logger.Info().Str("queue", cfg.EventQueue).Msg("worker starting")
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	if err := srv.Run(mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

type settlementHandlers struct {
	invalidator events.RedisInvalidator
	logger      zerolog.Logger
}

func (h settlementHandlers) handleSettled(ctx context.Context, task *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return fmt.Errorf("decode settled event: %w", err)
	}
	var payload events.SettledPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode settled payload: %w", err)
	}
	if err := h.invalidator.Notify(ctx, ev); err != nil {
		return fmt.Errorf("invalidate caches for %s: %w", payload.OrderID, err)
	}
	h.logger.Info().
		Str("order_id", payload.OrderID).
		Str("user_id", payload.UserID).
		Str("rail", payload.Rail).
		Int64("amount_minor", payload.AmountMinor).
		Msg("settlement processed")
	return nil
}

func (h settlementHandlers) handleFailed(ctx context.Context, task *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return fmt.Errorf("decode failed event: %w", err)
	}
	var payload events.FailedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode failed payload: %w", err)
	}
	h.logger.Warn().
		Str("order_id", payload.OrderID).
		Str("user_id", payload.UserID).
		Str("rail", payload.Rail).
		Str("category", payload.Category).
		Msg("payment failure recorded")
	return nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
