package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/config"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/resilience"
)

const (
	roomSetKey      = "translate:rooms"
	syncCallTimeout = 3 * time.Second
	utteranceTTL    = 24 * time.Hour
)

// Redis mirrors room and utterance state into Redis so dashboards and other
// services can observe the gateway. Every notification runs on its own
// goroutine with a bounded retry; the hot path never waits on Redis.
type Redis struct {
	client      *redis.Client
	retryConfig *resilience.RetryConfig
	logger      zerolog.Logger
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.WithComponent("persist"),
	}, nil
}

// RoomCreated implements Notifier.
func (r *Redis) RoomCreated(info RoomInfo) {
	go r.sync("room_created", func(ctx context.Context) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, roomKey(info.Code), data, 0)
		pipe.SAdd(ctx, roomSetKey, info.Code)
		_, err = pipe.Exec(ctx)
		return err
	})
}

// RoomDeleted implements Notifier.
func (r *Redis) RoomDeleted(code, reason string) {
	go r.sync("room_deleted", func(ctx context.Context) error {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, roomKey(code))
		pipe.SRem(ctx, roomSetKey, code)
		pipe.Expire(ctx, utteranceKey(code), utteranceTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// UtteranceFinal implements Notifier.
func (r *Redis) UtteranceFinal(u FinalUtterance) {
	go r.sync("utterance_final", func(ctx context.Context) error {
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return r.client.RPush(ctx, utteranceKey(u.RoomCode), data).Err()
	})
}

// Ping verifies the server is still reachable. Used by readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) sync(event string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), syncCallTimeout*time.Duration(r.retryConfig.MaxAttempts))
	defer cancel()

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, syncCallTimeout)
		defer cancel()
		return fn(callCtx)
	}, r.retryConfig, func(error) bool { return true })
	if err != nil {
		r.logger.Warn().Err(err).Str("event", event).Msg("Sync to redis failed, giving up")
		observability.RecordError("sync_"+event, "persist")
	}
}

func roomKey(code string) string {
	return "translate:room:" + code
}

func utteranceKey(code string) string {
	return "translate:room:" + code + ":utterances"
}
