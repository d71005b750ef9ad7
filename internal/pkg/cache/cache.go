package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/tiergate/internal/pkg/config"
)

// idempotency keys live in DB 0, limiter counters in DB 1
const limiterDatabase = 1

func addr(cfg config.IdempotencyConfig) string {
	return fmt.Sprintf("%s:%s", cfg.CacheHost, cfg.CachePort)
}

// NewClient connects to the Redis/Dragonfly cache and verifies it answers.
func NewClient(ctx context.Context, cfg config.IdempotencyConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr(cfg),
		Password: cfg.CachePassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect cache %s: %w", addr(cfg), err)
	}
	log.Infof("[Cache] Connected to %s: %s", addr(cfg), pong)
	return client, nil
}

// LimiterStorage returns a fiber.Storage for the rate limiter on the same
// cache server, so limits hold across instances.
func LimiterStorage(cfg config.IdempotencyConfig) fiber.Storage {
	port, err := strconv.Atoi(cfg.CachePort)
	if err != nil {
		port = 6379
	}
	return fiberredis.New(fiberredis.Config{
		Host:     cfg.CacheHost,
		Port:     port,
		Password: cfg.CachePassword,
		Database: limiterDatabase,
		Reset:    false,
	})
}
