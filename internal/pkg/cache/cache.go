package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/felimargom/ppss/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// SetupCache opens the Redis connection used by the job queue.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warnf("[Cache] could not connect to redis at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] connected to redis at %s: %s", cfg.Addr(), pong)
	}

	return client
}

// Ping checks that the connection is alive.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return redis.ErrClosed
	}
	return client.Ping(ctx).Err()
}

// NewLimiterStorage returns a fiber storage on the same Redis instance for
// the request limiter, so limits hold across server replicas.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: cfg.DB,
	})
}
