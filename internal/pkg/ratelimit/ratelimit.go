package ratelimit

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// Defaults for the billing status polling endpoints.
const (
	DefaultMax        = 60
	DefaultExpiration = time.Minute
	storageDatabase   = 1 // the job queue uses DB 0
)

var (
	storage     fiber.Storage
	storageOnce sync.Once
)

// Config configures a limiter. A nil Storage keeps counters in memory.
type Config struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

// ConfigFromEnv reads RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_SECONDS.
func ConfigFromEnv() Config {
	cfg := Config{Max: DefaultMax, Expiration: DefaultExpiration}
	if n, err := strconv.Atoi(env.GetEnv("RATE_LIMIT_MAX", "")); err == nil && n > 0 {
		cfg.Max = n
	}
	if n, err := strconv.Atoi(env.GetEnv("RATE_LIMIT_WINDOW_SECONDS", "")); err == nil && n > 0 {
		cfg.Expiration = time.Duration(n) * time.Second
	}
	return cfg
}

// New returns a per-IP limiter answering 429 with a JSON body.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Expiration,
		Storage:    cfg.Storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "billing_status:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down polling",
			})
		},
	})
}

// RedisStorage returns the shared limiter storage on the cache's Redis server.
func RedisStorage() fiber.Storage {
	storageOnce.Do(func() {
		// Get Redis client configuration from existing cache setup
		cacheClient := cache.GetClient()
		host := "localhost"
		port := 6379
		password := env.GetEnv("CACHE_PASSWORD", "")
		if cacheClient != nil {
			addr := cacheClient.Options().Addr
			if h, p, err := net.SplitHostPort(addr); err == nil {
				host = h
				if v, err := strconv.Atoi(p); err == nil {
					port = v
				}
			}
			if p := cacheClient.Options().Password; p != "" {
				password = p
			}
		}

		storage = redis.New(redis.Config{
			Host:     host,
			Port:     port,
			Password: password,
			Database: storageDatabase,
			Reset:    false,
		})
	})
	return storage
}
