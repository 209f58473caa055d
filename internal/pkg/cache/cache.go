package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis server backing the job queue
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")
	db, err := strconv.Atoi(env.GetEnv("CACHE_DB", "0"))
	if err != nil {
		db = 0
	}

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       db,
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to Redis: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// SetClient replaces the shared client, mainly for tests
func SetClient(c *redis.Client) {
	client = c
}

// Ping reports whether Redis answers within timeout
func Ping(timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return GetClient().Ping(pingCtx).Err()
}
