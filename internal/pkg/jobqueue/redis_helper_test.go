//go:build integration
// +build integration

package jobqueue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// Integration tests use their own logical database so a developer's
// queue on DB 0 is never flushed.
const testRedisDB = 14

// candidateRedisAddrs lists where a test Redis may live: the configured
// cache first, then the compose service name, then localhost.
func candidateRedisAddrs() []string {
	port := env.GetEnv("CACHE_PORT", "6379")
	seen := map[string]bool{}
	var addrs []string
	for _, host := range []string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost"} {
		if host == "" {
			continue
		}
		addr := net.JoinHostPort(host, port)
		if !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// newTestRedisClient connects to the first reachable candidate, flushes the
// test database and flushes it again on cleanup. The test is skipped when
// no Redis answers.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	var lastErr error
	for _, addr := range candidateRedisAddrs() {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       testRedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("flush redis db %d: %v", testRedisDB, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("no reachable Redis for queue integration tests: %v", lastErr)
	return nil
}
