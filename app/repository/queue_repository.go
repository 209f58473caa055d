package repository

import (
	"context"
	"sort"

	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
)

const scanBatchSize = 500

// queueRepository inspects the job queue keys in Redis
type queueRepository struct{}

// NewQueueRepository creates a new queue repository instance
func NewQueueRepository() QueueRepository {
	return &queueRepository{}
}

// GetListLength returns the length of a Redis list
func (r *queueRepository) GetListLength(key string) (int64, error) {
	return cache.GetClient().LLen(context.Background(), key).Result()
}

// GetSortedSetSize returns the number of members of a sorted set, e.g. the delayed jobs
func (r *queueRepository) GetSortedSetSize(key string) (int64, error) {
	return cache.GetClient().ZCard(context.Background(), key).Result()
}

// GetHash returns all fields of a Redis hash
func (r *queueRepository) GetHash(key string) (map[string]string, error) {
	return cache.GetClient().HGetAll(context.Background(), key).Result()
}

// FindKeysByPatterns retrieves keys for the provided Redis match patterns using SCAN.
func (r *queueRepository) FindKeysByPatterns(patterns []string) ([]string, error) {
	redisClient := cache.GetClient()
	ctx := context.Background()

	uniqueKeys := make(map[string]struct{})

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}

		var cursor uint64
		for {
			keys, nextCursor, err := redisClient.Scan(ctx, cursor, pattern, scanBatchSize).Result()
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				uniqueKeys[key] = struct{}{}
			}
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
	}

	keys := make([]string, 0, len(uniqueKeys))
	for key := range uniqueKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteKeys deletes keys in batches and returns the total number of deleted keys.
func (r *queueRepository) DeleteKeys(keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	redisClient := cache.GetClient()
	ctx := context.Background()

	var totalDeleted int64
	for i := 0; i < len(keys); i += scanBatchSize {
		end := i + scanBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		deleted, err := redisClient.Del(ctx, keys[i:end]...).Result()
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted
	}
	return totalDeleted, nil
}
