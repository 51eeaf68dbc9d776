package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage stores snapshots in sorted sets scored by timestamp
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	cleanups  atomic.Int64
}

// NewRedisStorage creates a new Redis storage
func NewRedisStorage(client *redis.Client, keyPrefix string, retention time.Duration) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = "hostkit"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix, retention: retention}
}

func (r *RedisStorage) key(extensionName, metricType string) string {
	return fmt.Sprintf("%s:metrics:%s:%s", r.keyPrefix, extensionName, metricType)
}

// Store stores a single snapshot
func (r *RedisStorage) Store(ctx context.Context, snapshot *Snapshot) error {
	if err := validateSnapshot("store", snapshot); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return NewMetricError("store", "failed to marshal snapshot", err)
	}

	key := r.key(snapshot.ExtensionName, snapshot.MetricType)
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(snapshot.Timestamp.UnixNano()), Member: string(data)})
	pipe.Expire(ctx, key, r.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewMetricError("store", "failed to store snapshot in redis", err)
	}
	return nil
}

// StoreBatch stores multiple snapshots in one pipeline
func (r *RedisStorage) StoreBatch(ctx context.Context, snapshots []*Snapshot) error {
	groups := make(map[string][]redis.Z)
	for _, snapshot := range snapshots {
		if validateSnapshot("store_batch", snapshot) != nil {
			continue
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			continue
		}
		key := r.key(snapshot.ExtensionName, snapshot.MetricType)
		groups[key] = append(groups[key], redis.Z{Score: float64(snapshot.Timestamp.UnixNano()), Member: string(data)})
	}
	if len(groups) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, members := range groups {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewMetricError("store_batch", "failed to store batch in redis", err)
	}
	return nil
}

// GetLatest returns the newest snapshots of an extension
func (r *RedisStorage) GetLatest(ctx context.Context, extensionName string, limit int) ([]*Snapshot, error) {
	if extensionName == "" {
		return nil, NewMetricError("get_latest", "extension name cannot be empty", nil)
	}
	keys, err := r.scanKeys(ctx, r.key(extensionName, "*"))
	if err != nil {
		return nil, NewMetricError("get_latest", "failed to scan keys", err)
	}

	perKey := int64(limit)
	if limit <= 0 {
		perKey = 100
	}

	var result []*Snapshot
	for _, key := range keys {
		members, err := r.client.ZRevRange(ctx, key, 0, perKey-1).Result()
		if err != nil {
			continue
		}
		for _, member := range members {
			var snapshot Snapshot
			if err := json.Unmarshal([]byte(member), &snapshot); err == nil {
				result = append(result, &snapshot)
			}
		}
	}
	return newestFirst(result, limit), nil
}

// Cleanup drops snapshots older than before
func (r *RedisStorage) Cleanup(ctx context.Context, before time.Time) error {
	keys, err := r.scanKeys(ctx, fmt.Sprintf("%s:metrics:*", r.keyPrefix))
	if err != nil {
		return NewMetricError("cleanup", "failed to scan keys", err)
	}
	if len(keys) == 0 {
		return nil
	}

	max := "(" + strconv.FormatInt(before.UnixNano(), 10)
	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.ZRemRangeByScore(ctx, key, "-inf", max)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return NewMetricError("cleanup", "failed to remove old snapshots", err)
	}
	r.cleanups.Add(1)
	return nil
}

// GetStats returns storage statistics
func (r *RedisStorage) GetStats(ctx context.Context) *StorageStats {
	stats := &StorageStats{Type: "redis", PerKey: make(map[string]int64), Cleanups: r.cleanups.Load()}

	keys, err := r.scanKeys(ctx, fmt.Sprintf("%s:metrics:*", r.keyPrefix))
	if err != nil {
		stats.LastErr = err.Error()
		return stats
	}
	stats.Keys = len(keys)

	prefix := r.keyPrefix + ":metrics:"
	for _, key := range keys {
		count, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			continue
		}
		stats.Total += count
		stats.PerKey[strings.TrimPrefix(key, prefix)] = count
	}
	return stats
}

// scanKeys uses SCAN so large keyspaces are not blocked
func (r *RedisStorage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Close closes the redis client
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
