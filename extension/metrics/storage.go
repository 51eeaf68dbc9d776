package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/hostkit/config"
	"github.com/redis/go-redis/v9"
)

// Storage persists metric snapshots
type Storage interface {
	Store(ctx context.Context, snapshot *Snapshot) error
	StoreBatch(ctx context.Context, snapshots []*Snapshot) error
	// GetLatest returns the newest snapshots of an extension, newest first
	GetLatest(ctx context.Context, extensionName string, limit int) ([]*Snapshot, error)
	Cleanup(ctx context.Context, before time.Time) error
	GetStats(ctx context.Context) *StorageStats
}

// NewStorage builds the storage selected by the metrics configuration
func NewStorage(ctx context.Context, conf *config.Metrics) (Storage, error) {
	if conf == nil || conf.Storage == "" || conf.Storage == "memory" {
		return NewMemoryStorage(), nil
	}
	if conf.Storage != "redis" {
		return nil, fmt.Errorf("unknown metrics storage %q", conf.Storage)
	}
	if conf.Redis == nil || conf.Redis.Addr == "" {
		return nil, fmt.Errorf("redis metrics storage requires metrics.redis.addr")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         conf.Redis.Addr,
		Password:     conf.Redis.Password,
		DB:           conf.Redis.DB,
		DialTimeout:  conf.Redis.DialTimeout,
		ReadTimeout:  conf.Redis.ReadTimeout,
		WriteTimeout: conf.Redis.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection test failed: %w", err)
	}
	return NewRedisStorage(client, conf.KeyPrefix, conf.Retention), nil
}

// MemoryStorage stores metrics in memory
type MemoryStorage struct {
	mu       sync.RWMutex
	data     map[string][]*Snapshot // key: extension_name:metric_type
	total    int64
	cleanups int64
}

// NewMemoryStorage creates a new memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]*Snapshot)}
}

func memoryKey(extensionName, metricType string) string {
	return extensionName + ":" + metricType
}

// Store stores a single snapshot
func (m *MemoryStorage) Store(_ context.Context, snapshot *Snapshot) error {
	if err := validateSnapshot("store", snapshot); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(snapshot.ExtensionName, snapshot.MetricType)
	m.data[key] = append(m.data[key], snapshot)
	m.total++
	return nil
}

// StoreBatch stores multiple snapshots, skipping invalid ones
func (m *MemoryStorage) StoreBatch(_ context.Context, snapshots []*Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snapshot := range snapshots {
		if validateSnapshot("store_batch", snapshot) != nil {
			continue
		}
		key := memoryKey(snapshot.ExtensionName, snapshot.MetricType)
		m.data[key] = append(m.data[key], snapshot)
		m.total++
	}
	return nil
}

// GetLatest returns the newest snapshots of an extension
func (m *MemoryStorage) GetLatest(_ context.Context, extensionName string, limit int) ([]*Snapshot, error) {
	if extensionName == "" {
		return nil, NewMetricError("get_latest", "extension name cannot be empty", nil)
	}

	m.mu.RLock()
	var result []*Snapshot
	prefix := extensionName + ":"
	for key, snapshots := range m.data {
		if strings.HasPrefix(key, prefix) {
			result = append(result, snapshots...)
		}
	}
	m.mu.RUnlock()

	return newestFirst(result, limit), nil
}

// Cleanup drops snapshots older than before
func (m *MemoryStorage) Cleanup(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, snapshots := range m.data {
		kept := snapshots[:0]
		for _, s := range snapshots {
			if s.Timestamp.After(before) {
				kept = append(kept, s)
			}
		}
		m.total -= int64(len(snapshots) - len(kept))
		if len(kept) == 0 {
			delete(m.data, key)
		} else {
			m.data[key] = kept
		}
	}
	m.cleanups++
	return nil
}

// GetStats returns storage statistics
func (m *MemoryStorage) GetStats(context.Context) *StorageStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perKey := make(map[string]int64, len(m.data))
	for key, snapshots := range m.data {
		perKey[key] = int64(len(snapshots))
	}
	return &StorageStats{
		Type:     "memory",
		Total:    m.total,
		Keys:     len(m.data),
		PerKey:   perKey,
		Cleanups: m.cleanups,
	}
}

func newestFirst(snapshots []*Snapshot, limit int) []*Snapshot {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots
}
