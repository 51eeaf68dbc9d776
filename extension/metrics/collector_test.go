package metrics

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ncobase/hostkit/config"
	"github.com/redis/go-redis/v9"
)

func TestCollectorLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewCollectorWithMemoryStorage(true, WithBatchSize(1000))
	defer c.Stop()

	c.ExtensionLoaded("alpha", 5*time.Millisecond)
	c.ExtensionEnabled("alpha", time.Millisecond, nil)
	c.EventReceived("alpha", "ExtensionEnable")
	c.HandlerFailed("alpha", "ExtensionEnable")
	c.ExtensionEnabled("beta", time.Millisecond, errors.New("boom"))

	m, ok := c.GetExtensionMetrics("alpha")
	if !ok {
		t.Fatal("expected metrics for alpha")
	}
	if m.Status != "enabled" || m.EventsReceived != 1 || m.HandlerFailures != 1 {
		t.Errorf("unexpected alpha metrics: %+v", m)
	}
	if b, _ := c.GetExtensionMetrics("beta"); b.Status != "failed" {
		t.Errorf("expected beta failed, got %s", b.Status)
	}

	sys := c.GetSystemMetrics()
	if sys.Extensions != 2 || sys.Enabled != 1 || sys.HandlerFailures != 1 {
		t.Errorf("unexpected system metrics: %+v", sys)
	}

	c.Flush(ctx)
	latest, err := c.Storage().GetLatest(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(latest) != 3 {
		t.Errorf("expected 3 alpha snapshots, got %d", len(latest))
	}

	c.ExtensionDisabled("alpha")
	c.ExtensionUnloaded("alpha")
	if _, ok := c.GetExtensionMetrics("alpha"); ok {
		t.Error("expected alpha metrics to be dropped after unload")
	}
}

func TestCollectorDisabled(t *testing.T) {
	c := NewCollectorWithMemoryStorage(false)
	defer c.Stop()

	c.ExtensionLoaded("alpha", time.Millisecond)
	if _, ok := c.GetExtensionMetrics("alpha"); ok {
		t.Error("disabled collector should not record")
	}
	if c.Storage() != nil {
		t.Error("disabled collector should have no storage")
	}
}

func TestCollectorBreakerTrips(t *testing.T) {
	c := NewCollectorWithMemoryStorage(true, WithBatchSize(1))
	defer c.Stop()

	c.CircuitBreakerStateChanged("alpha", "closed", "open")
	c.CircuitBreakerStateChanged("alpha", "open", "half-open")

	m, _ := c.GetExtensionMetrics("alpha")
	if m.BreakerTrips != 1 || m.BreakerState != "half-open" {
		t.Errorf("unexpected breaker metrics: %+v", m)
	}
	stats := c.Storage().GetStats(context.Background())
	if stats.PerKey["alpha:"+MetricBreakerTrip] != 1 {
		t.Errorf("expected one stored trip, got %v", stats.PerKey)
	}
}

func TestMemoryStorageCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	now := time.Now()

	_ = s.Store(ctx, &Snapshot{ExtensionName: "a", MetricType: "x", Value: 1, Timestamp: now.Add(-2 * time.Hour)})
	_ = s.Store(ctx, &Snapshot{ExtensionName: "a", MetricType: "x", Value: 2, Timestamp: now})
	if err := s.Store(ctx, &Snapshot{MetricType: "x"}); err == nil {
		t.Error("expected error for missing extension name")
	}

	if err := s.Cleanup(ctx, now.Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	latest, _ := s.GetLatest(ctx, "a", 0)
	if len(latest) != 1 || latest[0].Value != 2 {
		t.Errorf("expected only the recent snapshot, got %v", latest)
	}
	if stats := s.GetStats(ctx); stats.Total != 1 || stats.Cleanups != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(ctx, &config.Metrics{Storage: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("expected memory storage, got %T", s)
	}
	if _, err := NewStorage(ctx, &config.Metrics{Storage: "cassette"}); err == nil {
		t.Error("expected error for unknown storage")
	}
	if _, err := NewStorage(ctx, &config.Metrics{Storage: "redis", Redis: &config.Redis{}}); err == nil {
		t.Error("expected error for missing redis address")
	}
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("HOSTKIT_TEST_REDIS")
	if addr == "" {
		t.Skip("HOSTKIT_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisStorage(client, "hostkit_test_"+time.Now().Format("150405.000"), time.Minute)
	defer s.Close()

	now := time.Now()
	err := s.StoreBatch(ctx, []*Snapshot{
		{ExtensionName: "a", MetricType: "x", Value: 1, Timestamp: now.Add(-time.Hour)},
		{ExtensionName: "a", MetricType: "y", Value: 2, Timestamp: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, err := s.GetLatest(ctx, "a", 1)
	if err != nil || len(latest) != 1 || latest[0].Value != 2 {
		t.Fatalf("expected newest snapshot, got %v, %v", latest, err)
	}
	if err := s.Cleanup(ctx, now.Add(-time.Minute)); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if stats := s.GetStats(ctx); stats.Total != 1 {
		t.Errorf("expected 1 snapshot after cleanup, got %+v", stats)
	}
}
