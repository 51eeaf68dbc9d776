package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ncobase/hostkit/logging/logger"
)

// Collector keeps live per-extension metrics and buffers snapshots into
// a storage backend. It satisfies the event bus recorder interface.
type Collector struct {
	mu         sync.RWMutex
	extensions map[string]*ExtensionMetrics
	system     SystemMetrics
	storage    Storage
	enabled    bool

	bufMu       sync.Mutex
	batchBuffer []*Snapshot
	batchSize   int

	flushInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithBatchSize sets the number of buffered snapshots that triggers a flush
func WithBatchSize(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFlushInterval sets the background flush interval
func WithFlushInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// NewCollector creates a new metrics collector. A nil storage keeps only
// the live aggregates.
func NewCollector(storage Storage, enabled bool, opts ...CollectorOption) *Collector {
	c := &Collector{
		extensions:    make(map[string]*ExtensionMetrics),
		storage:       storage,
		enabled:       enabled,
		batchSize:     100,
		flushInterval: 30 * time.Second,
		stopChan:      make(chan struct{}),
		system:        SystemMetrics{StartTime: time.Now()},
	}
	for _, opt := range opts {
		opt(c)
	}

	if enabled && storage != nil {
		c.wg.Add(1)
		go c.flushRoutine()
	}
	return c
}

// NewCollectorWithMemoryStorage creates collector with memory storage
func NewCollectorWithMemoryStorage(enabled bool, opts ...CollectorOption) *Collector {
	var storage Storage
	if enabled {
		storage = NewMemoryStorage()
	}
	return NewCollector(storage, enabled, opts...)
}

// Storage returns the storage backend
func (c *Collector) Storage() Storage {
	return c.storage
}

// IsEnabled returns whether metrics collection is enabled
func (c *Collector) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled enables or disables metrics collection
func (c *Collector) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Stop stops the background flush and flushes the buffer
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
	c.Flush(context.Background())
}

func (c *Collector) flushRoutine() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush(context.Background())
		case <-c.stopChan:
			return
		}
	}
}

// Flush writes buffered snapshots to storage
func (c *Collector) Flush(ctx context.Context) {
	c.bufMu.Lock()
	batch := c.batchBuffer
	c.batchBuffer = nil
	c.bufMu.Unlock()

	if len(batch) == 0 || c.storage == nil {
		return
	}
	if err := c.storage.StoreBatch(ctx, batch); err != nil {
		logger.Warnf(ctx, "Failed to flush %d metric snapshots: %v", len(batch), err)
	}
}

func (c *Collector) record(name, metricType string, value int64, labels map[string]string) {
	if c.storage == nil {
		return
	}
	c.bufMu.Lock()
	c.batchBuffer = append(c.batchBuffer, &Snapshot{
		ExtensionName: name,
		MetricType:    metricType,
		Value:         value,
		Labels:        labels,
		Timestamp:     time.Now(),
	})
	full := len(c.batchBuffer) >= c.batchSize
	c.bufMu.Unlock()

	if full {
		c.Flush(context.Background())
	}
}

// update applies fn to the metrics of name under the write lock
func (c *Collector) update(name string, fn func(m *ExtensionMetrics)) bool {
	if name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return false
	}
	m, ok := c.extensions[name]
	if !ok {
		m = &ExtensionMetrics{Name: name, Status: "loaded"}
		c.extensions[name] = m
	}
	fn(m)
	return true
}

// ExtensionLoaded records a successful load
func (c *Collector) ExtensionLoaded(name string, duration time.Duration) {
	if c.update(name, func(m *ExtensionMetrics) {
		m.Status = "loaded"
		m.LoadTime = duration.Milliseconds()
		m.LoadedAt = time.Now()
	}) {
		c.record(name, MetricLoadTime, duration.Milliseconds(), nil)
	}
}

// ExtensionEnabled records an enable attempt
func (c *Collector) ExtensionEnabled(name string, duration time.Duration, err error) {
	if c.update(name, func(m *ExtensionMetrics) {
		m.EnableTime = duration.Milliseconds()
		m.EnabledAt = time.Now()
		if err != nil {
			m.Status = "failed"
		} else {
			m.Status = "enabled"
		}
	}) {
		if err != nil {
			c.record(name, MetricEnableFailure, 1, map[string]string{"error": err.Error()})
		}
		c.record(name, MetricEnableTime, duration.Milliseconds(), nil)
	}
}

// ExtensionDisabled records a disable
func (c *Collector) ExtensionDisabled(name string) {
	if c.update(name, func(m *ExtensionMetrics) {
		m.Status = "disabled"
		m.DisabledAt = time.Now()
	}) {
		c.record(name, MetricDisableEvent, 1, nil)
	}
}

// ExtensionUnloaded drops the live metrics of an extension
func (c *Collector) ExtensionUnloaded(name string) {
	c.mu.Lock()
	enabled := c.enabled
	delete(c.extensions, name)
	c.mu.Unlock()
	if enabled && name != "" {
		c.record(name, MetricUnloadEvent, 1, nil)
	}
}

// EventReceived records a delivered event
func (c *Collector) EventReceived(extensionName, eventType string) {
	c.update(extensionName, func(m *ExtensionMetrics) {
		m.EventsReceived++
		c.system.EventsReceived++
	})
}

// HandlerFailed records a failed event handler
func (c *Collector) HandlerFailed(extensionName, eventType string) {
	if c.update(extensionName, func(m *ExtensionMetrics) {
		m.HandlerFailures++
		c.system.HandlerFailures++
	}) {
		c.record(extensionName, MetricHandlerFailure, 1, map[string]string{"event": eventType})
	}
}

// ServiceCalled records a call made through an extension's breaker
func (c *Collector) ServiceCalled(name string, duration time.Duration, err error) {
	if c.update(name, func(m *ExtensionMetrics) {
		m.ServiceCalls++
		if err != nil {
			m.ServiceErrors++
		}
	}) {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.record(name, MetricServiceCall, duration.Milliseconds(), map[string]string{"status": status})
	}
}

// CircuitBreakerStateChanged records a breaker transition
func (c *Collector) CircuitBreakerStateChanged(name, from, to string) {
	if c.update(name, func(m *ExtensionMetrics) {
		m.BreakerState = to
		if to == "open" {
			m.BreakerTrips++
		}
	}) && to == "open" {
		c.record(name, MetricBreakerTrip, 1, map[string]string{"from": from})
	}
}

// GetExtensionMetrics returns a copy of the live metrics of name
func (c *Collector) GetExtensionMetrics(name string) (ExtensionMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.extensions[name]
	if !ok {
		return ExtensionMetrics{}, false
	}
	return *m, true
}

// GetAllExtensionMetrics returns copies of every live aggregate sorted by name
func (c *Collector) GetAllExtensionMetrics() []ExtensionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]ExtensionMetrics, 0, len(c.extensions))
	for _, m := range c.extensions {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetSystemMetrics returns the host-wide aggregate
func (c *Collector) GetSystemMetrics() SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sys := c.system
	sys.Extensions = len(c.extensions)
	for _, m := range c.extensions {
		if m.Status == "enabled" {
			sys.Enabled++
		}
	}
	return sys
}

// Cleanup removes stored snapshots older than retention
func (c *Collector) Cleanup(ctx context.Context, retention time.Duration) error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Cleanup(ctx, time.Now().Add(-retention))
}
