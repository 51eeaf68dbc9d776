package metrics

import (
	"fmt"
	"time"
)

// Metric types recorded per extension
const (
	MetricLoadTime       = "load_time"
	MetricEnableTime     = "enable_time"
	MetricEnableFailure  = "enable_failure"
	MetricDisableEvent   = "disable_event"
	MetricUnloadEvent    = "unload_event"
	MetricEventReceived  = "event_received"
	MetricHandlerFailure = "handler_failure"
	MetricBreakerTrip    = "breaker_trip"
	MetricServiceCall    = "service_call"
)

// Snapshot is a point-in-time metric value of one extension
type Snapshot struct {
	ExtensionName string            `json:"extension_name"`
	MetricType    string            `json:"metric_type"`
	Value         int64             `json:"value"`
	Labels        map[string]string `json:"labels,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ExtensionMetrics is the live aggregate kept per extension
type ExtensionMetrics struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	LoadTime        int64     `json:"load_time_ms"`
	EnableTime      int64     `json:"enable_time_ms"`
	LoadedAt        time.Time `json:"loaded_at"`
	EnabledAt       time.Time `json:"enabled_at,omitempty"`
	DisabledAt      time.Time `json:"disabled_at,omitempty"`
	EventsReceived  int64     `json:"events_received"`
	HandlerFailures int64     `json:"handler_failures"`
	ServiceCalls    int64     `json:"service_calls"`
	ServiceErrors   int64     `json:"service_errors"`
	BreakerState    string    `json:"breaker_state,omitempty"`
	BreakerTrips    int64     `json:"breaker_trips"`
}

// SystemMetrics is the host-wide aggregate
type SystemMetrics struct {
	StartTime       time.Time `json:"start_time"`
	Extensions      int       `json:"extensions"`
	Enabled         int       `json:"enabled"`
	EventsReceived  int64     `json:"events_received"`
	HandlerFailures int64     `json:"handler_failures"`
}

// StorageStats describes the contents of a storage backend
type StorageStats struct {
	Type     string           `json:"type"`
	Total    int64            `json:"total"`
	Keys     int              `json:"keys"`
	PerKey   map[string]int64 `json:"per_key,omitempty"`
	LastErr  string           `json:"last_error,omitempty"`
	Cleanups int64            `json:"cleanups"`
}

// MetricError represents a metric storage error
type MetricError struct {
	Op      string
	Message string
	Err     error
}

// NewMetricError creates a metric error
func NewMetricError(op, message string, err error) *MetricError {
	return &MetricError{Op: op, Message: message, Err: err}
}

func (e *MetricError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metrics %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("metrics %s: %s", e.Op, e.Message)
}

func (e *MetricError) Unwrap() error { return e.Err }

func validateSnapshot(op string, s *Snapshot) error {
	switch {
	case s == nil:
		return NewMetricError(op, "snapshot cannot be nil", nil)
	case s.ExtensionName == "":
		return NewMetricError(op, "extension name cannot be empty", nil)
	case s.MetricType == "":
		return NewMetricError(op, "metric type cannot be empty", nil)
	}
	return nil
}
