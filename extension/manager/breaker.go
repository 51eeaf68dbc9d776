package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/ncobase/hostkit/extension/service"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
	"github.com/sony/gobreaker"
)

// ServiceLocator is implemented by service registries that can resolve
// the current provider of a service
type ServiceLocator interface {
	Registration(service string) *service.Registration
}

func (m *Manager) addBreaker(name string) {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf(nil, "Circuit breaker for %s changed from %s to %s", name, from, to)
			m.collector.CircuitBreakerStateChanged(name, from.String(), to.String())
		},
	})

	m.breakerMu.Lock()
	m.breakers[types.LookupKey(name)] = cb
	m.breakerMu.Unlock()
}

func (m *Manager) removeBreaker(name string) {
	m.breakerMu.Lock()
	delete(m.breakers, types.LookupKey(name))
	m.breakerMu.Unlock()
}

// BreakerState returns the circuit breaker state of an extension
func (m *Manager) BreakerState(name string) (gobreaker.State, bool) {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()
	cb, ok := m.breakers[types.LookupKey(name)]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// ExecuteWithCircuitBreaker runs fn through the circuit breaker of the
// named extension. The extension must be enabled.
func (m *Manager) ExecuteWithCircuitBreaker(name string, fn func() (any, error)) (any, error) {
	if !m.IsEnabledByName(name) {
		return nil, fmt.Errorf("%w: %s", types.ErrIllegalAccess, name)
	}

	m.breakerMu.Lock()
	cb, ok := m.breakers[types.LookupKey(name)]
	m.breakerMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("circuit breaker for extension %s not found", name)
	}

	start := time.Now()
	result, err := cb.Execute(func() (any, error) {
		var out any
		callErr := types.SafeCall(func() error {
			var innerErr error
			out, innerErr = fn()
			return innerErr
		})
		return out, callErr
	})
	m.collector.ServiceCalled(name, time.Since(start), err)
	return result, err
}

// CallService resolves the highest priority provider of svc and calls fn
// with it through the provider owner's circuit breaker. Host provided
// services are called directly.
func (m *Manager) CallService(ctx context.Context, svc string, fn func(ctx context.Context, provider any) (any, error)) (any, error) {
	locator, ok := m.services.(ServiceLocator)
	if !ok {
		return nil, fmt.Errorf("service registry %T cannot locate providers", m.services)
	}
	reg := locator.Registration(svc)
	if reg == nil {
		return nil, fmt.Errorf("service %s is not provided", svc)
	}

	if reg.Owner == nil {
		return fn(ctx, reg.Provider)
	}
	return m.ExecuteWithCircuitBreaker(reg.Owner.Name(), func() (any, error) {
		return fn(logger.WithExtension(ctx, reg.Owner.Name()), reg.Provider)
	})
}
