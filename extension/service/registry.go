package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Priority orders providers of the same service, highest wins
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
)

var priorityNames = [...]string{"lowest", "low", "normal", "high", "highest"}

func (p Priority) String() string {
	if p < Lowest || p > Highest {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Kinds published on the bus when providers come and go
var (
	KindService           = event.InheritKind("Service", nil)
	KindServiceRegister   = event.NewKind("ServiceRegister", KindService)
	KindServiceUnregister = event.NewKind("ServiceUnregister", KindService)
)

// Event carries the registration a service event is about
type Event struct {
	event.Base
	Registration *Registration
}

// Registration binds a provider of a named service to its owner
type Registration struct {
	Service  string
	Provider any
	Owner    types.Extension
	Priority Priority
}

// Registry maps service names to prioritized providers.
// A nil owner registers a host-provided service.
type Registry struct {
	mu        sync.RWMutex
	providers map[string][]*Registration
	bus       *event.Bus
}

// Option configures a Registry
type Option func(*Registry)

// WithBus publishes register and unregister events on bus
func WithBus(bus *event.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// NewRegistry creates an empty service registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{providers: make(map[string][]*Registration)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds a provider for service
func (r *Registry) Register(ctx context.Context, service string, provider any, owner types.Extension, priority Priority) (*Registration, error) {
	if key(service) == "" {
		return nil, errors.New("service name cannot be empty")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider for service %s cannot be nil", service)
	}
	if owner != nil && !owner.IsEnabled() {
		return nil, fmt.Errorf("%w: %s attempted to register service %s while disabled", types.ErrIllegalAccess, owner.Name(), service)
	}

	reg := &Registration{Service: service, Provider: provider, Owner: owner, Priority: priority}

	r.mu.Lock()
	k := key(service)
	list := append(r.providers[k], reg)
	// stable so equal priorities keep registration order
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	r.providers[k] = list
	r.mu.Unlock()

	logger.Debugf(ctx, "Service %s registered by %s with %s priority", service, ownerName(owner), priority)
	r.publish(ctx, KindServiceRegister, reg)
	return reg, nil
}

// Unregister removes a single registration
func (r *Registry) Unregister(ctx context.Context, reg *Registration) bool {
	if reg == nil {
		return false
	}
	removed := r.removeWhere(func(candidate *Registration) bool { return candidate == reg })
	r.notify(ctx, removed)
	return len(removed) > 0
}

// UnregisterAll removes every provider registered by owner
func (r *Registry) UnregisterAll(ctx context.Context, owner types.Extension) error {
	if owner == nil {
		return errors.New("owner cannot be nil")
	}
	removed := r.removeWhere(func(candidate *Registration) bool { return candidate.Owner == owner })
	r.notify(ctx, removed)
	return nil
}

func (r *Registry) removeWhere(match func(*Registration) bool) []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Registration
	for k, list := range r.providers {
		kept := list[:0:0]
		for _, reg := range list {
			if match(reg) {
				removed = append(removed, reg)
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.providers, k)
		} else if len(kept) != len(list) {
			r.providers[k] = kept
		}
	}
	return removed
}

func (r *Registry) notify(ctx context.Context, removed []*Registration) {
	for _, reg := range removed {
		logger.Debugf(ctx, "Service %s unregistered from %s", reg.Service, ownerName(reg.Owner))
		r.publish(ctx, KindServiceUnregister, reg)
	}
}

func (r *Registry) publish(ctx context.Context, kind *event.Kind, reg *Registration) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, &Event{Base: event.NewBase(kind), Registration: reg}); err != nil {
		logger.Warnf(ctx, "Could not publish %s for %s: %v", kind, reg.Service, err)
	}
}

// Load returns the highest priority provider of service
func (r *Registry) Load(service string) (any, bool) {
	reg := r.Registration(service)
	if reg == nil {
		return nil, false
	}
	return reg.Provider, true
}

// Registration returns the highest priority registration of service
func (r *Registry) Registration(service string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.providers[key(service)]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Registrations returns every registration of service, highest first
func (r *Registry) Registrations(service string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Registration(nil), r.providers[key(service)]...)
}

// RegistrationsOf returns every registration owned by owner
func (r *Registry) RegistrationsOf(owner types.Extension) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Registration
	for _, list := range r.providers {
		for _, reg := range list {
			if reg.Owner == owner {
				result = append(result, reg)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Service < result[j].Service })
	return result
}

// IsProvidedFor reports whether any provider exists for service
func (r *Registry) IsProvidedFor(service string) bool {
	return r.Registration(service) != nil
}

// KnownServices returns the names of every provided service
func (r *Registry) KnownServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for _, list := range r.providers {
		names = append(names, list[0].Service)
	}
	sort.Strings(names)
	return names
}

func ownerName(owner types.Extension) string {
	if owner == nil {
		return "host"
	}
	return owner.Name()
}
