package manager

import (
	"context"
	"regexp"
	"sync"

	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/extension/command"
	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/messaging"
	"github.com/ncobase/hostkit/extension/metrics"
	"github.com/ncobase/hostkit/extension/permission"
	"github.com/ncobase/hostkit/extension/resolver"
	"github.com/ncobase/hostkit/extension/scheduler"
	"github.com/ncobase/hostkit/extension/service"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Loader describes and instantiates extensions from sources
type Loader interface {
	// Patterns returns the file name patterns the loader handles
	Patterns() []*regexp.Regexp
	// Describe parses the descriptor of source
	Describe(source string) (*types.Descriptor, error)
	// Load creates the runtime instance of a described source
	Load(ctx context.Context, source string, desc *types.Descriptor) (types.Extension, error)
}

// Releaser is implemented by loaders holding per-extension resources
type Releaser interface {
	Release(ext types.Extension) error
}

// Scheduler cancels the scheduled work of an extension
type Scheduler interface {
	CancelTasks(ext types.Extension) error
}

// ServiceRegistry drops the services provided by an extension
type ServiceRegistry interface {
	UnregisterAll(ctx context.Context, ext types.Extension) error
}

// Messenger drops the messaging channels of an extension
type Messenger interface {
	UnregisterIncoming(ext types.Extension) error
	UnregisterOutgoing(ext types.Extension) error
}

// CommandRegistry holds the commands declared by extensions
type CommandRegistry interface {
	RegisterAll(prefix string, owner types.Extension, cmds []types.Command) error
	UnregisterAll(owner types.Extension) error
}

type association struct {
	pattern *regexp.Regexp
	loader  Loader
}

type entry struct {
	ext    types.Extension
	loader Loader
	source string
	state  types.State
}

// Manager owns the loaded extensions and drives their lifecycle.
//
// Lifecycle operations are serialized by opMu. The registry indices are
// guarded by mu, so lookups stay available to hooks running under opMu.
// Hooks and subscribers must not call lifecycle operations of the same
// manager synchronously.
type Manager struct {
	opMu sync.Mutex
	mu   sync.RWMutex

	conf     *config.Extension
	resolver *resolver.Resolver

	associations []association
	extensions   []*entry
	lookup       map[string]*entry

	bus         *event.Bus
	permissions *permission.Registry
	commands    CommandRegistry
	scheduler   Scheduler
	services    ServiceRegistry
	messenger   Messenger
	collector   *metrics.Collector
	tracer      trace.Tracer

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

// Option configures a Manager
type Option func(*Manager)

// WithBus sets the event bus
func WithBus(bus *event.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithPermissions sets the permission registry
func WithPermissions(r *permission.Registry) Option {
	return func(m *Manager) { m.permissions = r }
}

// WithCommands sets the command registry
func WithCommands(c CommandRegistry) Option {
	return func(m *Manager) { m.commands = c }
}

// WithScheduler sets the scheduler
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithServices sets the service registry
func WithServices(s ServiceRegistry) Option {
	return func(m *Manager) { m.services = s }
}

// WithMessenger sets the messenger
func WithMessenger(msg Messenger) Option {
	return func(m *Manager) { m.messenger = msg }
}

// WithMetrics sets the metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithTracer sets the tracer used for lifecycle spans
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithLoaders registers loaders at construction
func WithLoaders(loaders ...Loader) Option {
	return func(m *Manager) {
		for _, l := range loaders {
			m.addAssociations(l)
		}
	}
}

// NewManager creates a manager. Collaborators that are not supplied are
// created with the in-process implementations.
func NewManager(conf *config.Extension, opts ...Option) *Manager {
	if conf == nil {
		conf = &config.Extension{}
	}

	m := &Manager{
		conf:     conf,
		resolver: resolver.New(resolver.WithReservedNames(conf.ReservedNames...)),
		lookup:   make(map[string]*entry),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.collector == nil {
		m.collector = metrics.NewCollectorWithMemoryStorage(false)
	}
	if m.bus == nil {
		m.bus = event.NewBus(event.WithRecorder(m.collector))
	}
	if m.permissions == nil {
		m.permissions = permission.NewRegistry()
	}
	if m.commands == nil {
		m.commands = command.NewMap()
	}
	if m.scheduler == nil {
		m.scheduler = scheduler.New(scheduler.DefaultConfig())
	}
	if m.services == nil {
		m.services = service.NewRegistry(service.WithBus(m.bus))
	}
	if m.messenger == nil {
		m.messenger = messaging.New()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/ncobase/hostkit/extension/manager")
	}
	return m
}

// Bus returns the event bus
func (m *Manager) Bus() *event.Bus { return m.bus }

// Permissions returns the permission registry
func (m *Manager) Permissions() *permission.Registry { return m.permissions }

// Commands returns the command registry
func (m *Manager) Commands() CommandRegistry { return m.commands }

// Scheduler returns the scheduler
func (m *Manager) Scheduler() Scheduler { return m.scheduler }

// Services returns the service registry
func (m *Manager) Services() ServiceRegistry { return m.services }

// Messenger returns the messenger
func (m *Manager) Messenger() Messenger { return m.messenger }

// Metrics returns the metrics collector
func (m *Manager) Metrics() *metrics.Collector { return m.collector }

// Extension returns a loaded extension by name. Lookup is
// case-insensitive and treats spaces as underscores.
func (m *Manager) Extension(name string) (types.Extension, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.lookup[types.LookupKey(name)]; ok {
		return e.ext, true
	}
	return nil, false
}

// Extensions returns the loaded extensions in load order
func (m *Manager) Extensions() []types.Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]types.Extension, 0, len(m.extensions))
	for _, e := range m.extensions {
		result = append(result, e.ext)
	}
	return result
}

// State returns the lifecycle state of a loaded extension
func (m *Manager) State(name string) (types.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.lookup[types.LookupKey(name)]; ok {
		return e.state, true
	}
	return "", false
}

// Source returns the source a loaded extension came from
func (m *Manager) Source(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.lookup[types.LookupKey(name)]; ok {
		return e.source, true
	}
	return "", false
}

// IsEnabled reports whether ext is loaded by this manager and enabled
func (m *Manager) IsEnabled(ext types.Extension) bool {
	if ext == nil {
		return false
	}
	return m.entryOf(ext) != nil && ext.IsEnabled()
}

// IsEnabledByName reports whether the named extension is loaded and enabled
func (m *Manager) IsEnabledByName(name string) bool {
	ext, ok := m.Extension(name)
	return ok && ext.IsEnabled()
}

func (m *Manager) entryOf(ext types.Extension) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.extensions {
		if e.ext == ext {
			return e
		}
	}
	return nil
}

func (m *Manager) setState(e *entry, state types.State) {
	m.mu.Lock()
	e.state = state
	m.mu.Unlock()
}
