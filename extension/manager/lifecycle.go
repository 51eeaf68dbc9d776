package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/permission"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Enable enables a loaded extension. Declared commands and permissions
// are registered before the enable hook runs. A failing hook is logged
// and published as an ExceptionEvent; the extension is not reverted.
// The returned error is only set when ext is not loaded by this manager.
func (m *Manager) Enable(ctx context.Context, ext types.Extension) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.enable(ctx, ext)
}

// EnableAll enables every loaded extension in load order
func (m *Manager) EnableAll(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	for _, ext := range m.Extensions() {
		_ = m.enable(ctx, ext)
	}
}

func (m *Manager) enable(ctx context.Context, ext types.Extension) (err error) {
	e := m.entryOf(ext)
	if e == nil {
		return fmt.Errorf("extension %v is not loaded by this manager", extName(ext))
	}
	if ext.IsEnabled() {
		return nil
	}

	desc := ext.Descriptor()
	ctx, _ = logger.EnsureTraceID(ctx)
	ctx = logger.WithExtension(ctx, ext.Name())
	ctx, span := m.startSpan(ctx, "extension.enable", desc)
	defer func() { endSpan(span, err) }()

	logger.Infof(ctx, "Enabling %s", desc.FullName())
	start := time.Now()

	if len(desc.Commands) > 0 {
		if cerr := m.commands.RegisterAll(types.NormalizeName(desc.Name), ext, desc.Commands); cerr != nil {
			logger.Warnf(ctx, "Some commands of %s could not be registered: %v", desc.FullName(), cerr)
		}
	}
	m.registerPermissions(ctx, desc)

	ext.SetEnabled(true)
	hookErr := types.SafeCall(func() error { return ext.OnEnable(ctx) })
	if hookErr != nil {
		m.reportHookFailure(ctx, desc, "enabling", hookErr)
		span.RecordError(hookErr)
	}
	m.setState(e, types.StateEnabled)
	m.collector.ExtensionEnabled(ext.Name(), time.Since(start), hookErr)

	m.publish(ctx, event.NewExtensionEvent(event.KindExtensionEnable, ext))
	m.bus.BakeAll()
	return nil
}

// registerPermissions registers the permissions declared by desc quietly
// and then notifies both tiers once. Duplicates are only logged.
func (m *Manager) registerPermissions(ctx context.Context, desc *types.Descriptor) {
	if len(desc.Permissions) == 0 {
		return
	}

	registered := 0
	for _, spec := range desc.Permissions {
		def, err := permission.ParseDefault(spec.Default)
		if err != nil {
			logger.Warnf(ctx, "Permission %s of %s has an invalid default: %v", spec.Name, desc.FullName(), err)
			def = permission.DefaultOp
		}
		err = m.permissions.RegisterQuiet(permission.New(spec.Name, spec.Description, def))
		if errors.Is(err, types.ErrDuplicatePermission) {
			logger.Warnf(ctx, "Plugin %s tried to register permission '%s' but it's already registered", desc.FullName(), spec.Name)
			continue
		}
		if err != nil {
			logger.Warnf(ctx, "Could not register permission %s of %s: %v", spec.Name, desc.FullName(), err)
			continue
		}
		registered++
	}

	if registered > 0 {
		m.permissions.NotifyDefaults(permission.Elevated)
		m.permissions.NotifyDefaults(permission.Standard)
	}
}

// Disable disables an enabled extension. Every cleanup step runs even
// when an earlier one fails. When release is set, the loader releases the
// resources it holds for ext.
func (m *Manager) Disable(ctx context.Context, ext types.Extension, release bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.disable(ctx, ext, release)
}

func (m *Manager) disable(ctx context.Context, ext types.Extension, release bool) (err error) {
	e := m.entryOf(ext)
	if e == nil {
		return fmt.Errorf("extension %v is not loaded by this manager", extName(ext))
	}
	if !ext.IsEnabled() {
		return nil
	}

	desc := ext.Descriptor()
	ctx, _ = logger.EnsureTraceID(ctx)
	ctx = logger.WithExtension(ctx, ext.Name())
	ctx, span := m.startSpan(ctx, "extension.disable", desc)
	defer func() { endSpan(span, err) }()

	logger.Infof(ctx, "Disabling %s", desc.FullName())

	m.step(ctx, desc, "disabling", func() error {
		m.publish(ctx, event.NewExtensionEvent(event.KindExtensionDisable, ext))
		ext.SetEnabled(false)
		return ext.OnDisable(ctx)
	})
	if release {
		m.step(ctx, desc, "releasing", func() error {
			return m.release(e)
		})
	}
	m.step(ctx, desc, "cancelling tasks for", func() error {
		return m.scheduler.CancelTasks(ext)
	})
	m.step(ctx, desc, "unregistering services for", func() error {
		return m.services.UnregisterAll(ctx, ext)
	})
	m.step(ctx, desc, "unregistering events for", func() error {
		m.bus.UnsubscribeAll(ext)
		return nil
	})
	m.step(ctx, desc, "unregistering incoming plugin channels for", func() error {
		return m.messenger.UnregisterIncoming(ext)
	})
	m.step(ctx, desc, "unregistering outgoing plugin channels for", func() error {
		return m.messenger.UnregisterOutgoing(ext)
	})
	m.step(ctx, desc, "unregistering commands for", func() error {
		return m.commands.UnregisterAll(ext)
	})

	m.setState(e, types.StateDisabled)
	m.collector.ExtensionDisabled(ext.Name())
	return nil
}

// DisableAll disables every loaded extension in reverse load order
func (m *Manager) DisableAll(ctx context.Context, release bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.disableAll(ctx, release)
}

func (m *Manager) disableAll(ctx context.Context, release bool) {
	exts := m.Extensions()
	for i := len(exts) - 1; i >= 0; i-- {
		_ = m.disable(ctx, exts[i], release)
	}
}

// Unload disables the named extension with release and drops it from the
// registry
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ext, ok := m.Extension(name)
	if !ok {
		return fmt.Errorf("extension %s is not loaded", name)
	}
	e := m.entryOf(ext)
	if ext.IsEnabled() {
		_ = m.disable(ctx, ext, true)
	} else {
		m.step(ctx, ext.Descriptor(), "releasing", func() error { return m.release(e) })
	}

	m.mu.Lock()
	delete(m.lookup, types.LookupKey(ext.Name()))
	for i, candidate := range m.extensions {
		if candidate == e {
			m.extensions = append(m.extensions[:i:i], m.extensions[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.removeBreaker(ext.Name())
	m.collector.ExtensionUnloaded(ext.Name())
	logger.Infof(ctx, "Unloaded %s", ext.Descriptor().FullName())
	return nil
}

// UnloadAll disables every extension with release, clears the registry,
// every event subscription and file association, and resets the
// permission registry
func (m *Manager) UnloadAll(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.disableAll(ctx, true)

	m.mu.Lock()
	unloaded := m.extensions
	m.extensions = nil
	m.lookup = make(map[string]*entry)
	m.associations = nil
	m.mu.Unlock()

	m.bus.Clear()
	m.permissions.ClearAll()

	m.breakerMu.Lock()
	clear(m.breakers)
	m.breakerMu.Unlock()

	for _, e := range unloaded {
		m.collector.ExtensionUnloaded(e.ext.Name())
	}
	logger.Infof(ctx, "Unloaded %d extension(s)", len(unloaded))
}

func (m *Manager) release(e *entry) error {
	if r, ok := e.loader.(Releaser); ok {
		return r.Release(e.ext)
	}
	return nil
}

// step runs one isolated lifecycle step. Failures, including panics, are
// logged and published as an ExceptionEvent.
func (m *Manager) step(ctx context.Context, desc *types.Descriptor, name string, fn func() error) {
	if err := types.SafeCall(fn); err != nil {
		m.reportHookFailure(ctx, desc, name, err)
	}
}

func (m *Manager) reportHookFailure(ctx context.Context, desc *types.Descriptor, step string, err error) {
	hookErr := &types.HookError{Extension: desc.FullName(), Step: step, Err: err}
	logger.Errorf(ctx, "%v", hookErr)
	m.publish(ctx, event.NewExceptionEvent(hookErr, false))
}

func (m *Manager) publish(ctx context.Context, ev event.Event) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		logger.Errorf(ctx, "Could not publish %s: %v", ev.Kind(), err)
	}
}

func extName(ext types.Extension) string {
	if ext == nil {
		return "<nil>"
	}
	return ext.Name()
}
