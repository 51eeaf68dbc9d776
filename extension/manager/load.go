package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ncobase/hostkit/extension/resolver"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// RegisterLoader associates the file patterns of loader with it. When
// several loaders match a file, the last registered one wins.
func (m *Manager) RegisterLoader(loader Loader) error {
	if loader == nil {
		return errors.New("loader cannot be nil")
	}
	if len(loader.Patterns()) == 0 {
		return fmt.Errorf("loader %T declares no file patterns", loader)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addAssociations(loader)
	return nil
}

func (m *Manager) addAssociations(loader Loader) {
	for _, p := range loader.Patterns() {
		m.associations = append(m.associations, association{pattern: p, loader: loader})
	}
}

// loaderFor returns the last registered loader matching source
func (m *Manager) loaderFor(source string) Loader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name := filepath.Base(source)
	var found Loader
	for _, a := range m.associations {
		if a.pattern.MatchString(name) {
			found = a.loader
		}
	}
	return found
}

// LoadDirectory describes every file of dir with a matching loader,
// resolves their load order and loads them. Failures are logged and
// reported in the result; the error is only set when dir cannot be read.
func (m *Manager) LoadDirectory(ctx context.Context, dir string) (*resolver.Result, error) {
	ctx, _ = logger.EnsureTraceID(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read extension directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := m.startSpan(ctx, "extension.load_directory", nil)
	defer span.End()

	result := &resolver.Result{}
	loaders := make(map[*resolver.Candidate]Loader)
	var candidates []*resolver.Candidate

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		source := filepath.Join(dir, de.Name())
		loader := m.loaderFor(source)
		if loader == nil {
			continue
		}

		c := &resolver.Candidate{Source: source}
		desc, err := loader.Describe(source)
		if err != nil {
			logger.Errorf(ctx, "Could not load '%s' in folder '%s': %v", source, dir, err)
			result.Failures = append(result.Failures, &resolver.Failure{Candidate: c, Err: err})
			continue
		}
		c.Descriptor = desc

		if !m.conf.ShouldLoad(desc.Name) {
			logger.Debugf(ctx, "Skipping %s, filtered by include/exclude configuration", desc.Name)
			continue
		}
		if _, loaded := m.Extension(desc.Name); loaded {
			err := fmt.Errorf("%w: %s", types.ErrDuplicateExtension, desc.Name)
			logger.Errorf(ctx, "Could not load '%s' in folder '%s': %v", source, dir, err)
			result.Failures = append(result.Failures, &resolver.Failure{Candidate: c, Err: err})
			continue
		}

		candidates = append(candidates, c)
		loaders[c] = loader
	}

	resolved := m.resolver.Resolve(ctx, candidates, func(ctx context.Context, c *resolver.Candidate) error {
		_, err := m.loadCandidate(ctx, loaders[c], c.Source, c.Descriptor)
		return err
	})

	result.Loaded = resolved.Loaded
	result.Failures = append(result.Failures, resolved.Failures...)
	logger.Infof(ctx, "Loaded %d extension(s) from %s, %d failed", len(result.Loaded), dir, len(result.Failures))
	return result, nil
}

// LoadExtension loads a single source. Every hard dependency of the
// source must already be loaded.
func (m *Manager) LoadExtension(ctx context.Context, source string) (types.Extension, error) {
	ctx, _ = logger.EnsureTraceID(ctx)

	loader := m.loaderFor(source)
	if loader == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNoLoader, source)
	}
	desc, err := loader.Describe(source)
	if err != nil {
		return nil, err
	}
	if err := m.resolver.ValidateName(desc.Name); err != nil {
		return nil, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	var missing []string
	for _, dep := range desc.Depend {
		if _, ok := m.Extension(dep); !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return nil, &types.DependencyError{Name: desc.Name, Missing: missing, Err: types.ErrUnknownDependency}
	}

	var ext types.Extension
	err = types.SafeCall(func() error {
		var loadErr error
		ext, loadErr = m.loadCandidate(ctx, loader, source, desc)
		return loadErr
	})
	return ext, err
}

// loadCandidate instantiates a described source and adds it to the
// registry. Callers hold opMu.
func (m *Manager) loadCandidate(ctx context.Context, loader Loader, source string, desc *types.Descriptor) (ext types.Extension, err error) {
	ctx, span := m.startSpan(ctx, "extension.load", desc)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	ext, err = loader.Load(ctx, source, desc)
	if err != nil {
		return nil, err
	}
	if ext == nil || ext.Descriptor() == nil {
		return nil, fmt.Errorf("%w: loader returned no extension for %s", types.ErrInvalidDescriptor, source)
	}

	key := types.LookupKey(ext.Name())
	m.mu.Lock()
	if _, exists := m.lookup[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrDuplicateExtension, ext.Name())
	}
	e := &entry{ext: ext, loader: loader, source: source, state: types.StateLoaded}
	m.extensions = append(m.extensions, e)
	m.lookup[key] = e
	m.mu.Unlock()

	m.addBreaker(ext.Name())
	m.collector.ExtensionLoaded(ext.Name(), time.Since(start))
	logger.Infof(ctx, "Loaded %s", ext.Descriptor().FullName())
	return ext, nil
}
