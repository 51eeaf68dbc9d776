package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
	"gopkg.in/yaml.v3"
)

var manifestPattern = regexp.MustCompile(`(?i)\.ya?ml$`)

// ManifestLoader describes extensions from YAML manifests and builds them
// through factories keyed by the descriptor main field
type ManifestLoader struct {
	factories *Factories

	mu     sync.Mutex
	loaded map[types.Extension]string
}

// Option configures a ManifestLoader
type Option func(*ManifestLoader)

// WithFactories uses f instead of the built-in factory table
func WithFactories(f *Factories) Option {
	return func(l *ManifestLoader) { l.factories = f }
}

// New creates a manifest loader
func New(opts ...Option) *ManifestLoader {
	l := &ManifestLoader{
		factories: builtin,
		loaded:    make(map[types.Extension]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Patterns returns the file name patterns this loader handles
func (l *ManifestLoader) Patterns() []*regexp.Regexp {
	return []*regexp.Regexp{manifestPattern}
}

// Describe reads and validates the manifest at source
func (l *ManifestLoader) Describe(source string) (*types.Descriptor, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDescriptor, err)
	}
	return ParseDescriptor(bytes.NewReader(data))
}

// ParseDescriptor decodes a single YAML manifest. Unknown fields are
// rejected.
func ParseDescriptor(r io.Reader) (*types.Descriptor, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var desc types.Descriptor
	if err := dec.Decode(&desc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty manifest", types.ErrInvalidDescriptor)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDescriptor, err)
	}
	if err := ValidateDescriptor(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Load builds the runtime instance of desc
func (l *ManifestLoader) Load(ctx context.Context, source string, desc *types.Descriptor) (types.Extension, error) {
	factory, ok := l.factories.Get(desc.Main)
	if !ok {
		return nil, fmt.Errorf("%w: no factory registered for main %q", types.ErrInvalidDescriptor, desc.Main)
	}

	ext, err := factory(desc)
	if err != nil {
		return nil, fmt.Errorf("factory %s failed: %w", desc.Main, err)
	}
	if ext == nil {
		return nil, fmt.Errorf("factory %s returned no extension", desc.Main)
	}
	if ext.Descriptor() != desc {
		logger.Warnf(ctx, "Factory %s did not bind the described descriptor of %s", desc.Main, source)
	}

	l.mu.Lock()
	l.loaded[ext] = source
	l.mu.Unlock()
	return ext, nil
}

// Release forgets a loaded extension. Releasers that implement io.Closer
// are closed.
func (l *ManifestLoader) Release(ext types.Extension) error {
	l.mu.Lock()
	_, ok := l.loaded[ext]
	delete(l.loaded, ext)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if closer, isCloser := ext.(io.Closer); isCloser {
		return closer.Close()
	}
	return nil
}

// Source returns the manifest path ext was loaded from
func (l *ManifestLoader) Source(ext types.Extension) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	source, ok := l.loaded[ext]
	return source, ok
}
