package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ncobase/hostkit/extension/types"
)

// Factory builds the runtime instance of a described extension
type Factory func(desc *types.Descriptor) (types.Extension, error)

// Factories maps descriptor main keys to factories
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates an empty factory table
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]Factory)}
}

// Register binds main to f, replacing any previous factory
func (f *Factories) Register(main string, factory Factory) error {
	if main == "" {
		return fmt.Errorf("factory main key cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", main)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[main] = factory
	return nil
}

// Get returns the factory registered for main
func (f *Factories) Get(main string) (Factory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, ok := f.factories[main]
	return factory, ok
}

// Keys returns the registered main keys, sorted
func (f *Factories) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.factories))
	for k := range f.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var builtin = NewFactories()

// RegisterFactory registers a built-in factory, usually from an init func
func RegisterFactory(main string, factory Factory) {
	if err := builtin.Register(main, factory); err != nil {
		panic(err)
	}
}

// BuiltinFactories returns the process-wide factory table
func BuiltinFactories() *Factories {
	return builtin
}
