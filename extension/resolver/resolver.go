// Package resolver orders discovered extensions so that every hard
// dependency is loaded before its dependents and soft dependencies are
// honoured whenever they are present.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Candidate is a discovered extension source waiting to be loaded
type Candidate struct {
	Source     string
	Descriptor *types.Descriptor
}

// LoadFunc loads a single candidate. A returned error marks it failed.
type LoadFunc func(ctx context.Context, c *Candidate) error

// Failure records a candidate that was not loaded
type Failure struct {
	Candidate *Candidate
	Err       error
}

// Result is the outcome of a load pass
type Result struct {
	// Loaded holds the candidates in the order they were loaded
	Loaded []*Candidate
	// Failures holds every candidate that was skipped or failed
	Failures []*Failure
}

// Names returns the names of the loaded candidates in load order
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Loaded))
	for _, c := range r.Loaded {
		names = append(names, c.Descriptor.Name)
	}
	return names
}

// HostNames are the host identity strings no extension may use. They are
// always rejected, whatever the configured reserved names.
var HostNames = []string{"hostkit", "host", "core"}

// Resolver computes a load order over a set of candidates
type Resolver struct {
	reserved []string
}

// Option configures a Resolver
type Option func(*Resolver)

// WithReservedNames rejects candidates using one of the given names, in
// addition to HostNames
func WithReservedNames(names ...string) Option {
	return func(r *Resolver) {
		r.reserved = append(r.reserved, names...)
	}
}

// New creates a new resolver
func New(opts ...Option) *Resolver {
	r := &Resolver{reserved: append([]string(nil), HostNames...)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateName checks a descriptor name against the naming rules
func (r *Resolver) ValidateName(name string) error {
	for _, reserved := range r.reserved {
		if strings.EqualFold(reserved, name) {
			return fmt.Errorf("%w: %s", types.ErrRestrictedName, name)
		}
	}
	if strings.Contains(name, " ") {
		return fmt.Errorf("%w: %s", types.ErrInvalidName, name)
	}
	return nil
}

// Resolve loads candidates through load, one at a time, as soon as each
// becomes eligible. Candidates are visited in discovery order.
//
// A candidate is eligible once all of its hard dependencies are loaded and
// none of its soft dependencies are still waiting. When a full pass makes no
// progress, a single relaxed pass loads the first candidate whose hard
// dependencies are satisfied, ignoring soft ones. When that also fails,
// every remaining candidate is part of or blocked by a cycle.
func (r *Resolver) Resolve(ctx context.Context, candidates []*Candidate, load LoadFunc) *Result {
	result := &Result{}
	working := newWorkingSet()
	hard := make(map[string][]string)
	soft := make(map[string][]string)

	for _, c := range candidates {
		if c == nil || c.Descriptor == nil {
			continue
		}
		desc := c.Descriptor
		if err := r.ValidateName(desc.Name); err != nil {
			r.fail(ctx, result, c, err)
			continue
		}

		key := desc.Key()
		if prev, ok := working.get(key); ok {
			logger.Warnf(ctx, "Ambiguous extension name '%s' for sources '%s' and '%s' in '%s'", desc.Name, prev.Source, c.Source, dirOf(c.Source))
			result.Failures = append(result.Failures, &Failure{
				Candidate: prev,
				Err:       fmt.Errorf("%w: %s replaced by %s", types.ErrDuplicateExtension, prev.Source, c.Source),
			})
		}
		working.put(key, c)

		if len(desc.Depend) > 0 {
			hard[key] = append([]string(nil), desc.Depend...)
		} else {
			delete(hard, key)
		}
		if len(desc.SoftDepend) > 0 {
			soft[key] = append(soft[key], desc.SoftDepend...)
		}
		// load-before is a soft dependency held by the target
		for _, target := range desc.LoadBefore {
			tk := types.NormalizeName(target)
			soft[tk] = append(soft[tk], desc.Name)
		}
	}

	loaded := make(map[string]bool)

	for working.len() > 0 {
		missingDependency := true

		for _, key := range working.keys() {
			c, ok := working.get(key)
			if !ok {
				continue
			}

			if deps, ok := hard[key]; ok {
				var remaining []string
				unknown := ""
				for _, dep := range deps {
					dk := types.NormalizeName(dep)
					if loaded[dk] {
						continue
					}
					if !working.has(dk) {
						unknown = dep
						break
					}
					remaining = append(remaining, dep)
				}

				if unknown != "" {
					missingDependency = false
					working.remove(key)
					delete(hard, key)
					delete(soft, key)
					r.fail(ctx, result, c, &types.DependencyError{
						Name:    c.Descriptor.Name,
						Missing: []string{unknown},
						Err:     types.ErrUnknownDependency,
					})
					continue
				}

				if len(remaining) == 0 {
					delete(hard, key)
				} else {
					hard[key] = remaining
				}
			}

			if deps, ok := soft[key]; ok {
				var remaining []string
				for _, dep := range deps {
					if working.has(types.NormalizeName(dep)) {
						remaining = append(remaining, dep)
					}
				}
				if len(remaining) == 0 {
					delete(soft, key)
				} else {
					soft[key] = remaining
				}
			}

			_, blockedHard := hard[key]
			_, blockedSoft := soft[key]
			if !blockedHard && !blockedSoft {
				working.remove(key)
				missingDependency = false
				if r.load(ctx, result, c, load) {
					loaded[key] = true
				}
			}
		}

		if missingDependency {
			// relaxed pass, soft dependencies no longer block
			for _, key := range working.keys() {
				c, ok := working.get(key)
				if !ok {
					continue
				}
				if _, blocked := hard[key]; blocked {
					continue
				}

				delete(soft, key)
				missingDependency = false
				working.remove(key)
				if r.load(ctx, result, c, load) {
					loaded[key] = true
					break
				}
			}
		}

		if missingDependency {
			for _, key := range working.keys() {
				c, _ := working.get(key)
				r.fail(ctx, result, c, &types.DependencyError{
					Name:    c.Descriptor.Name,
					Missing: hard[key],
					Err:     types.ErrCircularDependency,
				})
			}
			working.clear()
			clear(hard)
			clear(soft)
		}
	}

	return result
}

// load runs the load callback with panic isolation
func (r *Resolver) load(ctx context.Context, result *Result, c *Candidate, load LoadFunc) bool {
	err := types.SafeCall(func() error {
		return load(ctx, c)
	})
	if err != nil {
		r.fail(ctx, result, c, err)
		return false
	}
	result.Loaded = append(result.Loaded, c)
	return true
}

// fail records and logs a failed candidate
func (r *Resolver) fail(ctx context.Context, result *Result, c *Candidate, err error) {
	logger.Errorf(ctx, "Could not load '%s' in folder '%s': %v", c.Source, dirOf(c.Source), err)
	result.Failures = append(result.Failures, &Failure{Candidate: c, Err: err})
}

func dirOf(source string) string {
	if i := strings.LastIndexAny(source, `/\`); i >= 0 {
		return source[:i]
	}
	return "."
}
