package types

import (
	"context"
	"sync/atomic"
)

// Extension is the runtime instance bound to one descriptor.
//
// Implementations usually embed *Base and override the hooks they need.
type Extension interface {
	// Descriptor returns the descriptor the extension was loaded from
	Descriptor() *Descriptor
	// Name returns the descriptor name
	Name() string
	// IsEnabled reports whether the extension is currently enabled
	IsEnabled() bool
	// SetEnabled flips the enabled flag, it does not run any hook
	SetEnabled(enabled bool)
	// IsNaggable reports whether author nags are still reported
	IsNaggable() bool
	// SetNaggable sets the one-shot nag flag
	SetNaggable(naggable bool)
	// OnEnable is called after the extension has been marked enabled
	OnEnable(ctx context.Context) error
	// OnDisable is called after the extension has been marked disabled
	OnDisable(ctx context.Context) error
}

// Base is an embeddable Extension implementation with no-op hooks
type Base struct {
	descriptor *Descriptor
	enabled    atomic.Bool
	quiet      atomic.Bool
}

// NewBase creates a new Base for a descriptor
func NewBase(desc *Descriptor) *Base {
	return &Base{descriptor: desc}
}

// Descriptor returns the descriptor
func (b *Base) Descriptor() *Descriptor { return b.descriptor }

// Name returns the descriptor name
func (b *Base) Name() string {
	if b.descriptor == nil {
		return ""
	}
	return b.descriptor.Name
}

// IsEnabled reports whether the extension is enabled
func (b *Base) IsEnabled() bool { return b.enabled.Load() }

// SetEnabled sets the enabled flag
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// IsNaggable reports whether author nags are reported.
// The zero value is naggable.
func (b *Base) IsNaggable() bool { return !b.quiet.Load() }

// SetNaggable sets the nag flag
func (b *Base) SetNaggable(naggable bool) { b.quiet.Store(!naggable) }

// OnEnable does nothing
func (b *Base) OnEnable(context.Context) error { return nil }

// OnDisable does nothing
func (b *Base) OnDisable(context.Context) error { return nil }

// State is the lifecycle state of an extension in the registry
type State string

const (
	// StateLoaded indicates the extension is loaded but was never enabled
	StateLoaded State = "loaded"
	// StateEnabled indicates the extension is running
	StateEnabled State = "enabled"
	// StateDisabled indicates the extension has been disabled
	StateDisabled State = "disabled"
)
