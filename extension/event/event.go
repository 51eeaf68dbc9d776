package event

import (
	"fmt"

	"github.com/ncobase/hostkit/extension/types"
)

// Event is something published on the bus
type Event interface {
	// Kind returns the kind of the event
	Kind() *Kind
	// Async reports whether the publisher marked the event as raised off
	// the host's main flow of control
	Async() bool
}

// Cancellable is implemented by events subscribers may veto
type Cancellable interface {
	Event
	Cancelled() bool
	SetCancelled(cancelled bool)
}

// Base is an embeddable Event implementation
type Base struct {
	kind  *Kind
	async bool
}

// NewBase returns a Base for a synchronous event of the given kind
func NewBase(kind *Kind) Base {
	return Base{kind: kind}
}

// NewAsyncBase returns a Base for an asynchronous event of the given kind
func NewAsyncBase(kind *Kind) Base {
	return Base{kind: kind, async: true}
}

// Kind returns the event kind
func (b *Base) Kind() *Kind { return b.kind }

// Async reports the async marker
func (b *Base) Async() bool { return b.async }

// CancellableBase is an embeddable Cancellable implementation
type CancellableBase struct {
	Base
	cancelled bool
}

// NewCancellableBase returns a CancellableBase for the given kind
func NewCancellableBase(kind *Kind) CancellableBase {
	return CancellableBase{Base: NewBase(kind)}
}

// Cancelled reports whether the event has been cancelled
func (c *CancellableBase) Cancelled() bool { return c.cancelled }

// SetCancelled sets the cancellation flag
func (c *CancellableBase) SetCancelled(cancelled bool) { c.cancelled = cancelled }

// Built-in kinds published by the runtime
var (
	// KindException is the diagnostic event raised for contained failures
	KindException = NewKind("ServerException", nil)
	// KindExtension is the abstract parent of extension lifecycle events
	KindExtension = InheritKind("Extension", nil)
	// KindExtensionEnable is published after an extension is enabled
	KindExtensionEnable = NewKind("ExtensionEnable", KindExtension)
	// KindExtensionDisable is published before an extension is disabled
	KindExtensionDisable = NewKind("ExtensionDisable", KindExtension)
)

// ExceptionEvent reports a failure that was contained by the runtime.
// Err is an *EventError for subscriber failures or a *types.HookError for
// lifecycle failures.
type ExceptionEvent struct {
	Base
	Err error
}

// NewExceptionEvent creates a diagnostic event for err
func NewExceptionEvent(err error, async bool) *ExceptionEvent {
	return &ExceptionEvent{Base: Base{kind: KindException, async: async}, Err: err}
}

// ExtensionEvent carries the extension a lifecycle event is about
type ExtensionEvent struct {
	Base
	Extension types.Extension
}

// NewExtensionEvent creates a lifecycle event of the given kind
func NewExtensionEvent(kind *Kind, ext types.Extension) *ExtensionEvent {
	return &ExtensionEvent{Base: NewBase(kind), Extension: ext}
}

// EventError describes a subscriber that failed while handling an event
type EventError struct {
	Event    Event
	Owner    types.Extension
	Listener any
	Err      error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("could not pass event %s to %s: %v", e.Event.Kind().Name(), ownerName(e.Owner), e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

func ownerName(owner types.Extension) string {
	if owner == nil {
		return "host"
	}
	if desc := owner.Descriptor(); desc != nil {
		return desc.FullName()
	}
	return owner.Name()
}
