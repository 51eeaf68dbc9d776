package event

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Recorder receives per-extension dispatch outcomes
type Recorder interface {
	EventReceived(extensionName, eventType string)
	HandlerFailed(extensionName, eventType string)
}

// Bus delivers published events to their subscriptions in priority order.
//
// Each subscriber call is isolated: a returned error or a panic is logged,
// reported as an ExceptionEvent and does not stop later subscribers.
// Dispatch reads baked snapshots and takes no lock once a list is baked.
type Bus struct {
	mu       sync.RWMutex
	lists    map[*Kind]*HandlerList
	resolved map[*Kind]*Kind
	recorder Recorder
	metrics  struct {
		published     atomic.Int64
		delivered     atomic.Int64
		failed        atomic.Int64
		skipped       atomic.Int64
		subscriptions atomic.Int64
		lastEventTime atomic.Value // time.Time
	}
}

// Option configures a Bus
type Option func(*Bus)

// WithRecorder reports dispatch outcomes to r
func WithRecorder(r Recorder) Option {
	return func(b *Bus) {
		b.recorder = r
	}
}

// NewBus creates a new event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		lists:    make(map[*Kind]*HandlerList),
		resolved: make(map[*Kind]*Kind),
	}
	b.metrics.lastEventTime.Store(time.Time{})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HandlerList resolves the handler list serving kind. The closest ancestor
// declaring a list wins and the answer is cached per kind.
func (b *Bus) HandlerList(kind *Kind) (*HandlerList, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: nil kind", types.ErrNoHandlerList)
	}

	b.mu.RLock()
	declaring, ok := b.resolved[kind]
	list := b.lists[declaring]
	b.mu.RUnlock()
	if ok && list != nil {
		return list, nil
	}

	declaring = kind.handlerKind()
	if declaring == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNoHandlerList, kind.Name())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolved[kind] = declaring
	list, ok = b.lists[declaring]
	if !ok {
		list = newHandlerList(declaring)
		b.lists[declaring] = list
	}
	return list, nil
}

// Subscribe registers fn for events of kind and its descendants.
//
// listener identifies the subscriber for UnsubscribeListener and must be
// comparable; it may be nil. A nil owner makes a host subscription that is
// never skipped. Subscribing for a disabled owner is ErrIllegalAccess, also
// when the owner is disabled while the subscription is being added.
func (b *Bus) Subscribe(kind *Kind, listener any, owner types.Extension, priority Priority, ignoreCancelled bool, fn HandlerFunc) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("event handler cannot be nil")
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid event priority %d", int(priority))
	}
	if listener != nil && !reflect.TypeOf(listener).Comparable() {
		return nil, fmt.Errorf("listener of type %T is not comparable", listener)
	}
	list, err := b.HandlerList(kind)
	if err != nil {
		return nil, err
	}
	if owner != nil && !owner.IsEnabled() {
		return nil, fmt.Errorf("%w: %s attempted to register a listener for %s", types.ErrIllegalAccess, ownerName(owner), kind)
	}

	s := &Subscription{
		id:              uuid.NewString(),
		kind:            kind,
		listener:        listener,
		owner:           owner,
		priority:        priority,
		ignoreCancelled: ignoreCancelled,
		handler:         fn,
	}
	list.register(s)
	b.metrics.subscriptions.Add(1)

	// a disable that ran its unsubscribe step before the register above
	// has missed s
	if owner != nil && !owner.IsEnabled() {
		if list.remove(func(other *Subscription) bool { return other == s }) {
			b.metrics.subscriptions.Add(-1)
		}
		return nil, fmt.Errorf("%w: %s was disabled while registering a listener for %s", types.ErrIllegalAccess, ownerName(owner), kind)
	}
	return s, nil
}

// Unsubscribe removes a single subscription
func (b *Bus) Unsubscribe(s *Subscription) bool {
	if s == nil {
		return false
	}
	return b.removeWhere(func(other *Subscription) bool { return other == s }) > 0
}

// UnsubscribeAll removes every subscription owned by owner
func (b *Bus) UnsubscribeAll(owner types.Extension) int {
	if owner == nil {
		return 0
	}
	return b.removeWhere(func(s *Subscription) bool { return s.owner == owner })
}

// UnsubscribeListener removes every subscription made with listener
func (b *Bus) UnsubscribeListener(listener any) int {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return 0
	}
	return b.removeWhere(func(s *Subscription) bool { return s.listener == listener })
}

func (b *Bus) removeWhere(fn func(*Subscription) bool) int {
	removed := 0
	for _, list := range b.snapshotLists() {
		list.remove(func(s *Subscription) bool {
			if fn(s) {
				removed++
				return true
			}
			return false
		})
	}
	b.metrics.subscriptions.Add(-int64(removed))
	return removed
}

// Subscriptions returns the subscriptions serving kind in dispatch order
func (b *Bus) Subscriptions(kind *Kind) ([]*Subscription, error) {
	list, err := b.HandlerList(kind)
	if err != nil {
		return nil, err
	}
	return list.Subscriptions(), nil
}

// SubscriptionsOf returns every subscription owned by owner
func (b *Bus) SubscriptionsOf(owner types.Extension) []*Subscription {
	var result []*Subscription
	for _, list := range b.snapshotLists() {
		for _, s := range list.subscriptions() {
			if s.owner == owner {
				result = append(result, s)
			}
		}
	}
	return result
}

// BakeAll bakes every handler list
func (b *Bus) BakeAll() {
	for _, list := range b.snapshotLists() {
		list.Bake()
	}
}

// Clear removes every subscription from every list
func (b *Bus) Clear() {
	for _, list := range b.snapshotLists() {
		list.clear()
	}
	b.metrics.subscriptions.Store(0)
}

func (b *Bus) snapshotLists() []*HandlerList {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lists := make([]*HandlerList, 0, len(b.lists))
	for _, list := range b.lists {
		lists = append(lists, list)
	}
	return lists
}

// Publish delivers ev to every matching subscription.
// The only error returned is a resolution failure for the event kind.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return errors.New("event cannot be nil")
	}
	list, err := b.HandlerList(ev.Kind())
	if err != nil {
		return err
	}

	b.metrics.published.Add(1)
	b.metrics.lastEventTime.Store(time.Now())

	cancellable, _ := ev.(Cancellable)
	for _, s := range list.subscriptions() {
		if s.owner != nil && !s.owner.IsEnabled() {
			b.metrics.skipped.Add(1)
			continue
		}
		if !ev.Kind().IsA(s.kind) {
			continue
		}
		if s.ignoreCancelled && cancellable != nil && cancellable.Cancelled() {
			b.metrics.skipped.Add(1)
			continue
		}

		err := types.SafeCall(func() error {
			return s.handler(ctx, ev)
		})
		if err != nil {
			b.handleFailure(ctx, ev, s, err)
			continue
		}

		b.metrics.delivered.Add(1)
		if b.recorder != nil && s.owner != nil {
			b.recorder.EventReceived(s.owner.Name(), ev.Kind().Name())
		}
	}
	return nil
}

// handleFailure logs a subscriber failure and re-publishes it as a
// diagnostic event. Failures while handling a diagnostic event are only
// logged.
func (b *Bus) handleFailure(ctx context.Context, ev Event, s *Subscription, err error) {
	if nag, ok := types.IsAuthorNag(err); ok {
		if s.owner == nil || !s.owner.IsNaggable() {
			return
		}
		s.owner.SetNaggable(false)
		var authors []string
		if desc := s.owner.Descriptor(); desc != nil {
			authors = desc.Authors
		}
		logger.Warnf(ctx, "Nag author(s): '%s' of '%s' about the following: %s",
			strings.Join(authors, ", "), ownerName(s.owner), nag.Message)
		return
	}

	b.metrics.failed.Add(1)
	if b.recorder != nil && s.owner != nil {
		b.recorder.HandlerFailed(s.owner.Name(), ev.Kind().Name())
	}

	failure := &EventError{Event: ev, Owner: s.owner, Listener: s.listener, Err: err}
	logger.Errorf(ctx, "%v", failure)

	if ev.Kind().IsA(KindException) {
		return
	}
	if perr := b.Publish(ctx, NewExceptionEvent(failure, ev.Async())); perr != nil {
		logger.Errorf(ctx, "could not publish exception event: %v", perr)
	}
}

// GetMetrics returns event bus metrics
func (b *Bus) GetMetrics() map[string]any {
	lastEventTime := b.metrics.lastEventTime.Load().(time.Time)
	published := b.metrics.published.Load()
	failed := b.metrics.failed.Load()

	var failureRate float64
	if delivered := b.metrics.delivered.Load() + failed; delivered > 0 {
		failureRate = float64(failed) / float64(delivered) * 100.0
	}

	b.mu.RLock()
	lists := len(b.lists)
	b.mu.RUnlock()

	return map[string]any{
		"published_events": published,
		"delivered_events": b.metrics.delivered.Load(),
		"failed_events":    failed,
		"skipped_events":   b.metrics.skipped.Load(),
		"subscriptions":    b.metrics.subscriptions.Load(),
		"handler_lists":    lists,
		"last_event_time":  lastEventTime,
		"failure_rate":     failureRate,
	}
}
