package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ncobase/hostkit/extension/types"
)

// HandlerFunc handles a published event
type HandlerFunc func(ctx context.Context, ev Event) error

// Subscription is a registered handler
type Subscription struct {
	id              string
	kind            *Kind
	listener        any
	owner           types.Extension
	priority        Priority
	ignoreCancelled bool
	handler         HandlerFunc
}

// ID returns the unique subscription id
func (s *Subscription) ID() string { return s.id }

// Kind returns the kind the subscription was made for
func (s *Subscription) Kind() *Kind { return s.kind }

// Listener returns the subscriber identity
func (s *Subscription) Listener() any { return s.listener }

// Owner returns the owning extension, nil for host subscriptions
func (s *Subscription) Owner() types.Extension { return s.owner }

// Priority returns the subscription priority
func (s *Subscription) Priority() Priority { return s.priority }

// IgnoreCancelled reports whether cancelled events are skipped
func (s *Subscription) IgnoreCancelled() bool { return s.ignoreCancelled }

// HandlerList holds the subscriptions of one declaring kind, one slot per
// priority. The flattened order is baked lazily and cached until the next
// change.
type HandlerList struct {
	kind  *Kind
	mu    sync.Mutex
	slots [numPriorities][]*Subscription
	baked atomic.Pointer[[]*Subscription]
}

func newHandlerList(kind *Kind) *HandlerList {
	return &HandlerList{kind: kind}
}

// Kind returns the declaring kind of the list
func (h *HandlerList) Kind() *Kind { return h.kind }

func (h *HandlerList) register(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[s.priority] = append(h.slots[s.priority], s)
	h.baked.Store(nil)
}

// remove drops every subscription matching fn and reports whether any did
func (h *HandlerList) remove(fn func(*Subscription) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := false
	for p, slot := range h.slots {
		kept := slot[:0:0]
		for _, s := range slot {
			if fn(s) {
				changed = true
				continue
			}
			kept = append(kept, s)
		}
		h.slots[p] = kept
	}
	if changed {
		h.baked.Store(nil)
	}
	return changed
}

func (h *HandlerList) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.slots {
		h.slots[p] = nil
	}
	h.baked.Store(nil)
}

// Bake flattens the slots into dispatch order if the cache is stale
func (h *HandlerList) Bake() {
	h.subscriptions()
}

// Subscriptions returns the subscriptions in dispatch order
func (h *HandlerList) Subscriptions() []*Subscription {
	subs := h.subscriptions()
	return append([]*Subscription(nil), subs...)
}

func (h *HandlerList) subscriptions() []*Subscription {
	if baked := h.baked.Load(); baked != nil {
		return *baked
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if baked := h.baked.Load(); baked != nil {
		return *baked
	}

	var all []*Subscription
	for _, slot := range h.slots {
		all = append(all, slot...)
	}
	h.baked.Store(&all)
	return all
}

// Len returns the number of subscriptions
func (h *HandlerList) Len() int {
	return len(h.subscriptions())
}
