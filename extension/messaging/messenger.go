package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

const (
	// MaxChannelLength is the longest accepted channel name
	MaxChannelLength = 64
	// MaxMessageSize is the largest accepted message payload
	MaxMessageSize = 1 << 20
)

var (
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrReservedChannel = errors.New("reserved channel")
	ErrMessageTooLarge = errors.New("message too large")
	ErrNotRegistered   = errors.New("channel not registered")
)

var (
	channelPattern   = regexp.MustCompile(`^[a-z0-9._-]+:[a-z0-9/._-]+$`)
	reservedChannels = map[string]struct{}{
		"host:register":   {},
		"host:unregister": {},
	}
)

// Listener receives messages dispatched on an incoming channel
type Listener func(ctx context.Context, channel string, source any, message []byte) error

// Transport delivers outgoing messages. The messenger loops them back to
// local incoming listeners when no transport is configured.
type Transport func(ctx context.Context, channel string, message []byte) error

// Registration binds an incoming channel listener to its owner
type Registration struct {
	Owner    types.Extension
	Channel  string
	Listener Listener
}

// Metrics tracks messenger statistics
type Metrics struct {
	Sent           atomic.Int64
	Dispatched     atomic.Int64
	ListenerFailed atomic.Int64
}

// Messenger tracks the channels extensions send and listen on
type Messenger struct {
	mu       sync.RWMutex
	incoming map[string][]*Registration
	outgoing map[string]map[types.Extension]struct{}

	transport Transport
	metrics   Metrics
}

// Option configures a Messenger
type Option func(*Messenger)

// WithTransport sets the outgoing transport
func WithTransport(t Transport) Option {
	return func(m *Messenger) { m.transport = t }
}

// New creates a messenger
func New(opts ...Option) *Messenger {
	m := &Messenger{
		incoming: make(map[string][]*Registration),
		outgoing: make(map[string]map[types.Extension]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateChannel checks a channel name is namespaced and well formed
func ValidateChannel(channel string) error {
	switch {
	case channel == "":
		return fmt.Errorf("%w: channel cannot be empty", ErrInvalidChannel)
	case len(channel) > MaxChannelLength:
		return fmt.Errorf("%w: %s is longer than %d characters", ErrInvalidChannel, channel, MaxChannelLength)
	case !channelPattern.MatchString(channel):
		return fmt.Errorf("%w: %s must match namespace:name", ErrInvalidChannel, channel)
	}
	if _, reserved := reservedChannels[channel]; reserved {
		return fmt.Errorf("%w: %s", ErrReservedChannel, channel)
	}
	return nil
}

func checkOwner(owner types.Extension) error {
	if owner == nil {
		return errors.New("owner cannot be nil")
	}
	if !owner.IsEnabled() {
		return fmt.Errorf("%w: %s is disabled", types.ErrIllegalAccess, owner.Name())
	}
	return nil
}

// RegisterOutgoing allows owner to send on channel
func (m *Messenger) RegisterOutgoing(owner types.Extension, channel string) error {
	channel = strings.ToLower(channel)
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if err := checkOwner(owner); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.outgoing[channel]
	if !ok {
		set = make(map[types.Extension]struct{})
		m.outgoing[channel] = set
	}
	set[owner] = struct{}{}
	return nil
}

// UnregisterOutgoingChannel removes owner from a single outgoing channel
func (m *Messenger) UnregisterOutgoingChannel(owner types.Extension, channel string) {
	channel = strings.ToLower(channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.outgoing[channel]; ok {
		delete(set, owner)
		if len(set) == 0 {
			delete(m.outgoing, channel)
		}
	}
}

// UnregisterOutgoing removes owner from every outgoing channel
func (m *Messenger) UnregisterOutgoing(owner types.Extension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, set := range m.outgoing {
		delete(set, owner)
		if len(set) == 0 {
			delete(m.outgoing, channel)
		}
	}
	return nil
}

// RegisterIncoming adds a listener for channel
func (m *Messenger) RegisterIncoming(owner types.Extension, channel string, listener Listener) (*Registration, error) {
	channel = strings.ToLower(channel)
	if err := ValidateChannel(channel); err != nil {
		return nil, err
	}
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, errors.New("listener cannot be nil")
	}

	reg := &Registration{Owner: owner, Channel: channel, Listener: listener}
	m.mu.Lock()
	m.incoming[channel] = append(m.incoming[channel], reg)
	m.mu.Unlock()
	return reg, nil
}

// UnregisterIncomingChannel removes owner's listeners from a single channel
func (m *Messenger) UnregisterIncomingChannel(owner types.Extension, channel string) {
	channel = strings.ToLower(channel)
	m.removeIncoming(func(reg *Registration) bool {
		return reg.Owner == owner && reg.Channel == channel
	})
}

// UnregisterIncoming removes every listener registered by owner
func (m *Messenger) UnregisterIncoming(owner types.Extension) error {
	m.removeIncoming(func(reg *Registration) bool { return reg.Owner == owner })
	return nil
}

func (m *Messenger) removeIncoming(match func(*Registration) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, list := range m.incoming {
		kept := list[:0:0]
		for _, reg := range list {
			if !match(reg) {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(m.incoming, channel)
		} else {
			m.incoming[channel] = kept
		}
	}
}

// IsOutgoingRegistered reports whether owner may send on channel
func (m *Messenger) IsOutgoingRegistered(owner types.Extension, channel string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.outgoing[strings.ToLower(channel)][owner]
	return ok
}

// IsIncomingRegistered reports whether owner listens on channel
func (m *Messenger) IsIncomingRegistered(owner types.Extension, channel string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.incoming[strings.ToLower(channel)] {
		if reg.Owner == owner {
			return true
		}
	}
	return false
}

// OutgoingChannels returns the channels owner may send on
func (m *Messenger) OutgoingChannels(owner types.Extension) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []string
	for channel, set := range m.outgoing {
		if _, ok := set[owner]; ok {
			result = append(result, channel)
		}
	}
	sort.Strings(result)
	return result
}

// IncomingChannels returns the channels owner listens on
func (m *Messenger) IncomingChannels(owner types.Extension) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []string
	for channel, list := range m.incoming {
		for _, reg := range list {
			if reg.Owner == owner {
				result = append(result, channel)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

// Send transmits message from owner on channel
func (m *Messenger) Send(ctx context.Context, owner types.Extension, channel string, message []byte) error {
	channel = strings.ToLower(channel)
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
	}
	if err := checkOwner(owner); err != nil {
		return err
	}
	if !m.IsOutgoingRegistered(owner, channel) {
		return fmt.Errorf("%w: %s did not register outgoing channel %s", ErrNotRegistered, owner.Name(), channel)
	}

	m.metrics.Sent.Add(1)
	if m.transport != nil {
		return m.transport(ctx, channel, message)
	}
	m.Dispatch(ctx, owner, channel, message)
	return nil
}

// Dispatch delivers an incoming message to every enabled listener of
// channel. A failing listener is logged and does not affect the others.
func (m *Messenger) Dispatch(ctx context.Context, source any, channel string, message []byte) int {
	channel = strings.ToLower(channel)
	m.mu.RLock()
	listeners := append([]*Registration(nil), m.incoming[channel]...)
	m.mu.RUnlock()

	delivered := 0
	for _, reg := range listeners {
		if !reg.Owner.IsEnabled() {
			continue
		}
		err := types.SafeCall(func() error {
			return reg.Listener(ctx, channel, source, message)
		})
		delivered++
		if err != nil {
			m.metrics.ListenerFailed.Add(1)
			logger.Errorf(ctx, "Could not pass incoming message on %s to %s: %v", channel, reg.Owner.Descriptor().FullName(), err)
		}
	}
	m.metrics.Dispatched.Add(int64(delivered))
	return delivered
}

// GetMetrics returns messenger metrics
func (m *Messenger) GetMetrics() map[string]int64 {
	return map[string]int64{
		"sent":            m.metrics.Sent.Load(),
		"dispatched":      m.metrics.Dispatched.Load(),
		"listener_failed": m.metrics.ListenerFailed.Load(),
	}
}
