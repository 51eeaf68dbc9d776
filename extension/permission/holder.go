package permission

import "sync"

// Holder is a Subject that combines explicit grants with the default set
// of its tier. It subscribes itself to its tier and to every permission it
// ends up holding; Close must be called when the holder is discarded.
type Holder struct {
	registry *Registry

	// syncMu serializes recalculation with the registry subscription
	// updates that follow it
	syncMu sync.Mutex

	mu        sync.RWMutex
	tier      Tier
	grants    map[string]bool
	effective map[string]bool
	closed    bool
}

// NewHolder creates a holder at tier and computes its permissions
func NewHolder(registry *Registry, tier Tier) *Holder {
	h := &Holder{
		registry:  registry,
		tier:      tier,
		grants:    make(map[string]bool),
		effective: make(map[string]bool),
	}
	_ = registry.SubscribeToDefaults(tier, h)
	h.RecalculatePermissions()
	return h
}

// Tier returns the current tier
func (h *Holder) Tier() Tier {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tier
}

// SetTier moves the holder to another tier
func (h *Holder) SetTier(tier Tier) {
	h.mu.Lock()
	old := h.tier
	h.tier = tier
	h.mu.Unlock()

	if old != tier {
		h.registry.UnsubscribeFromDefaults(old, h)
		_ = h.registry.SubscribeToDefaults(tier, h)
	}
	h.RecalculatePermissions()
}

// Grant sets an explicit value for a permission
func (h *Holder) Grant(name string, value bool) {
	h.mu.Lock()
	h.grants[Key(name)] = value
	h.mu.Unlock()
	h.RecalculatePermissions()
}

// Revoke drops an explicit value, falling back to the defaults
func (h *Holder) Revoke(name string) {
	h.mu.Lock()
	delete(h.grants, Key(name))
	h.mu.Unlock()
	h.RecalculatePermissions()
}

// RecalculatePermissions rebuilds the effective permission table
func (h *Holder) RecalculatePermissions() {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	previous := h.effective
	next := make(map[string]bool)
	for _, p := range h.registry.DefaultSet(h.tier) {
		next[Key(p.Name)] = true
	}
	for name, value := range h.grants {
		next[name] = value
	}
	h.effective = next
	h.mu.Unlock()

	for name, value := range previous {
		if value && !next[name] {
			h.registry.UnsubscribeFromPermission(name, h)
		}
	}
	for name, value := range next {
		if value && !previous[name] {
			_ = h.registry.SubscribeToPermission(name, h)
		}
	}
}

// IsPermissionSet reports whether the holder has a value for name
func (h *Holder) IsPermissionSet(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.effective[Key(name)]
	return ok
}

// HasPermission reports whether the holder is granted name. Unset
// permissions fall back to their registered default, and unknown ones are
// granted to elevated holders only.
func (h *Holder) HasPermission(name string) bool {
	h.mu.RLock()
	value, ok := h.effective[Key(name)]
	tier := h.tier
	h.mu.RUnlock()
	if ok {
		return value
	}

	if p, registered := h.registry.Lookup(name); registered {
		return p.Default.Applies(tier)
	}
	return DefaultOp.Applies(tier)
}

// Close unsubscribes the holder from the registry
func (h *Holder) Close() {
	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	tier := h.tier
	effective := h.effective
	h.effective = map[string]bool{}
	h.mu.Unlock()

	h.registry.UnsubscribeFromDefaults(tier, h)
	for name := range effective {
		h.registry.UnsubscribeFromPermission(name, h)
	}
}
