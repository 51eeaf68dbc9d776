package permission

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ncobase/hostkit/extension/types"
)

type permissionTable = map[string]*Permission

// Registry stores permissions and the default set of each tier.
//
// The permission table and the default sets are copy-on-write snapshots:
// readers load them without locking and never observe a partial update.
// Writers hold mu across the table swap and the default set update, so the
// default sets always follow the table. Subject subscriptions live under
// subMu.
type Registry struct {
	mu          sync.Mutex
	permissions atomic.Pointer[permissionTable]
	defaults    [len(tiers)]atomic.Pointer[permissionTable]

	subMu              sync.RWMutex
	permissionSubjects map[string]map[Subject]struct{}
	defaultSubjects    [len(tiers)]map[Subject]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.reset()
	return r
}

func (r *Registry) reset() {
	empty := permissionTable{}
	r.permissions.Store(&empty)
	for i := range r.defaults {
		set := permissionTable{}
		r.defaults[i].Store(&set)
	}
	r.subMu.Lock()
	r.permissionSubjects = make(map[string]map[Subject]struct{})
	for i := range r.defaultSubjects {
		r.defaultSubjects[i] = make(map[Subject]struct{})
	}
	r.subMu.Unlock()
}

// Register adds a permission and notifies subjects of every affected tier
func (r *Registry) Register(p *Permission) error {
	return r.add(p, true)
}

// RegisterQuiet adds a permission without notifying subjects. Callers
// registering in bulk follow up with NotifyDefaults.
func (r *Registry) RegisterQuiet(p *Permission) error {
	return r.add(p, false)
}

func (r *Registry) add(p *Permission, notify bool) error {
	if p == nil || p.Name == "" {
		return errors.New("permission name cannot be empty")
	}
	key := Key(p.Name)

	r.mu.Lock()
	current := *r.permissions.Load()
	if _, exists := current[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrDuplicatePermission, p.Name)
	}
	next := maps.Clone(current)
	next[key] = p
	r.permissions.Store(&next)
	changed := r.calculateDefaults(key, p)
	r.mu.Unlock()

	if notify {
		r.notify(changed)
	}
	return nil
}

// Unregister removes a permission and notifies subjects of every affected
// tier. It reports whether the permission existed.
func (r *Registry) Unregister(name string) bool {
	key := Key(name)

	r.mu.Lock()
	current := *r.permissions.Load()
	if _, exists := current[key]; !exists {
		r.mu.Unlock()
		return false
	}
	next := maps.Clone(current)
	delete(next, key)
	r.permissions.Store(&next)
	changed := r.calculateDefaults(key, nil)
	r.mu.Unlock()

	r.notify(changed)
	return true
}

// SetDefault replaces the default of a registered permission and
// recalculates the default sets
func (r *Registry) SetDefault(name string, def Default) error {
	key := Key(name)

	r.mu.Lock()
	current := *r.permissions.Load()
	old, exists := current[key]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("unknown permission %s", name)
	}
	updated := &Permission{Name: old.Name, Description: old.Description, Default: def}
	next := maps.Clone(current)
	next[key] = updated
	r.permissions.Store(&next)
	changed := r.calculateDefaults(key, updated)
	r.mu.Unlock()

	r.notify(changed)
	return nil
}

// Recalculate rebuilds the default set membership of a registered
// permission and notifies affected subjects
func (r *Registry) Recalculate(name string) {
	key := Key(name)

	r.mu.Lock()
	p, ok := (*r.permissions.Load())[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	changed := r.calculateDefaults(key, p)
	r.mu.Unlock()

	r.notify(changed)
}

// calculateDefaults places p in the tiers its default applies to and drops
// it from the others. A nil p removes the key from every tier. Callers
// hold mu.
func (r *Registry) calculateDefaults(key string, p *Permission) []Tier {
	var changed []Tier
	for _, tier := range tiers {
		current := *r.defaults[tier].Load()
		existing, present := current[key]
		want := p != nil && p.Default.Applies(tier)

		switch {
		case want && (!present || existing != p):
			next := maps.Clone(current)
			next[key] = p
			r.defaults[tier].Store(&next)
			changed = append(changed, tier)
		case !want && present:
			next := maps.Clone(current)
			delete(next, key)
			r.defaults[tier].Store(&next)
			changed = append(changed, tier)
		}
	}
	return changed
}

func (r *Registry) notify(changed []Tier) {
	for _, tier := range changed {
		r.NotifyDefaults(tier)
	}
}

// Lookup returns a permission by name
func (r *Registry) Lookup(name string) (*Permission, bool) {
	p, ok := (*r.permissions.Load())[Key(name)]
	return p, ok
}

// Permissions returns every registered permission sorted by name
func (r *Registry) Permissions() []*Permission {
	return sortedValues(*r.permissions.Load())
}

// DefaultSet returns the permissions granted to tier by default, sorted
// by name
func (r *Registry) DefaultSet(tier Tier) []*Permission {
	return sortedValues(*r.defaults[tierIndex(tier)].Load())
}

// HasDefault reports whether tier receives the permission by default
func (r *Registry) HasDefault(tier Tier, name string) bool {
	_, ok := (*r.defaults[tierIndex(tier)].Load())[Key(name)]
	return ok
}

// NotifyDefaults calls RecalculatePermissions on every subject subscribed
// to the defaults of tier. No lock is held while subjects run.
func (r *Registry) NotifyDefaults(tier Tier) {
	for _, s := range r.DefaultSubscriptions(tier) {
		s.RecalculatePermissions()
	}
}

// SubscribeToPermission records that subject holds the named permission
func (r *Registry) SubscribeToPermission(name string, subject Subject) error {
	if err := checkSubject(subject); err != nil {
		return err
	}
	key := Key(name)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	set, ok := r.permissionSubjects[key]
	if !ok {
		set = make(map[Subject]struct{})
		r.permissionSubjects[key] = set
	}
	set[subject] = struct{}{}
	return nil
}

// UnsubscribeFromPermission removes subject from the named permission
func (r *Registry) UnsubscribeFromPermission(name string, subject Subject) {
	if checkSubject(subject) != nil {
		return
	}
	key := Key(name)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	if set, ok := r.permissionSubjects[key]; ok {
		delete(set, subject)
		if len(set) == 0 {
			delete(r.permissionSubjects, key)
		}
	}
}

// PermissionSubscriptions returns a copy of the subjects holding name
func (r *Registry) PermissionSubscriptions(name string) []Subject {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	return keys(r.permissionSubjects[Key(name)])
}

// SubscribeToDefaults registers subject for default set changes of tier
func (r *Registry) SubscribeToDefaults(tier Tier, subject Subject) error {
	if err := checkSubject(subject); err != nil {
		return err
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.defaultSubjects[tierIndex(tier)][subject] = struct{}{}
	return nil
}

// UnsubscribeFromDefaults removes subject from the default set of tier
func (r *Registry) UnsubscribeFromDefaults(tier Tier, subject Subject) {
	if checkSubject(subject) != nil {
		return
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.defaultSubjects[tierIndex(tier)], subject)
}

// DefaultSubscriptions returns a copy of the subjects subscribed to tier
func (r *Registry) DefaultSubscriptions(tier Tier) []Subject {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	return keys(r.defaultSubjects[tierIndex(tier)])
}

// ClearAll drops every permission, default set and subscription
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func tierIndex(tier Tier) Tier {
	if tier == Elevated {
		return Elevated
	}
	return Standard
}

func checkSubject(subject Subject) error {
	if subject == nil {
		return errors.New("subject cannot be nil")
	}
	if !reflect.TypeOf(subject).Comparable() {
		return fmt.Errorf("subject of type %T is not comparable", subject)
	}
	return nil
}

func sortedValues(table permissionTable) []*Permission {
	result := make([]*Permission, 0, len(table))
	for _, p := range table {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return Key(result[i].Name) < Key(result[j].Name)
	})
	return result
}

func keys(set map[Subject]struct{}) []Subject {
	result := make([]Subject, 0, len(set))
	for s := range set {
		result = append(result, s)
	}
	return result
}
