package permission

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ncobase/hostkit/extension/types"
)

type countingSubject struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSubject) RecalculatePermissions() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *countingSubject) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func names(perms []*Permission) []string {
	result := make([]string, 0, len(perms))
	for _, p := range perms {
		result = append(result, p.Name)
	}
	return result
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	first := New("host.kick", "first", DefaultOp)

	if err := r.Register(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register(New("HOST.KICK", "second", DefaultTrue))
	if !errors.Is(err, types.ErrDuplicatePermission) {
		t.Fatalf("expected ErrDuplicatePermission, got %v", err)
	}

	p, ok := r.Lookup("host.kick")
	if !ok || p != first {
		t.Errorf("expected first registration to remain, got %+v", p)
	}
	if r.HasDefault(Standard, "host.kick") {
		t.Error("rejected registration must not change the default sets")
	}
}

func TestDefaultSets(t *testing.T) {
	r := NewRegistry()
	for _, p := range []*Permission{
		New("a.true", "", DefaultTrue),
		New("b.op", "", DefaultOp),
		New("c.notop", "", DefaultNotOp),
		New("d.false", "", DefaultFalse),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Name, err)
		}
	}

	tests := []struct {
		tier Tier
		want []string
	}{
		{Elevated, []string{"a.true", "b.op"}},
		{Standard, []string{"a.true", "c.notop"}},
	}
	for _, tt := range tests {
		got := names(r.DefaultSet(tt.tier))
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("%s defaults: expected %v, got %v", tt.tier, tt.want, got)
		}
	}

	if len(r.Permissions()) != 4 {
		t.Errorf("expected 4 permissions, got %d", len(r.Permissions()))
	}
}

func TestSubjectNotification(t *testing.T) {
	r := NewRegistry()
	elevated := &countingSubject{}
	standard := &countingSubject{}
	if err := r.SubscribeToDefaults(Elevated, elevated); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	_ = r.SubscribeToDefaults(Standard, standard)

	_ = r.Register(New("admin", "", DefaultOp))
	if elevated.count() != 1 || standard.count() != 0 {
		t.Errorf("op permission: elevated=%d standard=%d", elevated.count(), standard.count())
	}

	_ = r.Register(New("everyone", "", DefaultTrue))
	if elevated.count() != 2 || standard.count() != 1 {
		t.Errorf("true permission: elevated=%d standard=%d", elevated.count(), standard.count())
	}

	_ = r.RegisterQuiet(New("quiet", "", DefaultTrue))
	if elevated.count() != 2 || standard.count() != 1 {
		t.Errorf("quiet registration notified subjects: elevated=%d standard=%d", elevated.count(), standard.count())
	}
	if !r.HasDefault(Standard, "quiet") {
		t.Error("quiet registration should still update the default set")
	}

	if !r.Unregister("admin") {
		t.Fatal("expected admin to be removed")
	}
	if elevated.count() != 3 || standard.count() != 1 {
		t.Errorf("removal: elevated=%d standard=%d", elevated.count(), standard.count())
	}
	if r.HasDefault(Elevated, "admin") {
		t.Error("removed permission still in elevated defaults")
	}

	r.UnsubscribeFromDefaults(Elevated, elevated)
	_ = r.Register(New("later", "", DefaultOp))
	if elevated.count() != 3 {
		t.Errorf("unsubscribed subject was notified, count=%d", elevated.count())
	}
}

func TestSetDefaultMovesTier(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(New("fly", "", DefaultOp))

	if err := r.SetDefault("fly", DefaultNotOp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.HasDefault(Elevated, "fly") || !r.HasDefault(Standard, "fly") {
		t.Error("expected fly to move from elevated to standard defaults")
	}
	if err := r.SetDefault("missing", DefaultTrue); err == nil {
		t.Error("expected error for unknown permission")
	}
}

func TestSubscriptionTables(t *testing.T) {
	r := NewRegistry()
	s := &countingSubject{}

	if err := r.SubscribeToPermission("chat.color", s); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if subs := r.PermissionSubscriptions("CHAT.COLOR"); len(subs) != 1 || subs[0] != s {
		t.Errorf("expected subject in subscriptions, got %v", subs)
	}

	r.UnsubscribeFromPermission("chat.color", s)
	if subs := r.PermissionSubscriptions("chat.color"); len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %v", subs)
	}
	if err := r.SubscribeToDefaults(Standard, nil); err == nil {
		t.Error("expected nil subject to be rejected")
	}
}

func TestClearAll(t *testing.T) {
	r := NewRegistry()
	s := &countingSubject{}
	_ = r.Register(New("x", "", DefaultTrue))
	_ = r.SubscribeToDefaults(Elevated, s)
	_ = r.SubscribeToPermission("x", s)

	r.ClearAll()

	if len(r.Permissions()) != 0 || len(r.DefaultSet(Elevated)) != 0 || len(r.DefaultSet(Standard)) != 0 {
		t.Error("expected registry to be empty")
	}
	if len(r.DefaultSubscriptions(Elevated)) != 0 || len(r.PermissionSubscriptions("x")) != 0 {
		t.Error("expected subscriptions to be cleared")
	}
	if err := r.Register(New("x", "", DefaultTrue)); err != nil {
		t.Errorf("expected re-registration after clear, got %v", err)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = r.Register(New(fmt.Sprintf("perm.%d.%d", w, i), "", DefaultTrue))
			}
		}(w)
	}
	for rd := 0; rd < 4; rd++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				standard := r.DefaultSet(Standard)
				for _, p := range standard {
					if _, ok := r.Lookup(p.Name); !ok {
						t.Errorf("default %s not in permission table", p.Name)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if n := len(r.DefaultSet(Elevated)); n != 200 {
		t.Errorf("expected 200 elevated defaults, got %d", n)
	}
}

func TestDefaultsFollowTableUnderRaces(t *testing.T) {
	r := NewRegistry()
	const rounds = 500

	consistent := func(name string) {
		_, registered := r.Lookup(name)
		for _, tier := range []Tier{Elevated, Standard} {
			if r.HasDefault(tier, name) != registered {
				t.Errorf("expected %s default of %s to be %v", tier, name, registered)
			}
		}
	}

	for i := 0; i < rounds; i++ {
		name := fmt.Sprintf("race.%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Register(New(name, "", DefaultTrue))
		}()
		go func() {
			defer wg.Done()
			r.Unregister(name)
		}()
		wg.Wait()
		consistent(name)
	}

	for i := 0; i < rounds; i++ {
		name := fmt.Sprintf("clear.%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Register(New(name, "", DefaultTrue))
		}()
		go func() {
			defer wg.Done()
			r.ClearAll()
		}()
		wg.Wait()
		consistent(name)
		if n, d := len(r.Permissions()), len(r.DefaultSet(Standard)); n != d {
			t.Fatalf("expected %d standard defaults, got %d", n, d)
		}
	}
}

func TestParseDefault(t *testing.T) {
	tests := map[string]Default{
		"":      DefaultOp,
		"TRUE":  DefaultTrue,
		"false": DefaultFalse,
		"op":    DefaultOp,
		"notop": DefaultNotOp,
		"!op":   DefaultNotOp,
	}
	for in, want := range tests {
		got, err := ParseDefault(in)
		if err != nil || got != want {
			t.Errorf("ParseDefault(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDefault("sometimes"); err == nil {
		t.Error("expected error for unknown default")
	}
}
