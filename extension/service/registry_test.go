package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/types"
)

func newOwner(name string) *types.Base {
	b := types.NewBase(&types.Descriptor{Name: name, Version: "1.0", Main: name})
	b.SetEnabled(true)
	return b
}

func TestLoadHighestPriority(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	a, b := newOwner("a"), newOwner("b")

	_, _ = r.Register(ctx, "economy", "low", a, Low)
	_, _ = r.Register(ctx, "economy", "high", b, High)
	_, _ = r.Register(ctx, "economy", "high-later", a, High)

	got, ok := r.Load("Economy")
	if !ok || got != "high" {
		t.Errorf("expected high, got %v", got)
	}
	if n := len(r.Registrations("economy")); n != 3 {
		t.Errorf("expected 3 registrations, got %d", n)
	}
}

func TestUnregisterAll(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	r := NewRegistry(WithBus(bus))
	a, b := newOwner("a"), newOwner("b")

	var unregistered []string
	if _, err := bus.Subscribe(KindServiceUnregister, "watcher", nil, event.Normal, false, func(_ context.Context, ev event.Event) error {
		unregistered = append(unregistered, ev.(*Event).Registration.Service)
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_, _ = r.Register(ctx, "economy", "a-econ", a, Normal)
	_, _ = r.Register(ctx, "chat", "a-chat", a, Normal)
	_, _ = r.Register(ctx, "economy", "b-econ", b, Lowest)

	if err := r.UnregisterAll(ctx, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, _ := r.Load("economy"); got != "b-econ" {
		t.Errorf("expected b-econ to remain, got %v", got)
	}
	if r.IsProvidedFor("chat") {
		t.Error("expected chat to be gone")
	}
	if len(r.RegistrationsOf(a)) != 0 {
		t.Error("expected no registrations for a")
	}
	if len(unregistered) != 2 {
		t.Errorf("expected 2 unregister events, got %v", unregistered)
	}
	if got := r.KnownServices(); len(got) != 1 || got[0] != "economy" {
		t.Errorf("expected [economy], got %v", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	disabled := types.NewBase(&types.Descriptor{Name: "off"})
	if _, err := r.Register(ctx, "x", 1, disabled, Normal); !errors.Is(err, types.ErrIllegalAccess) {
		t.Errorf("expected ErrIllegalAccess, got %v", err)
	}
	if _, err := r.Register(ctx, "", 1, nil, Normal); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := r.Register(ctx, "x", nil, nil, Normal); err == nil {
		t.Error("expected error for nil provider")
	}

	reg, err := r.Register(ctx, "host.clock", "clock", nil, Normal)
	if err != nil {
		t.Fatalf("host registration failed: %v", err)
	}
	if !r.Unregister(ctx, reg) || r.Unregister(ctx, reg) {
		t.Error("expected exactly one successful unregister")
	}
}
