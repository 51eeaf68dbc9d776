package permission

import (
	"fmt"
	"sync"
	"testing"
)

func TestHolderFollowsDefaults(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(New("build", "", DefaultTrue))

	user := NewHolder(r, Standard)
	admin := NewHolder(r, Elevated)
	defer user.Close()
	defer admin.Close()

	if !user.HasPermission("build") || !admin.HasPermission("build") {
		t.Fatal("both tiers should hold a true default")
	}

	// registered after the holders exist, picked up through notification
	_ = r.Register(New("ban", "", DefaultOp))
	if !admin.IsPermissionSet("ban") {
		t.Error("expected admin to be recalculated with the new default")
	}
	if user.HasPermission("ban") {
		t.Error("standard holder must not hold an op permission")
	}

	if !admin.HasPermission("unregistered.node") {
		t.Error("unknown permissions fall back to elevated holders")
	}
	if user.HasPermission("unregistered.node") {
		t.Error("unknown permissions are not granted to standard holders")
	}
}

func TestHolderGrants(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(New("chat", "", DefaultTrue))
	h := NewHolder(r, Standard)
	defer h.Close()

	h.Grant("chat", false)
	if h.HasPermission("chat") {
		t.Error("explicit false grant should override the default")
	}

	h.Grant("fly", true)
	if !h.HasPermission("fly") {
		t.Error("expected explicit grant")
	}
	if subs := r.PermissionSubscriptions("fly"); len(subs) != 1 || subs[0] != Subject(h) {
		t.Errorf("expected holder subscribed to fly, got %v", subs)
	}

	h.Revoke("chat")
	if !h.HasPermission("chat") {
		t.Error("revoking should restore the default")
	}
}

func TestHolderSetTierAndClose(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(New("stop", "", DefaultOp))
	h := NewHolder(r, Standard)

	h.SetTier(Elevated)
	if !h.HasPermission("stop") {
		t.Error("expected elevated holder to hold op default")
	}
	if len(r.DefaultSubscriptions(Standard)) != 0 || len(r.DefaultSubscriptions(Elevated)) != 1 {
		t.Error("expected holder to move its default subscription")
	}

	h.Close()
	if len(r.DefaultSubscriptions(Elevated)) != 0 {
		t.Error("expected holder to unsubscribe on close")
	}
	if len(r.PermissionSubscriptions("stop")) != 0 {
		t.Error("expected permission subscriptions to be dropped on close")
	}
}

func TestHolderConcurrentRecalculationLeavesNoSubscriptions(t *testing.T) {
	r := NewRegistry()
	h := NewHolder(r, Standard)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("node.%d", i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			h.Grant(name, true)
		}()
		go func() {
			defer wg.Done()
			h.Revoke(name)
		}()
		go func() {
			defer wg.Done()
			_ = r.Register(New(name, "", DefaultFalse))
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("node.%d", i)
		holding := h.HasPermission(name)
		subscribed := len(r.PermissionSubscriptions(name)) == 1
		if holding != subscribed {
			t.Errorf("expected subscription of %s to be %v, got %v", name, holding, subscribed)
		}
	}

	h.Close()
	for i := 0; i < 20; i++ {
		if subs := r.PermissionSubscriptions(fmt.Sprintf("node.%d", i)); len(subs) != 0 {
			t.Errorf("expected no subscriptions after close, got %d", len(subs))
		}
	}
}
