package types

import (
	"errors"
	"testing"
)

func TestSafeCallRecoversPanic(t *testing.T) {
	err := SafeCall(func() error {
		panic("boom")
	})

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %T", err)
	}
	if pe.Value != "boom" {
		t.Errorf("expected panic value boom, got %v", pe.Value)
	}
	if len(pe.Stack) == 0 {
		t.Error("expected stack to be captured")
	}
}

func TestSafeCallKeepsAuthorNag(t *testing.T) {
	err := SafeCall(func() error {
		panic(&AuthorNagError{Message: "do not do that"})
	})

	nag, ok := IsAuthorNag(err)
	if !ok {
		t.Fatalf("expected author nag, got %v", err)
	}
	if nag.Message != "do not do that" {
		t.Errorf("unexpected nag message %q", nag.Message)
	}
}

func TestSafeCallReturnsError(t *testing.T) {
	want := errors.New("failed")
	if err := SafeCall(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if err := SafeCall(func() error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestDependencyErrorUnwrap(t *testing.T) {
	err := &DependencyError{Name: "C", Missing: []string{"D"}, Err: ErrUnknownDependency}
	if !errors.Is(err, ErrUnknownDependency) {
		t.Error("expected error to match ErrUnknownDependency")
	}
	if err.Error() != "C: unknown dependency: D" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestBaseFlags(t *testing.T) {
	b := NewBase(&Descriptor{Name: "Demo", Version: "1.0"})

	if b.IsEnabled() {
		t.Error("new extension should not be enabled")
	}
	if !b.IsNaggable() {
		t.Error("new extension should be naggable")
	}

	b.SetNaggable(false)
	if b.IsNaggable() {
		t.Error("expected naggable to be cleared")
	}

	b.SetEnabled(true)
	if !b.IsEnabled() {
		t.Error("expected extension to be enabled")
	}
	if b.Descriptor().FullName() != "Demo v1.0" {
		t.Errorf("unexpected full name %q", b.Descriptor().FullName())
	}
}

func TestLookupKey(t *testing.T) {
	if got := LookupKey("My Extension"); got != "my_extension" {
		t.Errorf("expected my_extension, got %s", got)
	}
	if got := NormalizeName("WorldEdit"); got != "worldedit" {
		t.Errorf("expected worldedit, got %s", got)
	}
}
