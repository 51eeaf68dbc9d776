package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/types"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) has(s string) bool {
	for _, e := range j.list() {
		if e == s {
			return true
		}
	}
	return false
}

type testExtension struct {
	*types.Base
	journal      *journal
	enableErr    error
	disablePanic bool
	onDisable    func()
}

func (e *testExtension) OnEnable(context.Context) error {
	e.journal.add("enable:" + e.Name())
	return e.enableErr
}

func (e *testExtension) OnDisable(context.Context) error {
	e.journal.add("disable:" + e.Name())
	if e.onDisable != nil {
		e.onDisable()
	}
	if e.disablePanic {
		panic("disable exploded")
	}
	return nil
}

// fakeLoader describes files by base name from an in-memory table
type fakeLoader struct {
	pattern     *regexp.Regexp
	descriptors map[string]*types.Descriptor
	journal     *journal
	loadErr     map[string]error
	configure   func(*testExtension)
}

func newFakeLoader(j *journal, descs ...*types.Descriptor) *fakeLoader {
	l := &fakeLoader{
		pattern:     regexp.MustCompile(`\.ext$`),
		descriptors: make(map[string]*types.Descriptor),
		journal:     j,
		loadErr:     make(map[string]error),
	}
	for _, d := range descs {
		l.descriptors[d.Name+".ext"] = d
	}
	return l
}

func (l *fakeLoader) Patterns() []*regexp.Regexp { return []*regexp.Regexp{l.pattern} }

func (l *fakeLoader) Describe(source string) (*types.Descriptor, error) {
	d, ok := l.descriptors[filepath.Base(source)]
	if !ok {
		return nil, types.ErrInvalidDescriptor
	}
	return d, nil
}

func (l *fakeLoader) Load(_ context.Context, _ string, desc *types.Descriptor) (types.Extension, error) {
	if err := l.loadErr[desc.Name]; err != nil {
		return nil, err
	}
	l.journal.add("load:" + desc.Name)
	ext := &testExtension{Base: types.NewBase(desc), journal: l.journal}
	if l.configure != nil {
		l.configure(ext)
	}
	return ext, nil
}

func (l *fakeLoader) Release(ext types.Extension) error {
	l.journal.add("release:" + ext.Name())
	return nil
}

func desc(name string, depend ...string) *types.Descriptor {
	return &types.Descriptor{Name: name, Version: "1.0", Main: name, Depend: depend}
}

// writeSources creates one empty file per descriptor so directory loads see them
func writeSources(t *testing.T, l *fakeLoader) string {
	t.Helper()
	dir := t.TempDir()
	for file := range l.descriptors {
		if err := os.WriteFile(filepath.Join(dir, file), nil, 0o644); err != nil {
			t.Fatalf("write source: %v", err)
		}
	}
	return dir
}

func newTestManager(t *testing.T, l *fakeLoader, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(&config.Extension{ReservedNames: []string{"hostkit"}}, opts...)
	if err := m.RegisterLoader(l); err != nil {
		t.Fatalf("register loader: %v", err)
	}
	return m
}

func TestLoadDirectoryUnknownDependency(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("A"), desc("B", "A"), desc("C", "D"))
	m := newTestManager(t, l)

	result, err := m.LoadDirectory(context.Background(), writeSources(t, l))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(result.Names(), ","); got != "A,B" {
		t.Errorf("expected load order A,B, got %s", got)
	}
	if len(result.Failures) != 1 || !errors.Is(result.Failures[0].Err, types.ErrUnknownDependency) {
		t.Fatalf("expected C to fail with unknown dependency, got %+v", result.Failures)
	}
	if result.Failures[0].Candidate.Descriptor.Name != "C" {
		t.Errorf("expected C to fail, got %s", result.Failures[0].Candidate.Descriptor.Name)
	}
	if len(m.Extensions()) != 2 {
		t.Errorf("expected 2 extensions in registry, got %d", len(m.Extensions()))
	}
}

func TestLoadDirectoryCycle(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("X", "Y"), desc("Y", "X"))
	m := newTestManager(t, l)

	result, _ := m.LoadDirectory(context.Background(), writeSources(t, l))
	if len(result.Loaded) != 0 {
		t.Errorf("expected nothing loaded, got %v", result.Names())
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(result.Failures))
	}
	for _, f := range result.Failures {
		if !errors.Is(f.Err, types.ErrCircularDependency) {
			t.Errorf("expected circular dependency for %s, got %v", f.Candidate.Descriptor.Name, f.Err)
		}
	}
}

func TestLoadDirectoryFilters(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("keep"), desc("drop"), desc("hostkit"))
	m := NewManager(&config.Extension{Excludes: []string{"DROP"}, ReservedNames: []string{"hostkit"}}, WithLoaders(l))

	result, _ := m.LoadDirectory(context.Background(), writeSources(t, l))
	if got := strings.Join(result.Names(), ","); got != "keep" {
		t.Errorf("expected only keep, got %s", got)
	}
	if len(result.Failures) != 1 || !errors.Is(result.Failures[0].Err, types.ErrRestrictedName) {
		t.Errorf("expected reserved name failure, got %+v", result.Failures)
	}
}

func TestHostNamesRejectedWithoutConfig(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("HostKit"), desc("plain"))
	m := NewManager(nil, WithLoaders(l))

	result, _ := m.LoadDirectory(context.Background(), writeSources(t, l))
	if got := strings.Join(result.Names(), ","); got != "plain" {
		t.Errorf("expected only plain, got %s", got)
	}
	if len(result.Failures) != 1 || !errors.Is(result.Failures[0].Err, types.ErrRestrictedName) {
		t.Errorf("expected restricted name failure, got %+v", result.Failures)
	}
}

func TestLoadDirectoryLoadFailureIsolated(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("good"), desc("bad"), desc("child", "bad"))
	l.loadErr["bad"] = errors.New("corrupt")
	m := newTestManager(t, l)

	result, _ := m.LoadDirectory(context.Background(), writeSources(t, l))
	if got := strings.Join(result.Names(), ","); got != "good" {
		t.Errorf("expected only good, got %s", got)
	}
	if len(result.Failures) != 2 {
		t.Errorf("expected bad and child to fail, got %d failures", len(result.Failures))
	}
}

func TestLastMatchingLoaderWins(t *testing.T) {
	first := newFakeLoader(&journal{}, desc("a"))
	j := &journal{}
	second := newFakeLoader(j, desc("a"))
	m := NewManager(nil, WithLoaders(first, second))

	if _, err := m.LoadDirectory(context.Background(), writeSources(t, first)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !j.has("load:a") {
		t.Error("expected the last registered loader to load a")
	}
}

func TestLoadExtension(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("base"), desc("addon", "base"))
	m := newTestManager(t, l)
	dir := writeSources(t, l)
	ctx := context.Background()

	_, err := m.LoadExtension(ctx, filepath.Join(dir, "addon.ext"))
	var depErr *types.DependencyError
	if !errors.As(err, &depErr) || depErr.Missing[0] != "base" {
		t.Fatalf("expected missing base, got %v", err)
	}

	if _, err := m.LoadExtension(ctx, filepath.Join(dir, "base.ext")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.LoadExtension(ctx, filepath.Join(dir, "addon.ext")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.LoadExtension(ctx, filepath.Join(dir, "base.ext")); !errors.Is(err, types.ErrDuplicateExtension) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if _, err := m.LoadExtension(ctx, filepath.Join(dir, "notes.txt")); !errors.Is(err, types.ErrNoLoader) {
		t.Errorf("expected ErrNoLoader, got %v", err)
	}
}

func TestLoadExtensionWaitsForUnloadOfDependency(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("base"), desc("addon", "base"))
	disabling := make(chan struct{})
	proceed := make(chan struct{})
	l.configure = func(ext *testExtension) {
		if ext.Name() == "base" {
			ext.onDisable = func() {
				close(disabling)
				<-proceed
			}
		}
	}
	m := newTestManager(t, l)
	dir := writeSources(t, l)
	ctx := context.Background()

	base, err := m.LoadExtension(ctx, filepath.Join(dir, "base.ext"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Enable(ctx, base); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unloaded := make(chan error, 1)
	go func() { unloaded <- m.Unload(ctx, "base") }()
	<-disabling

	loaded := make(chan error, 1)
	go func() {
		_, err := m.LoadExtension(ctx, filepath.Join(dir, "addon.ext"))
		loaded <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(proceed)

	if err := <-unloaded; err != nil {
		t.Fatalf("unexpected unload error: %v", err)
	}
	var depErr *types.DependencyError
	if err := <-loaded; !errors.As(err, &depErr) {
		t.Fatalf("expected missing base after unload, got %v", err)
	}
	if _, ok := m.Extension("addon"); ok {
		t.Error("expected addon not to be loaded")
	}
}

func TestLookup(t *testing.T) {
	j := &journal{}
	l := newFakeLoader(j, desc("My_Ext"))
	m := newTestManager(t, l)
	_, _ = m.LoadDirectory(context.Background(), writeSources(t, l))

	for _, name := range []string{"My_Ext", "my_ext", "MY EXT"} {
		if _, ok := m.Extension(name); !ok {
			t.Errorf("expected %q to resolve", name)
		}
	}
	if state, _ := m.State("my_ext"); state != types.StateLoaded {
		t.Errorf("expected loaded state, got %s", state)
	}
	if m.IsEnabledByName("my_ext") {
		t.Error("extension should not be enabled yet")
	}
	if m.IsEnabled(types.NewBase(desc("stranger"))) {
		t.Error("foreign extension should not be reported enabled")
	}
}

func TestManagerPublishesOnSharedBus(t *testing.T) {
	bus := event.NewBus()
	m := NewManager(nil, WithBus(bus))
	if m.Bus() != bus {
		t.Error("expected supplied bus to be used")
	}
	if m.Permissions() == nil || m.Commands() == nil || m.Scheduler() == nil || m.Services() == nil || m.Messenger() == nil || m.Metrics() == nil {
		t.Error("expected default collaborators")
	}
}
