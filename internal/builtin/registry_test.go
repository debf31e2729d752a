package builtin

import (
	"context"
	"testing"

	"github.com/galeshell/gale/internal/modload"
)

// fakeBackend satisfies modload.Backend without touching the filesystem.
type fakeBackend struct {
	unloads int
}

type fakeImage struct{ name string }

func (i *fakeImage) Name() string                    { return i.name }
func (i *fakeImage) Path() string                    { return "/modules/" + i.name }
func (i *fakeImage) Entrypoint() string              { return "/modules/" + i.name + "/bin" }
func (i *fakeImage) Builtins() []modload.BuiltinDecl { return nil }

func (b *fakeBackend) Load(ctx context.Context, name string) (modload.Image, error) {
	return &fakeImage{name: name}, nil
}

func (b *fakeBackend) Unload(img modload.Image) error {
	b.unloads++
	return nil
}

func nopHandler(ctx context.Context, call *Call) int { return 0 }

func newTestRegistry(t *testing.T) (*Registry, *modload.Loader, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	loader := modload.NewLoader(backend)
	return NewRegistry(loader), loader, backend
}

func TestLookupReturnsNewestMatch(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	older := Handler(func(ctx context.Context, call *Call) int { return 1 })
	newer := Handler(func(ctx context.Context, call *Call) int { return 2 })

	if r.Register("echo", older, nil) == nil {
		t.Fatal("register older")
	}
	if r.Register("ECHO", newer, nil) == nil {
		t.Fatal("register newer")
	}

	e, ok := r.Lookup("Echo")
	if !ok {
		t.Fatal("lookup failed")
	}
	if got := e.Handler()(context.Background(), &Call{}); got != 2 {
		t.Fatalf("lookup should return the newest entry, handler returned %d", got)
	}

	// Removing the newer entry restores the older one.
	if !r.Unregister("echo", newer) {
		t.Fatal("unregister newer")
	}
	e, ok = r.Lookup("echo")
	if !ok {
		t.Fatal("older entry should remain")
	}
	if got := e.Handler()(context.Background(), &Call{}); got != 1 {
		t.Fatalf("expected older handler, got %d", got)
	}
}

func TestShadowingAcrossModules(t *testing.T) {
	r, loader, _ := newTestRegistry(t)

	static := Handler(func(ctx context.Context, call *Call) int { return 10 })
	if r.Register("FOO", static, nil) == nil {
		t.Fatal("register static FOO")
	}

	m, err := loader.Load(context.Background(), "m")
	if err != nil {
		t.Fatalf("load module: %v", err)
	}
	fromModule := Handler(func(ctx context.Context, call *Call) int { return 20 })
	if r.Register("FOO", fromModule, m) == nil {
		t.Fatal("register module FOO")
	}
	loader.Release(m) // builtin reference keeps the module alive

	e, _ := r.Lookup("foo")
	if got := e.Handler()(context.Background(), &Call{}); got != 20 {
		t.Fatalf("module entry should shadow, got %d", got)
	}
	if e.Owner() == nil {
		t.Fatal("newest entry should be module-owned")
	}

	if !r.Unregister("FOO", fromModule) {
		t.Fatal("unregister module entry")
	}
	e, ok := r.Lookup("foo")
	if !ok {
		t.Fatal("static entry should remain")
	}
	if got := e.Handler()(context.Background(), &Call{}); got != 10 {
		t.Fatalf("expected static handler, got %d", got)
	}
	if _, stillLoaded := loader.Lookup("m"); stillLoaded {
		t.Fatal("module should have unloaded when its last entry was removed")
	}
}

func TestUnregisterIsIdempotentSafe(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	h := Handler(nopHandler)
	r.Register("x", h, nil)

	if !r.Unregister("x", h) {
		t.Fatal("first unregister should succeed")
	}
	if r.Unregister("x", h) {
		t.Fatal("second unregister should report not found")
	}
}

func TestUnregisterMismatchedHandler(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	registered := Handler(func(ctx context.Context, call *Call) int { return 0 })
	other := Handler(func(ctx context.Context, call *Call) int { return 1 })
	r.Register("x", registered, nil)

	if r.Unregister("x", other) {
		t.Fatal("mismatched pair must report not found")
	}
	if _, ok := r.Lookup("x"); !ok {
		t.Fatal("original entry must survive a mismatched unregister")
	}
}

// Handlers for different modules are usually minted from a single closure
// literal, so they share a code pointer. Unregister must still remove the
// entry for the handler value it was given, never a sibling's.
func TestUnregisterSameLiteralClosures(t *testing.T) {
	r, loader, _ := newTestRegistry(t)

	mint := func(code int) Handler {
		return func(ctx context.Context, call *Call) int { return code }
	}
	ha := mint(1)
	hb := mint(2)

	ma, err := loader.Load(context.Background(), "a")
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	mb, err := loader.Load(context.Background(), "b")
	if err != nil {
		t.Fatalf("load b: %v", err)
	}

	r.Register("foo", ha, ma)
	r.Register("foo", hb, mb)
	loader.Release(ma)
	loader.Release(mb)

	if !r.Unregister("foo", ha) {
		t.Fatal("unregister a's handler")
	}
	e, ok := r.Lookup("foo")
	if !ok {
		t.Fatal("b's entry should remain")
	}
	if got := e.Handler()(context.Background(), &Call{}); got != 2 {
		t.Fatalf("b's handler should survive, got %d", got)
	}
	if _, loaded := loader.Lookup("a"); loaded {
		t.Fatal("module a should have unloaded")
	}
	if _, loaded := loader.Lookup("b"); !loaded {
		t.Fatal("module b must stay loaded")
	}
}

func TestUnregisterEntryRemovesExactEntry(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	h := Handler(nopHandler)
	first := r.Register("x", h, nil)
	second := r.Register("x", h, nil)
	if first == nil || second == nil {
		t.Fatal("register")
	}

	if !r.UnregisterEntry(first) {
		t.Fatal("remove first entry")
	}
	e, ok := r.Lookup("x")
	if !ok || e != second {
		t.Fatal("second entry should remain")
	}
	if r.UnregisterEntry(first) {
		t.Fatal("removing an entry twice must report not found")
	}
	if !r.UnregisterEntry(second) {
		t.Fatal("remove second entry")
	}
	if _, ok := r.Lookup("x"); ok {
		t.Fatal("no entry should remain")
	}
}

func TestEnumeratePreviousWalksInsertionOrder(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	names := []string{"alpha", "beta", "alpha", "gamma"}
	for _, n := range names {
		n := n
		r.Register(n, func(ctx context.Context, call *Call) int { return 0 }, nil)
	}

	var walked []string
	for e := r.EnumeratePrevious(nil); e != nil; e = r.EnumeratePrevious(e) {
		walked = append(walked, e.Name())
	}
	if len(walked) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(walked))
	}
	for i := range names {
		if walked[i] != names[i] {
			t.Fatalf("position %d: expected %q, got %q", i, names[i], walked[i])
		}
	}
}

func TestActiveModuleSaveRestore(t *testing.T) {
	r, loader, _ := newTestRegistry(t)

	m, err := loader.Load(context.Background(), "outer")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loader.Release(m)

	if r.ActiveModule() != nil {
		t.Fatal("no module should be active initially")
	}
	prev := r.SetActiveModule(m)
	if prev != nil {
		t.Fatal("previous active should be nil")
	}
	if r.ActiveModule() != m {
		t.Fatal("module should be active")
	}
	r.SetActiveModule(prev)
	if r.ActiveModule() != nil {
		t.Fatal("active module should be restored")
	}
}

func TestSetUnloadRoutineProcessWideDedupes(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	calls := 0
	fn := func() { calls++ }
	if !r.SetUnloadRoutine(fn) {
		t.Fatal("first registration should succeed")
	}
	if !r.SetUnloadRoutine(fn) {
		t.Fatal("duplicate registration is a no-op success")
	}

	r.UnregisterAll()
	if calls != 1 {
		t.Fatalf("callback should run exactly once, ran %d times", calls)
	}
}

// Two distinct callbacks minted from one literal are not duplicates of each
// other; both must run.
func TestSetUnloadRoutineDistinctClosuresBothFire(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	var order []string
	mint := func(tag string) func() {
		return func() { order = append(order, tag) }
	}
	if !r.SetUnloadRoutine(mint("first")) {
		t.Fatal("first registration should succeed")
	}
	if !r.SetUnloadRoutine(mint("second")) {
		t.Fatal("second registration should succeed")
	}

	r.UnregisterAll()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("both callbacks should fire in order, got %v", order)
	}
}

func TestSetUnloadRoutineAttachesToActiveModule(t *testing.T) {
	r, loader, _ := newTestRegistry(t)

	m, err := loader.Load(context.Background(), "m")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	fired := 0
	prev := r.SetActiveModule(m)
	if !r.SetUnloadRoutine(func() { fired++ }) {
		t.Fatal("registration while module active should succeed")
	}
	r.SetActiveModule(prev)

	if fired != 0 {
		t.Fatal("routine must not fire before unload")
	}
	loader.Release(m)
	if fired != 1 {
		t.Fatalf("module unload routine should fire exactly once, fired %d", fired)
	}
}

func TestUnregisterAllTeardownOrder(t *testing.T) {
	r, loader, backend := newTestRegistry(t)

	var events []string

	r.Register("one", func(ctx context.Context, call *Call) int { return 0 }, nil)
	r.Register("two", func(ctx context.Context, call *Call) int { return 0 }, nil)

	m, err := loader.Load(context.Background(), "m")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	prev := r.SetActiveModule(m)
	r.SetUnloadRoutine(func() { events = append(events, "module-notify") })
	r.SetActiveModule(prev)
	r.Register("three", func(ctx context.Context, call *Call) int { return 0 }, m)
	loader.Release(m)

	r.SetUnloadRoutine(func() { events = append(events, "static-a") })
	r.SetUnloadRoutine(func() { events = append(events, "static-b") })

	r.UnregisterAll()

	want := []string{"module-notify", "static-a", "static-b"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events)
		}
	}
	if backend.unloads != 1 {
		t.Fatalf("module image should be unloaded exactly once, got %d", backend.unloads)
	}

	// Idempotent against an empty registry.
	r.UnregisterAll()
	if len(events) != len(want) {
		t.Fatal("second teardown must be a no-op")
	}
}
