package modload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/galeshell/gale/internal/log"
)

// funcval returns the address of the runtime object backing a func value.
// Code pointers are shared by every closure minted from one literal, so they
// cannot distinguish two distinct callbacks; the backing object can.
func funcval(fn any) unsafe.Pointer {
	type iface struct{ typ, data unsafe.Pointer }
	return (*iface)(unsafe.Pointer(&fn)).data
}

// Module is one loaded module. A single record exists per distinct name;
// concurrent loads of the same name share it through the reference count.
type Module struct {
	name   string
	image  Image
	refs   int
	notify func()
}

// Name returns the module's canonical name.
func (m *Module) Name() string { return m.name }

// Image returns the backing image.
func (m *Module) Image() Image { return m.image }

// ModuleInfo is a display snapshot of a loaded module.
type ModuleInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Refs       int    `json:"refs"`
	Builtins   int    `json:"builtins"`
	Entrypoint string `json:"entrypoint"`
}

// Loader owns the directory of loaded modules.
type Loader struct {
	mu      sync.Mutex
	backend Backend
	modules map[string]*Module // keyed by lower-cased name
	logger  *slog.Logger
}

// NewLoader creates a loader over the given backend.
func NewLoader(backend Backend) *Loader {
	return &Loader{
		backend: backend,
		modules: make(map[string]*Module),
		logger:  log.WithComponent("modload"),
	}
}

// Load returns a referenced module for name. If the module is already loaded
// its reference count is incremented and the existing record is returned;
// otherwise the backend maps it and a fresh record with one reference is
// created. A failed load leaves no partial state behind.
func (l *Loader) Load(ctx context.Context, name string) (*Module, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("module name is empty")
	}

	l.mu.Lock()
	if m, ok := l.modules[key]; ok {
		m.refs++
		l.mu.Unlock()
		l.logger.Debug("module already loaded", "module", m.name, "refs", m.refs)
		return m, nil
	}
	l.mu.Unlock()

	// Backend load happens outside the lock; it may touch the filesystem.
	img, err := l.backend.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load module %q: %w", name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A concurrent load may have won the race; keep the existing record and
	// discard our image so the single-instance invariant holds.
	if m, ok := l.modules[key]; ok {
		m.refs++
		if uerr := l.backend.Unload(img); uerr != nil {
			l.logger.Warn("discarding duplicate image failed", "module", name, "error", uerr)
		}
		return m, nil
	}

	m := &Module{
		name:  img.Name(),
		image: img,
		refs:  1,
	}
	l.modules[key] = m
	l.logger.Info("module loaded", "module", m.name, "path", img.Path(), "builtins", len(img.Builtins()))
	return m, nil
}

// Reference increments the module's reference count without loading.
// Used when a second owner (e.g. a registered builtin) keeps the module resident.
func (l *Loader) Reference(m *Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs++
}

// Release decrements the module's reference count. When it reaches zero the
// unload-notify routine (if any) fires, then the backend unmaps the image and
// the record is dropped. Call exactly once per Load/Reference.
func (l *Loader) Release(m *Module) {
	l.mu.Lock()
	m.refs--
	if m.refs > 0 {
		l.mu.Unlock()
		return
	}
	key := strings.ToLower(m.name)
	delete(l.modules, key)
	notify := m.notify
	m.notify = nil
	l.mu.Unlock()

	if notify != nil {
		notify()
	}
	if err := l.backend.Unload(m.image); err != nil {
		l.logger.Warn("module unload failed", "module", m.name, "error", err)
	} else {
		l.logger.Info("module unloaded", "module", m.name)
	}
}

// SetUnloadNotify attaches fn as the module's unload-notify routine.
// The first registration wins; re-registering the same function is a no-op
// success, while a different function is refused.
func (l *Loader) SetUnloadNotify(m *Module, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.notify == nil {
		m.notify = fn
		return true
	}
	return funcval(m.notify) == funcval(fn)
}

// Refs returns the module's current reference count.
func (l *Loader) Refs(m *Module) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.refs
}

// Lookup returns the loaded module for name without referencing it.
func (l *Loader) Lookup(name string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.modules[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Loaded returns a snapshot of every loaded module, sorted by name.
func (l *Loader) Loaded() []ModuleInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ModuleInfo, 0, len(l.modules))
	for _, m := range l.modules {
		out = append(out, ModuleInfo{
			Name:       m.name,
			Path:       m.image.Path(),
			Refs:       m.refs,
			Builtins:   len(m.image.Builtins()),
			Entrypoint: m.image.Entrypoint(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
