// Package builtin maintains the shell's table of builtin commands.
//
// Registering the same name twice does not replace the older entry: the new
// one shadows it, and lookup always returns the most recently registered
// match. Entries registered on behalf of a loaded module hold a reference on
// that module so its code stays resident until the entry is unregistered.
package builtin

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/galeshell/gale/internal/log"
	"github.com/galeshell/gale/internal/modload"
)

// funcval returns the address of the runtime object backing a func value.
// Closures minted from one literal share a single code pointer, so code
// pointers cannot tell two registrations apart; the backing object can. The
// same func value always carries the same backing object.
func funcval(fn any) unsafe.Pointer {
	type iface struct{ typ, data unsafe.Pointer }
	return (*iface)(unsafe.Pointer(&fn)).data
}

// Call carries the arguments and output streams for one builtin invocation.
type Call struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Handler executes a builtin and returns its exit code.
type Handler func(ctx context.Context, call *Call) int

// Entry is one registered builtin. The *Entry returned by Register is the
// registration's identity; holding it allows exact removal even when several
// entries share an indistinguishable handler value.
type Entry struct {
	name    string
	handler Handler
	fv      unsafe.Pointer
	owner   *modload.Module
}

// Name returns the name the entry was registered under.
func (e *Entry) Name() string { return e.name }

// Handler returns the entry's handler.
func (e *Entry) Handler() Handler { return e.handler }

// Owner returns the module that registered the entry, or nil for
// statically linked builtins.
func (e *Entry) Owner() *modload.Module { return e.owner }

// EntryInfo is a display snapshot of a registered builtin.
type EntryInfo struct {
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
}

// Registry is the name-keyed builtin table.
type Registry struct {
	mu     sync.Mutex
	loader *modload.Loader
	byName map[string][]*Entry // lower-cased name -> entries, newest first
	order  []*Entry            // insertion order, oldest first
	active *modload.Module

	// Process-wide unload callbacks registered by statically linked code,
	// invoked once during UnregisterAll.
	unloadCallbacks []func()

	logger *slog.Logger
}

// NewRegistry creates an empty registry. The loader is used to reference and
// release owner modules as entries come and go.
func NewRegistry(loader *modload.Loader) *Registry {
	return &Registry{
		loader: loader,
		byName: make(map[string][]*Entry),
		logger: log.WithComponent("builtin"),
	}
}

// Register inserts a builtin as the newest entry for name and returns the
// entry, or nil for an empty name or nil handler. If owner is non-nil the
// registry takes a reference on it so the module stays loaded while the
// entry exists. Name collisions are not an error; the new entry shadows
// older ones. Callers that register several handlers from one closure
// literal keep the returned entry and remove with UnregisterEntry.
func (r *Registry) Register(name string, handler Handler, owner *modload.Module) *Entry {
	if strings.TrimSpace(name) == "" || handler == nil {
		return nil
	}

	e := &Entry{
		name:    name,
		handler: handler,
		fv:      funcval(handler),
		owner:   owner,
	}
	if owner != nil {
		r.loader.Reference(owner)
	}

	key := strings.ToLower(name)

	r.mu.Lock()
	r.byName[key] = append([]*Entry{e}, r.byName[key]...)
	r.order = append(r.order, e)
	r.mu.Unlock()

	r.logger.Debug("builtin registered", "name", name, "module", ownerName(owner))
	return e
}

// Unregister removes the newest entry matching name (case-insensitive) and
// the exact handler value that was registered, releasing any owner-module
// reference. Returns false when no such pair exists; a mismatched pair is a
// caller error the registry tolerates by reporting not-found.
func (r *Registry) Unregister(name string, handler Handler) bool {
	if handler == nil {
		return false
	}
	fv := funcval(handler)
	return r.remove(strings.ToLower(name), func(e *Entry) bool { return e.fv == fv })
}

// UnregisterEntry removes exactly the entry a Register call returned,
// releasing any owner-module reference. Returns false when the entry is no
// longer registered.
func (r *Registry) UnregisterEntry(target *Entry) bool {
	if target == nil {
		return false
	}
	return r.remove(strings.ToLower(target.name), func(e *Entry) bool { return e == target })
}

// remove drops the newest entry under key satisfying match from both
// indexes, then releases its owner reference outside the lock.
func (r *Registry) remove(key string, match func(*Entry) bool) bool {
	r.mu.Lock()
	entries := r.byName[key]
	var found *Entry
	for i, e := range entries {
		if match(e) {
			found = e
			r.byName[key] = append(entries[:i:i], entries[i+1:]...)
			if len(r.byName[key]) == 0 {
				delete(r.byName, key)
			}
			break
		}
	}
	if found != nil {
		for i, e := range r.order {
			if e == found {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if found == nil {
		return false
	}
	if found.owner != nil {
		r.loader.Release(found.owner)
	}
	r.logger.Debug("builtin unregistered", "name", found.name, "module", ownerName(found.owner))
	return true
}

// Lookup returns the newest entry registered under name, case-insensitively.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byName[strings.ToLower(name)]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0], true
}

// EnumeratePrevious walks the registry in insertion order, oldest first.
// A nil cursor starts the walk; the entry after cursor is returned, or nil
// when the walk is done. Intended for administrative listing; dispatch uses
// Lookup, which observes shadowing.
func (r *Registry) EnumeratePrevious(cursor *Entry) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil
	}
	if cursor == nil {
		return r.order[0]
	}
	for i, e := range r.order {
		if e == cursor {
			if i+1 < len(r.order) {
				return r.order[i+1]
			}
			return nil
		}
	}
	return nil
}

// Entries returns a display snapshot in insertion order.
func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryInfo, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, EntryInfo{Name: e.name, Module: ownerName(e.owner)})
	}
	return out
}

// SetActiveModule records the module whose code is about to run and returns
// the previous value so the caller can restore it afterwards. Nested module
// invocations follow the same save/restore discipline.
func (r *Registry) SetActiveModule(m *modload.Module) *modload.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.active
	r.active = m
	return prev
}

// ActiveModule returns the module currently executing, or nil.
func (r *Registry) ActiveModule() *modload.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetUnloadRoutine registers fn to run at teardown. When a module is active
// the routine attaches to that module and fires when it unloads; otherwise it
// joins the process-wide list invoked once by UnregisterAll. Duplicate
// registrations of the same function are no-op successes.
func (r *Registry) SetUnloadRoutine(fn func()) bool {
	if fn == nil {
		return false
	}

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active != nil {
		return r.loader.SetUnloadNotify(active, fn)
	}

	fv := funcval(fn)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.unloadCallbacks {
		if funcval(existing) == fv {
			return true
		}
	}
	r.unloadCallbacks = append(r.unloadCallbacks, fn)
	return true
}

// UnregisterAll tears the registry down: every entry is removed and its
// module reference released (firing module unload-notifies as counts reach
// zero), then the process-wide unload callbacks run once. Safe to call when
// the registry is already empty.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	entries := r.order
	callbacks := r.unloadCallbacks
	r.order = nil
	r.byName = make(map[string][]*Entry)
	r.unloadCallbacks = nil
	r.mu.Unlock()

	for _, e := range entries {
		if e.owner != nil {
			r.loader.Release(e.owner)
		}
	}
	for _, fn := range callbacks {
		fn()
	}

	if len(entries) > 0 || len(callbacks) > 0 {
		r.logger.Info("registry torn down", "entries", len(entries), "callbacks", len(callbacks))
	}
}

func ownerName(m *modload.Module) string {
	if m == nil {
		return ""
	}
	return m.Name()
}
