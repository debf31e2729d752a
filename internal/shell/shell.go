// Package shell owns the process-wide state of one interactive session: the
// module loader, builtin registry, job table, and dispatcher, created
// together at startup and torn down exactly once at exit.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/config"
	"github.com/galeshell/gale/internal/dispatch"
	"github.com/galeshell/gale/internal/job"
	"github.com/galeshell/gale/internal/lock"
	"github.com/galeshell/gale/internal/log"
	"github.com/galeshell/gale/internal/modload"
)

// Shell wires the core components together for one session.
type Shell struct {
	SessionID  string
	Loader     *modload.Loader
	Registry   *builtin.Registry
	Jobs       *job.Table
	Dispatcher *dispatch.Dispatcher

	cfg     *config.Config
	history *job.History
	pidLock *lock.PIDLock
	logger  *slog.Logger

	exitRequested atomic.Bool
	teardownOnce  sync.Once
}

// noBackend is installed when no module roots are configured.
type noBackend struct{}

func (noBackend) Load(ctx context.Context, name string) (modload.Image, error) {
	return nil, fmt.Errorf("operating system support not present: no module roots configured")
}
func (noBackend) Unload(img modload.Image) error { return nil }

// New creates a session from cfg: acquires the state-directory lock, opens
// the job history if enabled, builds the loader/registry/table/dispatcher,
// registers the static builtins, and loads the configured autoload modules.
func New(ctx context.Context, cfg *config.Config) (*Shell, error) {
	sessionID := uuid.NewString()

	s := &Shell{
		SessionID: sessionID,
		cfg:       cfg,
		logger:    log.WithComponent("shell").With(slog.String("session_id", sessionID)),
	}

	if cfg.Lock.Path != "" {
		l, err := lock.AcquirePIDLock(cfg.Lock.Path)
		if err != nil {
			return nil, fmt.Errorf("another session may own the state directory: %w", err)
		}
		s.pidLock = l
	}

	if cfg.History.Enabled {
		h, err := job.OpenHistory(ctx, cfg.History.Path, sessionID, cfg.History.StderrCap)
		if err != nil {
			s.releaseLock()
			return nil, err
		}
		s.history = h
	}

	var backend modload.Backend
	if len(cfg.Modules.Roots) > 0 {
		b, err := modload.NewExecBackend(cfg.Modules.Roots, cfg.Modules.Pins)
		if err != nil {
			s.releaseLock()
			return nil, err
		}
		backend = b
	} else {
		backend = noBackend{}
	}

	s.Loader = modload.NewLoader(backend)
	s.Registry = builtin.NewRegistry(s.Loader)
	s.Jobs = job.NewTable(s.history)

	selfExe, err := os.Executable()
	if err != nil {
		selfExe = ""
	}
	s.Dispatcher = dispatch.New(s.Registry, s.Jobs, selfExe)

	s.registerStaticBuiltins()

	for _, name := range cfg.Modules.Autoload {
		if err := s.LoadModule(ctx, name); err != nil {
			// A broken module must not keep the shell from starting.
			s.logger.Warn("autoload failed", "module", name, "error", err)
		}
	}

	s.logger.Info("session started", "service", cfg.Service.Name)
	return s, nil
}

// LoadModule loads a module and registers its declared builtins. Each entry
// holds its own reference on the module; the initial load reference is
// released once registration is done, so unregistering the last entry
// unloads the module.
func (s *Shell) LoadModule(ctx context.Context, name string) (err error) {
	m, err := s.Loader.Load(ctx, name)
	if err != nil {
		return err
	}
	defer s.Loader.Release(m)

	for _, decl := range m.Image().Builtins() {
		if e := s.Registry.Register(decl.Name, s.moduleHandler(m, decl.Name), m); e == nil {
			return fmt.Errorf("failed to register builtin %q from module %q", decl.Name, name)
		}
	}
	return nil
}

// UnloadModule unregisters every builtin the module contributed. Dropping
// the last entry releases the final module reference, which fires its
// unload-notify and unmaps it.
func (s *Shell) UnloadModule(name string) error {
	m, ok := s.Loader.Lookup(name)
	if !ok {
		return fmt.Errorf("module %q is not loaded", name)
	}

	var owned []*builtin.Entry
	for e := s.Registry.EnumeratePrevious(nil); e != nil; e = s.Registry.EnumeratePrevious(e) {
		if e.Owner() == m {
			owned = append(owned, e)
		}
	}
	for _, e := range owned {
		s.Registry.UnregisterEntry(e)
	}
	return nil
}

// moduleHandler proxies a module builtin to its entrypoint executable.
func (s *Shell) moduleHandler(m *modload.Module, name string) builtin.Handler {
	entrypoint := m.Image().Entrypoint()
	return func(ctx context.Context, call *builtin.Call) int {
		argv := append([]string{name}, call.Args...)
		cmd := exec.CommandContext(ctx, entrypoint, argv...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = call.Stdout
		cmd.Stderr = call.Stderr

		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode()
			}
			fmt.Fprintf(call.Stderr, "%s: %v\n", name, err)
			return 1
		}
		return 0
	}
}

// RequestExit asks the interactive loop to stop after the current command.
func (s *Shell) RequestExit() { s.exitRequested.Store(true) }

// ExitRequested reports whether exit was requested.
func (s *Shell) ExitRequested() bool { return s.exitRequested.Load() }

// ScanJobs performs one non-blocking completion scan. The interactive loop
// calls this between commands and on its tick.
func (s *Shell) ScanJobs() { s.Jobs.ScanForCompletion(false) }

// Teardown shuts the session down: outstanding jobs are force-completed and
// discarded, every builtin is unregistered (releasing module references and
// firing unload routines), and the state lock is released. Runs once.
func (s *Shell) Teardown() {
	s.teardownOnce.Do(func() {
		s.Jobs.Teardown()
		s.Registry.UnregisterAll()
		s.releaseLock()
		s.logger.Info("session ended")
	})
}

func (s *Shell) releaseLock() {
	if s.pidLock != nil {
		if err := s.pidLock.Release(); err != nil {
			s.logger.Warn("failed to release pid lock", "error", err)
		}
		s.pidLock = nil
	}
}
