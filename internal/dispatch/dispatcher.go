// Package dispatch decides how a resolved command is satisfied: by calling a
// builtin in-process, by spawning an external program, or by handing either
// off to the job table as a background job.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/job"
	"github.com/galeshell/gale/internal/log"
)

// Result reports what a dispatch did.
type Result struct {
	// ExitCode is meaningful for foreground execution.
	ExitCode int
	// JobID is non-zero when the command was started as a background job.
	JobID job.ID
}

// Dispatcher resolves command names against the builtin registry and falls
// back to external programs on PATH.
type Dispatcher struct {
	registry *builtin.Registry
	jobs     *job.Table
	selfExe  string
	logger   *slog.Logger
}

// New creates a dispatcher. selfExe is the shell binary used to re-execute a
// statically linked builtin as a background process; pass "" to disable that.
func New(registry *builtin.Registry, jobs *job.Table, selfExe string) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		jobs:     jobs,
		selfExe:  selfExe,
		logger:   log.WithComponent("dispatch"),
	}
}

// Dispatch runs name with args. Builtin lookup wins over PATH, and the most
// recently registered builtin of a name wins over older ones. Background
// commands become jobs; their Result carries the job id instead of an exit
// code.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args []string, background bool, stdout, stderr io.Writer) (Result, error) {
	if entry, ok := d.registry.Lookup(name); ok {
		if background {
			return d.backgroundBuiltin(entry, args)
		}
		return d.runBuiltin(ctx, entry, args, stdout, stderr), nil
	}
	return d.external(ctx, name, args, background, stdout, stderr)
}

// runBuiltin calls the handler in-process. Module-owned handlers run with
// their module active so nested registrations and unload routines attribute
// ownership correctly.
func (d *Dispatcher) runBuiltin(ctx context.Context, entry *builtin.Entry, args []string, stdout, stderr io.Writer) Result {
	call := &builtin.Call{Args: args, Stdout: stdout, Stderr: stderr}

	if owner := entry.Owner(); owner != nil {
		prev := d.registry.SetActiveModule(owner)
		defer d.registry.SetActiveModule(prev)
		return Result{ExitCode: entry.Handler()(ctx, call)}
	}
	return Result{ExitCode: entry.Handler()(ctx, call)}
}

// backgroundBuiltin turns a builtin into a background job. Module-owned
// builtins run their module entrypoint directly; statically linked ones
// re-execute the shell binary.
func (d *Dispatcher) backgroundBuiltin(entry *builtin.Entry, args []string) (Result, error) {
	var cmd *exec.Cmd
	if owner := entry.Owner(); owner != nil {
		argv := append([]string{entry.Name()}, args...)
		cmd = exec.Command(owner.Image().Entrypoint(), argv...)
	} else {
		if d.selfExe == "" {
			return Result{}, fmt.Errorf("cannot background builtin %q: shell binary unknown", entry.Name())
		}
		argv := append([]string{"run", entry.Name()}, args...)
		cmd = exec.Command(d.selfExe, argv...)
	}

	id, err := d.jobs.Launch(cmd, commandText(entry.Name(), args))
	if err != nil {
		return Result{}, fmt.Errorf("background builtin %q: %w", entry.Name(), err)
	}
	return Result{JobID: id}, nil
}

// external resolves name on PATH and runs it.
func (d *Dispatcher) external(ctx context.Context, name string, args []string, background bool, stdout, stderr io.Writer) (Result, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return Result{}, fmt.Errorf("unknown command %q", name)
	}

	if background {
		id, err := d.jobs.Launch(exec.Command(path, args...), commandText(name, args))
		if err != nil {
			return Result{}, fmt.Errorf("background %q: %w", name, err)
		}
		return Result{JobID: id}, nil
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	d.logger.Debug("spawning external command", "path", path)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, fmt.Errorf("run %q: %w", name, err)
	}
	return Result{ExitCode: 0}, nil
}

func commandText(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
