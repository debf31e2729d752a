package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/job"
)

// The static builtins are thin argument parsers over the job table, module
// loader, and registry. They translate failures into messages and a nonzero
// exit code; nothing here can take the session down.

func (s *Shell) registerStaticBuiltins() {
	s.Registry.Register("job", s.jobBuiltin, nil)
	s.Registry.Register("module", s.moduleBuiltin, nil)
	s.Registry.Register("exit", s.exitBuiltin, nil)
}

const jobUsage = `usage: job LIST
       job OUTPUT <id>
       job ERRORS <id>
       job EXITCODE <id>
       job KILL <id>
       job NICE <id> <idle|belownormal|normal|abovenormal|high>
       job WAIT <id>
       job HISTORY [n]
`

func (s *Shell) jobBuiltin(ctx context.Context, call *builtin.Call) int {
	if len(call.Args) == 0 {
		fmt.Fprint(call.Stderr, jobUsage)
		return 1
	}

	// Completions are observed before every query so the user sees fresh state.
	s.Jobs.ScanForCompletion(false)

	sub := strings.ToUpper(call.Args[0])
	switch sub {
	case "LIST":
		for id := s.Jobs.NextID(0); id != 0; id = s.Jobs.NextID(id) {
			info, err := s.Jobs.Info(id)
			if err != nil {
				continue
			}
			line := fmt.Sprintf("%d\t%s", info.ID, info.State)
			if info.Completed {
				line += fmt.Sprintf("\texit=%d", info.ExitCode)
			} else {
				line += fmt.Sprintf("\tpid=%d", info.Pid)
			}
			if info.HasOutput {
				line += "\toutput"
			}
			fmt.Fprintf(call.Stdout, "%s\t%s\n", line, info.Command)
		}
		return 0

	case "OUTPUT", "ERRORS", "EXITCODE", "KILL", "WAIT":
		if len(call.Args) < 2 {
			fmt.Fprint(call.Stderr, jobUsage)
			return 1
		}
		id, ok := parseJobID(call.Args[1])
		if !ok {
			fmt.Fprintf(call.Stderr, "job: %q is not a valid job id\n", call.Args[1])
			return 1
		}
		return s.jobAction(ctx, call, sub, id)

	case "NICE":
		if len(call.Args) < 3 {
			fmt.Fprint(call.Stderr, jobUsage)
			return 1
		}
		id, ok := parseJobID(call.Args[1])
		if !ok {
			fmt.Fprintf(call.Stderr, "job: %q is not a valid job id\n", call.Args[1])
			return 1
		}
		priority, ok := job.ParsePriority(strings.ToLower(call.Args[2]))
		if !ok {
			fmt.Fprintf(call.Stderr, "job: %q is not a valid priority class\n", call.Args[2])
			return 1
		}
		if err := s.Jobs.SetPriority(id, priority); err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
		return 0

	case "HISTORY":
		return s.jobHistory(ctx, call)

	default:
		fmt.Fprint(call.Stderr, jobUsage)
		return 1
	}
}

func (s *Shell) jobAction(ctx context.Context, call *builtin.Call, sub string, id job.ID) int {
	switch sub {
	case "OUTPUT":
		if err := s.Jobs.PipeOutput(id, call.Stdout, nil); err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
	case "ERRORS":
		if err := s.Jobs.PipeOutput(id, nil, call.Stdout); err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
	case "EXITCODE":
		info, err := s.Jobs.Info(id)
		if err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
		if !info.Completed {
			fmt.Fprintf(call.Stderr, "job: job %d has not completed\n", id)
			return 1
		}
		fmt.Fprintf(call.Stdout, "%d\n", info.ExitCode)
	case "KILL":
		if err := s.Jobs.Terminate(id); err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
	case "WAIT":
		if err := s.Jobs.Wait(ctx, id); err != nil {
			fmt.Fprintf(call.Stderr, "job: %v\n", err)
			return 1
		}
	}
	return 0
}

func (s *Shell) jobHistory(ctx context.Context, call *builtin.Call) int {
	if s.history == nil {
		fmt.Fprintln(call.Stderr, "job: history is not enabled")
		return 1
	}
	limit := 20
	if len(call.Args) > 1 {
		n, err := strconv.Atoi(call.Args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(call.Stderr, "job: %q is not a valid count\n", call.Args[1])
			return 1
		}
		limit = n
	}

	entries, err := s.history.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(call.Stderr, "job: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(call.Stdout, "%d\texit=%d\t%s\t%s\n", e.JobID, e.ExitCode, e.CompletedAt.Format("2006-01-02 15:04:05"), e.Command)
	}
	return 0
}

const moduleUsage = `usage: module LIST
       module LOAD <name>
       module UNLOAD <name>
       module BUILTINS
`

func (s *Shell) moduleBuiltin(ctx context.Context, call *builtin.Call) int {
	if len(call.Args) == 0 {
		fmt.Fprint(call.Stderr, moduleUsage)
		return 1
	}

	switch strings.ToUpper(call.Args[0]) {
	case "LIST":
		for _, info := range s.Loader.Loaded() {
			fmt.Fprintf(call.Stdout, "%s\trefs=%d\tbuiltins=%d\t%s\n", info.Name, info.Refs, info.Builtins, info.Path)
		}
		return 0

	case "LOAD":
		if len(call.Args) < 2 {
			fmt.Fprint(call.Stderr, moduleUsage)
			return 1
		}
		if err := s.LoadModule(ctx, call.Args[1]); err != nil {
			fmt.Fprintf(call.Stderr, "module: %v\n", err)
			return 1
		}
		return 0

	case "UNLOAD":
		if len(call.Args) < 2 {
			fmt.Fprint(call.Stderr, moduleUsage)
			return 1
		}
		if err := s.UnloadModule(call.Args[1]); err != nil {
			fmt.Fprintf(call.Stderr, "module: %v\n", err)
			return 1
		}
		return 0

	case "BUILTINS":
		for _, e := range s.Registry.Entries() {
			if e.Module != "" {
				fmt.Fprintf(call.Stdout, "%s\t(module %s)\n", e.Name, e.Module)
			} else {
				fmt.Fprintf(call.Stdout, "%s\n", e.Name)
			}
		}
		return 0

	default:
		fmt.Fprint(call.Stderr, moduleUsage)
		return 1
	}
}

func (s *Shell) exitBuiltin(ctx context.Context, call *builtin.Call) int {
	s.RequestExit()
	return 0
}

func parseJobID(s string) (job.ID, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return job.ID(n), true
}
