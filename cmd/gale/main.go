package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/galeshell/gale/internal/api"
	"github.com/galeshell/gale/internal/config"
	"github.com/galeshell/gale/internal/log"
	"github.com/galeshell/gale/internal/shell"
	"github.com/galeshell/gale/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "run":
		return runRun(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`gale - modular command shell

Usage:
  gale <command> [flags]

Commands:
  start     Start an interactive session
  run       Run a single builtin and exit
  watch     Live session monitor TUI (requires the status API)
  version   Show version information
  help      Show this help message

Start flags:
  --config PATH    Path to configuration file or directory

Watch flags:
  --api-url URL    Session API URL (default: http://127.0.0.1:8575)
  --api-key KEY    API bearer key (or GALE_API_KEY env var)

Inside a session, a trailing '&' runs a command as a background job.
The 'job', 'module', and 'exit' builtins manage the session.
`)
}

// loadConfig resolves the effective configuration. An explicit path wins;
// otherwise GALE_CONFIG or ~/.config/gale/config.yaml is used when present,
// and built-in defaults when not.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("GALE_CONFIG")
	}
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "gale", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
			}
		}
	}
	if configPath == "" {
		return config.Defaults(), nil
	}
	return config.Load(configPath)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("gale starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := shell.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		return 1
	}
	defer s.Teardown()

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen:    cfg.API.Listen,
			Key:       cfg.API.Key,
			SessionID: s.SessionID,
		}, s.Jobs, s.Registry, s.Loader, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("status API failed", "error", err)
			}
		}()
	}

	// Background jobs are swept on an interval so completions are observed
	// even while the prompt sits idle.
	ticker := time.NewTicker(cfg.Service.ScanInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ScanJobs()
			}
		}
	}()

	return interactiveLoop(ctx, s, cfg.Service.Name)
}

// interactiveLoop reads commands from stdin until exit is requested, stdin
// closes, or the context is cancelled by a signal.
func interactiveLoop(ctx context.Context, s *shell.Shell, prompt string) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	lastExit := 0
	for {
		fmt.Fprintf(os.Stdout, "%s> ", prompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout)
			return lastExit
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(os.Stdout)
				return lastExit
			}

			name, cmdArgs, background := parseCommandLine(line)
			if name == "" {
				continue
			}

			res, err := s.Dispatcher.Dispatch(ctx, name, cmdArgs, background, os.Stdout, os.Stderr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gale: %v\n", err)
				lastExit = 1
			} else if background {
				fmt.Fprintf(os.Stdout, "[job %d]\n", res.JobID)
				lastExit = 0
			} else {
				lastExit = res.ExitCode
			}

			s.ScanJobs()
			if s.ExitRequested() {
				return lastExit
			}
		}
	}
}

// parseCommandLine splits a raw input line into a command name, its
// arguments, and whether a trailing '&' requested background execution.
func parseCommandLine(line string) (name string, args []string, background bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}

	last := fields[len(fields)-1]
	if last == "&" {
		background = true
		fields = fields[:len(fields)-1]
	} else if strings.HasSuffix(last, "&") {
		background = true
		fields[len(fields)-1] = strings.TrimSuffix(last, "&")
	}
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], background
}

// runRun executes a single builtin in a fresh session and exits with its
// code. Backgrounded static builtins re-enter the shell binary through this
// path.
func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: gale run [--config PATH] <builtin> [args...]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// A one-shot run never contends for the session lock or history.
	cfg.Lock.Path = ""
	cfg.History.Enabled = false

	log.Setup("ERROR")

	ctx := context.Background()
	s, err := shell.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		return 1
	}
	defer s.Teardown()

	name := fs.Arg(0)
	res, err := s.Dispatcher.Dispatch(ctx, name, fs.Args()[1:], false, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gale: %v\n", err)
		return 1
	}
	return res.ExitCode
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8575", "Session API URL")
	apiKey := fs.String("api-key", os.Getenv("GALE_API_KEY"), "API bearer key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{Version: version, Commit: resolveCommit()}

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("gale %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	return 0
}

func resolveCommit() string {
	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
					break
				}
			}
		}
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		return "unknown"
	}
	return commit
}
