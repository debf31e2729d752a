package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		line       string
		name       string
		args       []string
		background bool
	}{
		{"", "", nil, false},
		{"   ", "", nil, false},
		{"ls", "ls", []string{}, false},
		{"ls -l /tmp", "ls", []string{"-l", "/tmp"}, false},
		{"sleep 5 &", "sleep", []string{"5"}, true},
		{"sleep 5&", "sleep", []string{"5"}, true},
		{"&", "", nil, true},
		{"job LIST", "job", []string{"LIST"}, false},
	}
	for _, tt := range tests {
		name, args, background := parseCommandLine(tt.line)
		if name != tt.name || background != tt.background {
			t.Fatalf("parseCommandLine(%q) = %q, %v; want %q, %v", tt.line, name, background, tt.name, tt.background)
		}
		if len(args) != len(tt.args) {
			t.Fatalf("parseCommandLine(%q) args = %v, want %v", tt.line, args, tt.args)
		}
		if len(args) > 0 && !reflect.DeepEqual(args, tt.args) {
			t.Fatalf("parseCommandLine(%q) args = %v, want %v", tt.line, args, tt.args)
		}
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	if code := runCLI([]string{"frobnicate"}); code != 1 {
		t.Fatalf("unknown command should exit 1, got %d", code)
	}
	if code := runCLI(nil); code != 1 {
		t.Fatalf("no command should exit 1, got %d", code)
	}
	if code := runCLI([]string{"help"}); code != 0 {
		t.Fatalf("help should exit 0, got %d", code)
	}
}

func TestRunVersion(t *testing.T) {
	if code := runVersion(nil); code != 0 {
		t.Fatalf("version should exit 0, got %d", code)
	}
	if code := runVersion([]string{"--json"}); code != 0 {
		t.Fatalf("version --json should exit 0, got %d", code)
	}
}

func TestLoadConfigDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("GALE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Service.Name != "gale" {
		t.Fatalf("expected default service name, got %q", cfg.Service.Name)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "service:\n  name: stormy\nmodules:\n  roots:\n    - " + dir + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Service.Name != "stormy" {
		t.Fatalf("expected configured name, got %q", cfg.Service.Name)
	}
	if len(cfg.Modules.Roots) != 1 {
		t.Fatalf("expected one module root, got %v", cfg.Modules.Roots)
	}
}

func TestRunRunExecutesBuiltin(t *testing.T) {
	t.Setenv("GALE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	// The exit builtin succeeds and returns 0.
	if code := runRun([]string{"exit"}); code != 0 {
		t.Fatalf("run exit should succeed, got %d", code)
	}
	if code := runRun([]string{}); code != 1 {
		t.Fatalf("run without a builtin should fail, got %d", code)
	}
}
