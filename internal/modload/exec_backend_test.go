package modload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galeshell/gale/internal/config"
)

func writeModule(t *testing.T, root, name, manifest string) string {
	t.Helper()

	moduleDir := filepath.Join(root, name)
	if err := os.MkdirAll(moduleDir, 0o755); err != nil {
		t.Fatalf("create module dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(moduleDir, manifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	entrypoint := filepath.Join(moduleDir, "run.sh")
	if err := os.WriteFile(entrypoint, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write entrypoint: %v", err)
	}
	return moduleDir
}

const validManifest = `
manifest_version: 1
name: dirx
version: "1.0"
entrypoint: run.sh
builtins:
  - name: dirx
    description: directory lister
  - name: treex
`

func TestExecBackendLoadsValidModule(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "dirx", validManifest)

	b, err := NewExecBackend([]string{root}, nil)
	if err != nil {
		t.Fatalf("NewExecBackend: %v", err)
	}

	img, err := b.Load(context.Background(), "dirx")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Name() != "dirx" {
		t.Fatalf("unexpected name %q", img.Name())
	}
	if len(img.Builtins()) != 2 {
		t.Fatalf("expected 2 builtins, got %d", len(img.Builtins()))
	}
	if !strings.HasSuffix(img.Entrypoint(), "run.sh") {
		t.Fatalf("unexpected entrypoint %q", img.Entrypoint())
	}
}

func TestExecBackendRootOrder(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeModule(t, rootA, "dirx", validManifest)
	writeModule(t, rootB, "dirx", validManifest)

	b, err := NewExecBackend([]string{rootA, rootB}, nil)
	if err != nil {
		t.Fatalf("NewExecBackend: %v", err)
	}

	img, err := b.Load(context.Background(), "dirx")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.HasPrefix(img.Path(), rootA) {
		t.Fatalf("expected module from first root, got %q", img.Path())
	}
}

func TestExecBackendRejections(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "missing version",
			manifest: "name: dirx\nentrypoint: run.sh\nbuiltins: [{name: dirx}]\n",
			wantErr:  "manifest_version is required",
		},
		{
			name:     "traversal entrypoint",
			manifest: "manifest_version: 1\nname: dirx\nentrypoint: ../../run.sh\nbuiltins: [{name: dirx}]\n",
			wantErr:  "path traversal",
		},
		{
			name:     "no builtins",
			manifest: "manifest_version: 1\nname: dirx\nentrypoint: run.sh\nbuiltins: []\n",
			wantErr:  "at least one builtin",
		},
		{
			name:     "duplicate builtins",
			manifest: "manifest_version: 1\nname: dirx\nentrypoint: run.sh\nbuiltins: [{name: a}, {name: A}]\n",
			wantErr:  "declared more than once",
		},
		{
			name:     "name mismatch",
			manifest: "manifest_version: 1\nname: other\nentrypoint: run.sh\nbuiltins: [{name: a}]\n",
			wantErr:  "does not match directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeModule(t, root, "dirx", tt.manifest)

			b, err := NewExecBackend([]string{root}, nil)
			if err != nil {
				t.Fatalf("NewExecBackend: %v", err)
			}
			_, err = b.Load(context.Background(), "dirx")
			if err == nil {
				t.Fatal("expected load to fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExecBackendNotFound(t *testing.T) {
	b, err := NewExecBackend([]string{t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewExecBackend: %v", err)
	}
	if _, err := b.Load(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestExecBackendRefusesUnexecutableEntrypoint(t *testing.T) {
	root := t.TempDir()
	moduleDir := writeModule(t, root, "dirx", validManifest)
	if err := os.Chmod(filepath.Join(moduleDir, "run.sh"), 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	b, err := NewExecBackend([]string{root}, nil)
	if err != nil {
		t.Fatalf("NewExecBackend: %v", err)
	}
	_, err = b.Load(context.Background(), "dirx")
	if err == nil || !strings.Contains(err.Error(), "not executable") {
		t.Fatalf("expected executable-bit rejection, got %v", err)
	}
}

func TestExecBackendManifestPin(t *testing.T) {
	root := t.TempDir()
	moduleDir := writeModule(t, root, "dirx", validManifest)

	pin, err := config.ComputeBlake3Hash(filepath.Join(moduleDir, manifestFilename))
	if err != nil {
		t.Fatalf("ComputeBlake3Hash: %v", err)
	}

	b, err := NewExecBackend([]string{root}, map[string]string{"DIRX": pin})
	if err != nil {
		t.Fatalf("NewExecBackend: %v", err)
	}
	if _, err := b.Load(context.Background(), "dirx"); err != nil {
		t.Fatalf("pinned load should succeed: %v", err)
	}

	// Tamper with the manifest; the pin must now refuse the load.
	tampered := validManifest + "description: changed\n"
	if err := os.WriteFile(filepath.Join(moduleDir, manifestFilename), []byte(tampered), 0o644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	_, err = b.Load(context.Background(), "dirx")
	if err == nil || !strings.Contains(err.Error(), "pin check failed") {
		t.Fatalf("expected pin failure, got %v", err)
	}
}
