package modload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/galeshell/gale/internal/config"
	"github.com/galeshell/gale/internal/log"
)

const manifestFilename = "module.yaml"

// ExecBackend resolves a module name to a directory under one of the
// configured module roots. The directory must carry a module.yaml manifest
// and an entrypoint executable; the module's builtins run as subprocesses of
// that entrypoint.
type ExecBackend struct {
	roots  []string
	pins   map[string]string // lower-cased module name -> expected manifest BLAKE3
	logger *slog.Logger
}

// NewExecBackend creates a backend over the given module roots.
// Roots are searched in order; the first directory carrying a manifest wins.
func NewExecBackend(roots []string, pins map[string]string) (*ExecBackend, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one module root is required")
	}

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve module root %q: %w", root, err)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one module root is required")
	}

	normPins := make(map[string]string, len(pins))
	for name, hash := range pins {
		normPins[strings.ToLower(name)] = strings.ToLower(hash)
	}

	return &ExecBackend{
		roots:  absRoots,
		pins:   normPins,
		logger: log.WithComponent("modload"),
	}, nil
}

// execImage is a resolved module directory.
type execImage struct {
	manifest   Manifest
	path       string
	entrypoint string
}

func (i *execImage) Name() string            { return i.manifest.Name }
func (i *execImage) Path() string            { return i.path }
func (i *execImage) Entrypoint() string      { return i.entrypoint }
func (i *execImage) Builtins() []BuiltinDecl { return i.manifest.Builtins }

// Load resolves name against the module roots.
func (b *ExecBackend) Load(ctx context.Context, name string) (Image, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("module name is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("module name %q contains path separators", name)
	}

	for _, root := range b.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		moduleDir := filepath.Join(root, name)
		manifestPath := filepath.Join(moduleDir, manifestFilename)
		if _, err := os.Stat(manifestPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat manifest %s: %w", manifestPath, err)
		}

		img, err := b.loadImage(name, moduleDir)
		if err != nil {
			return nil, fmt.Errorf("module %q at %s: %w", name, moduleDir, err)
		}
		return img, nil
	}

	return nil, fmt.Errorf("module %q not found in any module root", name)
}

// Unload releases an image. Subprocess-backed images hold no process
// resources, so there is nothing to unmap.
func (b *ExecBackend) Unload(img Image) error {
	return nil
}

// loadImage reads and validates a single module directory.
func (b *ExecBackend) loadImage(name, moduleDir string) (*execImage, error) {
	manifestPath := filepath.Join(moduleDir, manifestFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if !strings.EqualFold(manifest.Name, name) {
		return nil, fmt.Errorf("manifest name %q does not match directory %q", manifest.Name, name)
	}

	// Enforce a configured manifest pin before trusting anything else in it.
	if pin, ok := b.pins[strings.ToLower(name)]; ok {
		if err := config.VerifyFileHash(manifestPath, pin); err != nil {
			return nil, fmt.Errorf("manifest pin check failed: %w", err)
		}
	}

	entrypointPath := filepath.Join(moduleDir, manifest.Entrypoint)
	if err := validateTrust(entrypointPath, moduleDir); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &execImage{
		manifest:   manifest,
		path:       moduleDir,
		entrypoint: entrypointPath,
	}, nil
}

// validateTrust enforces security constraints on the module directory.
func validateTrust(entrypointPath, moduleDir string) error {
	// Resolve symlinks
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedModuleDir, err := filepath.EvalSymlinks(moduleDir)
	if err != nil {
		return fmt.Errorf("failed to resolve module directory symlink: %w", err)
	}

	// Check entrypoint is under the module directory
	if !strings.HasPrefix(resolvedEntrypoint, resolvedModuleDir+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under module directory %s", resolvedEntrypoint, resolvedModuleDir)
	}

	// Check entrypoint is executable
	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	// Check module directory is not world-writable
	dirInfo, err := os.Stat(resolvedModuleDir)
	if err != nil {
		return fmt.Errorf("module directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("module directory is world-writable: %s", resolvedModuleDir)
	}

	return nil
}
