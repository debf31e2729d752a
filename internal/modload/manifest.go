package modload

import (
	"fmt"
	"strings"
)

// SupportedManifestVersion is the module.yaml format this shell understands.
const SupportedManifestVersion = 1

// Manifest defines the structure of a module's module.yaml file.
type Manifest struct {
	ManifestVersion int           `yaml:"manifest_version"`
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version,omitempty"`
	Entrypoint      string        `yaml:"entrypoint"`
	Description     string        `yaml:"description,omitempty"`
	Builtins        []BuiltinDecl `yaml:"builtins"`
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.ManifestVersion == 0 {
		return fmt.Errorf("manifest_version is required")
	}
	if m.ManifestVersion != SupportedManifestVersion {
		return fmt.Errorf("unsupported manifest_version %d (supported: %d)", m.ManifestVersion, SupportedManifestVersion)
	}

	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if len(m.Builtins) == 0 {
		return fmt.Errorf("at least one builtin must be declared")
	}

	seen := make(map[string]struct{}, len(m.Builtins))
	for _, b := range m.Builtins {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name == "" {
			return fmt.Errorf("builtin name is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("builtin %q declared more than once", b.Name)
		}
		seen[name] = struct{}{}
	}

	return nil
}
