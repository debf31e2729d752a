package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns a configuration with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "gale",
			LogLevel:     "INFO",
			ScanInterval: 1 * time.Second,
		},
		History: HistoryConfig{
			Enabled:   false,
			StderrCap: 64 * 1024,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8575",
		},
	}
}

// Load reads and parses configuration from a file.
// Environment variable references of the form ${VAR} are expanded before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with their environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults fills in zero values that Unmarshal may have cleared.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "gale"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Service.ScanInterval <= 0 {
		cfg.Service.ScanInterval = 1 * time.Second
	}
	if cfg.History.StderrCap <= 0 {
		cfg.History.StderrCap = 64 * 1024
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8575"
	}
}

// validate checks cross-field constraints.
func validate(cfg *Config) error {
	for i, root := range cfg.Modules.Roots {
		if strings.TrimSpace(root) == "" {
			return fmt.Errorf("modules.roots[%d] is empty", i)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Modules.Autoload))
	for _, name := range cfg.Modules.Autoload {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("modules.autoload contains an empty name")
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("modules.autoload lists %q more than once", name)
		}
		seen[key] = struct{}{}
	}

	for name, pin := range cfg.Modules.Pins {
		if len(pin) != 64 {
			return fmt.Errorf("modules.pins[%q] is not a BLAKE3 hex digest", name)
		}
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.enabled requires history.path")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.enabled requires api.listen")
	}

	return nil
}
