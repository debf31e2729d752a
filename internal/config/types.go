package config

import "time"

// Config represents the complete gale configuration.
type Config struct {
	Service ServiceConfig  `yaml:"service"`
	Modules ModulesConfig  `yaml:"modules"`
	History HistoryConfig  `yaml:"history,omitempty"`
	API     APIConfig      `yaml:"api,omitempty"`
	Lock    LockConfig     `yaml:"lock,omitempty"`
}

// ServiceConfig defines core shell settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	LogLevel     string        `yaml:"log_level"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ModulesConfig defines where command modules are discovered and which load at startup.
type ModulesConfig struct {
	Roots    []string `yaml:"roots"`
	Autoload []string `yaml:"autoload,omitempty"`

	// Pins maps a module name to the expected BLAKE3 hash of its manifest.
	// A pinned module whose manifest hash differs is refused at load.
	Pins map[string]string `yaml:"pins,omitempty"`
}

// HistoryConfig defines the optional completed-job history store.
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	StderrCap int    `yaml:"stderr_cap,omitempty"`
}

// APIConfig defines the optional HTTP status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Key     string `yaml:"key,omitempty"`
}

// LockConfig defines the single-instance lock for the state directory.
type LockConfig struct {
	Path string `yaml:"path"`
}
