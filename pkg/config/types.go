package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent recall configuration stored as config.toml
// in the .recall/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Storage   StorageConfig   `toml:"storage"`
	API       APIConfig       `toml:"api"`
	Inference InferenceConfig `toml:"inference"`
	Memory    MemoryConfig    `toml:"memory"`
	Model     ModelConfig     `toml:"model"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// InferenceConfig holds inference provider settings.
type InferenceConfig struct {
	Provider     string `toml:"provider,omitempty"`
	Target       string `toml:"target,omitempty"`
	Model        string `toml:"model,omitempty"`
	ExtractModel string `toml:"extract_model,omitempty"`
}

// MemoryConfig holds memory layer settings.
type MemoryConfig struct {
	Enabled        bool `toml:"enabled,omitempty"`
	ContextWindow  int  `toml:"context_window,omitempty"`
	PruneThreshold int  `toml:"prune_threshold,omitempty"`
	HardCap        int  `toml:"hard_cap,omitempty"`
}

// ModelConfig holds model lifecycle settings.
type ModelConfig struct {
	Default string `toml:"default,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"inference.provider": {
		get: func(c *Config) string { return c.Inference.Provider },
		set: func(c *Config, v string) error { c.Inference.Provider = v; return nil },
	},
	"inference.target": {
		get: func(c *Config) string { return c.Inference.Target },
		set: func(c *Config, v string) error { c.Inference.Target = v; return nil },
	},
	"inference.model": {
		get: func(c *Config) string { return c.Inference.Model },
		set: func(c *Config, v string) error { c.Inference.Model = v; return nil },
	},
	"inference.extract_model": {
		get: func(c *Config) string { return c.Inference.ExtractModel },
		set: func(c *Config, v string) error { c.Inference.ExtractModel = v; return nil },
	},
	"memory.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Memory.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.enabled: %w", err)
			}
			c.Memory.Enabled = b
			return nil
		},
	},
	"memory.context_window": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.ContextWindow) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.context_window: %w", err)
			}
			c.Memory.ContextWindow = n
			return nil
		},
	},
	"memory.prune_threshold": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.PruneThreshold) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.prune_threshold: %w", err)
			}
			c.Memory.PruneThreshold = n
			return nil
		},
	},
	"memory.hard_cap": {
		get: func(c *Config) string { return strconv.Itoa(c.Memory.HardCap) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for memory.hard_cap: %w", err)
			}
			c.Memory.HardCap = n
			return nil
		},
	},
	"model.default": {
		get: func(c *Config) string { return c.Model.Default },
		set: func(c *Config, v string) error { c.Model.Default = v; return nil },
	},
}
