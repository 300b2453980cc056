// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncstore

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/syncstore/storage/badger"
)

var configValidate = validator.New()

// Config is the file-loadable configuration for a store instance: where the
// backing cache lives and how the default HTTP transport behaves. The typed
// collaborators (model, policy, transport) are supplied in code via Options.
type Config struct {
	// Path is the backing cache directory. Required unless InMemory.
	Path string `yaml:"path"`

	// InMemory keeps the backing cache in memory only. For tests and
	// throwaway sessions.
	InMemory bool `yaml:"in_memory"`

	// BaseURL is the remote service root for the default transport.
	BaseURL string `yaml:"base_url" validate:"omitempty,http_url"`

	// RateLimit caps outgoing requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" validate:"gte=0"`

	// SyncWrites enables synchronous backing-cache writes.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the backing cache's value log GC period; 0 disables.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`

	// LogLevel is the minimum log level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogDir enables JSON file logging alongside stderr when set.
	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns production defaults for a persistent store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
		Burst:      1,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("config: path is required unless in_memory is set")
	}
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// storageConfig maps Config onto the backing database's options.
func (c *Config) storageConfig() badger.Config {
	if c.InMemory {
		return badger.InMemoryConfig()
	}
	sc := badger.DefaultConfig()
	sc.Path = c.Path
	sc.SyncWrites = c.SyncWrites
	sc.GCInterval = c.GCInterval
	return sc
}
