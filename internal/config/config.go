// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package config loads the file-vault configuration from environment
// variables via caarlos0/env struct tags. Every field has a default, so an
// empty environment yields a usable development configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level configuration container.
//
// Struct tags:
//   - envPrefix — prefix applied to all nested env tag lookups.
//   - env       — direct environment variable name for scalar fields.
type Config struct {
	// App holds security parameters governing credentials and sessions.
	App App `envPrefix:"APP_"`

	// Storage holds the relational database settings.
	Storage Storage `envPrefix:"STORAGE_"`

	// Workers holds background worker settings.
	Workers Workers `envPrefix:"WORKERS_"`
}

// App holds security parameters governing credentials and sessions.
type App struct {
	// SessionTTL is the default lifetime of a newly issued session.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// KDFTimeCost is the argon2id time cost fixed into newly created
	// credentials. Existing credentials keep the cost they were created
	// with; raising this value only affects new ones.
	KDFTimeCost uint32 `env:"KDF_TIME_COST" envDefault:"3"`
}

// Storage holds the relational database settings.
type Storage struct {
	// DSN is the sqlite data source name. The file is created on first
	// open if it does not exist.
	DSN string `env:"DSN" envDefault:"file-vault.db"`
}

// Workers holds background worker settings.
type Workers struct {
	// SessionSweepInterval is how often the expired-session sweeper runs.
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1h"`
}

// NewConfig builds a Config from the process environment.
func NewConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing environment config: %w", err)
	}
	return &cfg, nil
}
