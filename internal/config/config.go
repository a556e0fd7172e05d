// Package config reads the environment-driven settings. Paths left empty
// here are resolved to platform defaults by the entrypoint; the core
// packages only ever see resolved values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// FeedsPath points at the feed list file. Empty means
	// <user config dir>/nia/feeds.
	FeedsPath string `env:"NIA_FEEDS"`

	// DataDir holds the post database. Empty means
	// <user cache dir>/nia.
	DataDir string `env:"NIA_DATA_DIR"`

	// HTTPTimeout bounds each feed download.
	HTTPTimeout time.Duration `env:"NIA_HTTP_TIMEOUT" envDefault:"30s"`

	// MaxWorkers caps how many sections download concurrently.
	MaxWorkers int `env:"NIA_MAX_WORKERS" envDefault:"8"`

	// RefreshSpec is an optional cron spec for automatic refreshes in run
	// mode. Empty disables them.
	RefreshSpec string `env:"NIA_REFRESH_CRON"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
