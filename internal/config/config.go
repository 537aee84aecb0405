// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"
)

const configEnv = "GEOPOSE"

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Location struct {
		StoreFile      string `fig:"store_file"`
		DisableGPSD    bool   `fig:"disable_gpsd"`
		DisableGeoClue bool   `fig:"disable_geoclue"`
		DisableGeoIP   bool   `fig:"disable_geoip"`
		ReplayFile     string `fig:"replay_file"`
	} `fig:"location"`

	Origin struct {
		// Minimum accuracy improvement in meters before the world
		// origin is re-bound to a new location fix.
		RebindThreshold float64 `fig:"rebind_threshold" default:"0"`
	} `fig:"origin"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"1s"`
	} `fig:"intervals"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Origin.RebindThreshold < 0 {
		return fmt.Errorf("invalid origin rebind threshold: %f", c.Origin.RebindThreshold)
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Location.StoreFile == "" {
		home, _ := os.UserHomeDir()
		c.Location.StoreFile = filepath.Join(home, ".config", "geopose", "location")
	}

	return nil
}
