// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	const (
		expectLogLevel       = slog.LevelInfo
		expectIntervalOutput = time.Second
	)
	t.Run("new config with all defaults set", func(t *testing.T) {
		conf, err := New()
		if err != nil {
			t.Errorf("failed to load config: %s", err)
		}
		if conf.LogLevel != expectLogLevel {
			t.Errorf("expected log level to be: %s, got %s", expectLogLevel, conf.LogLevel)
		}
		if conf.Intervals.Output != expectIntervalOutput {
			t.Errorf("expected output interval to be: %s, got %s", expectIntervalOutput, conf.Intervals.Output)
		}
		if conf.Origin.RebindThreshold != 0 {
			t.Errorf("expected rebind threshold to be 0, got %f", conf.Origin.RebindThreshold)
		}
		if conf.Location.StoreFile == "" {
			t.Error("expected store file to default to a non-empty path")
		}
	})
	t.Run("new config with values from env", func(t *testing.T) {
		t.Setenv("GEOPOSE_LOCATION_DISABLE_GPSD", "true")
		t.Setenv("GEOPOSE_INTERVALS_OUTPUT", "5s")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if !conf.Location.DisableGPSD {
			t.Error("expected gpsd to be disabled")
		}
		if conf.Intervals.Output != 5*time.Second {
			t.Errorf("expected output interval to be: %s, got %s", 5*time.Second, conf.Intervals.Output)
		}
	})
	t.Run("new config with invalid values from env", func(t *testing.T) {
		t.Setenv("GEOPOSE_LOGLEVEL", "invalid")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate rebind threshold", func(t *testing.T) {
		t.Setenv("GEOPOSE_ORIGIN_REBIND_THRESHOLD", "-1")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate output interval", func(t *testing.T) {
		t.Setenv("GEOPOSE_INTERVALS_OUTPUT", "0s")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}

func TestNewFromFile(t *testing.T) {
	writeConfig := func(t *testing.T, content string) string {
		t.Helper()
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write config file: %s", err)
		}
		return dir
	}
	t.Run("reading config from valid file succeeds", func(t *testing.T) {
		dir := writeConfig(t, "loglevel = -4\n\n[location]\nstore_file = \"/tmp/geopose-location\"\n"+
			"disable_geoclue = true\n\n[intervals]\noutput = \"2s\"\n")
		conf, err := NewFromFile(dir, "config.toml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.LogLevel != slog.LevelDebug {
			t.Errorf("expected log level to be: %s, got %s", slog.LevelDebug, conf.LogLevel)
		}
		if conf.Location.StoreFile != "/tmp/geopose-location" {
			t.Errorf("expected store file to be: %s, got %s", "/tmp/geopose-location", conf.Location.StoreFile)
		}
		if !conf.Location.DisableGeoClue {
			t.Error("expected geoclue to be disabled")
		}
		if conf.Intervals.Output != 2*time.Second {
			t.Errorf("expected output interval to be: %s, got %s", 2*time.Second, conf.Intervals.Output)
		}
	})
	t.Run("reading config from non-existent file fails", func(t *testing.T) {
		_, err := NewFromFile(t.TempDir(), "non-existent.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("reading invalid config file fails", func(t *testing.T) {
		dir := writeConfig(t, "loglevel = \"not a level\"\n")
		_, err := NewFromFile(dir, "config.toml")
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}
