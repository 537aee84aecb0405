// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package fusion

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/reliability"
)

// maxStoredFixAge is the oldest a persisted fix may be to still seed a cold
// start.
const maxStoredFixAge = time.Hour

type storedFix struct {
	Latitude  float64   `yaml:"latitude"`
	Longitude float64   `yaml:"longitude"`
	Elevation float64   `yaml:"elevation"`
	Accuracy  float64   `yaml:"accuracy"`
	At        time.Time `yaml:"at"`
}

// Store persists the last known location so a cold start can report a
// position before the first live fix arrives.
type Store struct {
	path string
}

// NewStore returns a Store writing to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the sample to the store file, replacing any previous fix.
func (s *Store) Save(sample reliability.Sample[geomath.Coordinate]) error {
	fix := storedFix{
		Latitude:  sample.Value.Latitude,
		Longitude: sample.Value.Longitude,
		Elevation: sample.Value.Elevation,
		Accuracy:  sample.Accuracy,
		At:        sample.At,
	}
	data, err := yaml.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to marshal location fix: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err = os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write location fix to %q: %w", s.path, err)
	}
	return nil
}

// Load reads the persisted fix. A missing store file is not an error; a fix
// older than one hour relative to now is discarded.
func (s *Store) Load(now time.Time) (reliability.Sample[geomath.Coordinate], bool, error) {
	var none reliability.Sample[geomath.Coordinate]

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return none, false, nil
		}
		return none, false, fmt.Errorf("failed to read location fix from %q: %w", s.path, err)
	}

	var fix storedFix
	if err = yaml.Unmarshal(data, &fix); err != nil {
		return none, false, fmt.Errorf("failed to unmarshal location fix from %q: %w", s.path, err)
	}
	if now.Sub(fix.At) >= maxStoredFixAge {
		return none, false, nil
	}

	return reliability.Sample[geomath.Coordinate]{
		Value: geomath.Coordinate{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Elevation: fix.Elevation,
		},
		Accuracy: fix.Accuracy,
		At:       fix.At,
	}, true, nil
}
