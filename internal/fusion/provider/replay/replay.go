// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package replay streams location and heading samples from a YAML script
// file. It backs the simulator binary and doubles as a deterministic stand-in
// for live platform services.
package replay

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oriwave/geopose/internal/fusion"
	"github.com/oriwave/geopose/internal/geomath"
)

const name = "replay"

// Step is a single scripted event. AfterMS delays the step relative to the
// previous one; a zero Kind defaults to "location".
type Step struct {
	AfterMS         int64   `yaml:"after_ms"`
	Kind            string  `yaml:"kind"`
	Latitude        float64 `yaml:"latitude"`
	Longitude       float64 `yaml:"longitude"`
	Elevation       float64 `yaml:"elevation"`
	Accuracy        float64 `yaml:"accuracy"`
	Heading         float64 `yaml:"heading"`
	HeadingAccuracy float64 `yaml:"heading_accuracy"`
	Fault           string  `yaml:"fault"`
}

// Provider replays a scripted sample stream.
type Provider struct {
	name  string
	steps []Step
}

// NewFromFile loads a replay script from the given YAML file.
func NewFromFile(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay script %q: %w", path, err)
	}
	var steps []Step
	if err = yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse replay script %q: %w", path, err)
	}
	return New(steps), nil
}

// New returns a Provider replaying the given steps in order.
func New(steps []Step) *Provider {
	return &Provider{name: name, steps: steps}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Watch streams the scripted steps, honoring their relative delays. After the
// last step the stream stays open until the context is cancelled.
func (p *Provider) Watch(ctx context.Context) <-chan fusion.Update {
	out := make(chan fusion.Update)
	go func() {
		defer close(out)
		for _, step := range p.steps {
			if step.AfterMS > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(step.AfterMS) * time.Millisecond):
				}
			}

			update, err := p.createUpdate(step)
			if err != nil {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- update:
			}
		}
		// Script exhausted: keep the stream open until the caller is done,
		// so the controller does not reconnect and replay from the start.
		<-ctx.Done()
	}()
	return out
}

// createUpdate converts a script step into a provider update stamped with the
// current time.
func (p *Provider) createUpdate(step Step) (fusion.Update, error) {
	update := fusion.Update{
		At:     time.Now(),
		Source: p.name,
	}

	switch step.Kind {
	case "", "location":
		update.Kind = fusion.UpdateLocation
		update.Coordinate = geomath.Coordinate{
			Latitude:  step.Latitude,
			Longitude: step.Longitude,
			Elevation: step.Elevation,
		}
		update.Accuracy = step.Accuracy
	case "heading":
		update.Kind = fusion.UpdateHeading
		update.Heading = step.Heading
		update.HeadingAccuracy = step.HeadingAccuracy
	case "fault":
		update.Kind = fusion.UpdateFault
		switch step.Fault {
		case "denied":
			update.Fault = fusion.FaultDenied
		case "network":
			update.Fault = fusion.FaultNetwork
		case "region-denied":
			update.Fault = fusion.FaultRegionDenied
		default:
			return update, fmt.Errorf("unknown fault class %q", step.Fault)
		}
	case "authorized":
		update.Kind = fusion.UpdateAuthorized
	default:
		return update, fmt.Errorf("unknown step kind %q", step.Kind)
	}

	return update, nil
}
