// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package geoip provides a coarse IP-based location fallback. Its accuracy
// figures are deliberately pessimistic so that any satellite or platform fix
// immediately outranks it in the reliability selection.
package geoip

import (
	"context"
	"fmt"
	"time"

	"github.com/oriwave/geopose/internal/fusion"
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/http"
)

const (
	APIEndpoint   = "https://reallyfreegeoip.org/json/"
	LookupTimeout = time.Second * 5

	// Accuracy in meters per resolution tier of the GeoIP database.
	accuracyUnknown = 500000.0
	accuracyCountry = 200000.0
	accuracyRegion  = 100000.0
	accuracyCity    = 25000.0
	accuracyZip     = 5000.0
)

// Provider polls a GeoIP API and emits an update whenever the resolved
// position changes.
type Provider struct {
	name   string
	http   *http.Client
	period time.Duration
}

type apiResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

// New returns a Provider polling the public GeoIP endpoint every 30 minutes.
func New(client *http.Client) *Provider {
	return &Provider{
		name:   "geoip",
		http:   client,
		period: 30 * time.Minute,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Watch polls the GeoIP API on the configured period. Lookup failures are
// retried on the next tick rather than surfaced as faults, a missing coarse
// fallback is not a service outage.
func (p *Provider) Watch(ctx context.Context) <-chan fusion.Update {
	out := make(chan fusion.Update)

	go func() {
		defer close(out)
		var last fusion.Update
		var haveLast bool

		for {
			update, err := p.locate(ctx)
			if err == nil {
				changed := !haveLast || update.Coordinate != last.Coordinate ||
					update.Accuracy != last.Accuracy
				if changed {
					select {
					case <-ctx.Done():
						return
					case out <- update:
						last = update
						haveLast = true
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

func (p *Provider) locate(ctx context.Context) (fusion.Update, error) {
	ctxHTTP, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	result := new(apiResult)
	if _, err := p.http.Get(ctxHTTP, APIEndpoint, result, nil, nil); err != nil {
		return fusion.Update{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	return fusion.Update{
		Kind: fusion.UpdateLocation,
		Coordinate: geomath.Coordinate{
			Latitude:  result.Latitude,
			Longitude: result.Longitude,
		},
		Accuracy: accuracyFor(result),
		At:       time.Now(),
		Source:   p.name,
	}, nil
}

func accuracyFor(result *apiResult) float64 {
	accuracy := accuracyUnknown
	if result.CountryCode != "" {
		accuracy = accuracyCountry
	}
	if result.RegionCode != "" {
		accuracy = accuracyRegion
	}
	if result.City != "" {
		accuracy = accuracyCity
	}
	if result.ZipCode != "" {
		accuracy = accuracyZip
	}
	return accuracy
}
