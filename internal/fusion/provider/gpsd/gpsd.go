// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package gpsd streams location fixes and track headings from a local gpsd
// daemon.
package gpsd

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/oriwave/geopose/internal/fusion"
	"github.com/oriwave/geopose/internal/geomath"
)

const (
	defaultHost = "localhost"
	defaultPort = "2947"

	// Fallback accuracy figures used when gpsd reports no error estimates.
	fallbackAccuracy3DFix   = 10 // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix   = 25 // worse than 3D, but still usable
	fallbackHeadingAccuracy = 10 // degrees
)

// Provider connects to gpsd and converts TPV reports into fusion updates.
type Provider struct {
	name   string
	addr   string
	period time.Duration
}

// New returns a Provider talking to gpsd on localhost.
func New() *Provider {
	return &Provider{
		name:   "gpsd",
		addr:   net.JoinHostPort(defaultHost, defaultPort),
		period: 30 * time.Second,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Watch connects to gpsd and streams TPV reports, reconnecting after the
// configured period when the connection drops. The platform in front of gpsd
// has no authorization concept, so connection failures surface as network
// faults.
func (p *Provider) Watch(ctx context.Context) <-chan fusion.Update {
	out := make(chan fusion.Update)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			session, err := gpsd.Dial(p.addr)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case out <- fusion.Update{
					Kind:   fusion.UpdateFault,
					Fault:  fusion.FaultNetwork,
					At:     time.Now(),
					Source: p.name,
				}:
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
					continue
				}
			}

			session.AddFilter("TPV", func(r interface{}) {
				tpv, ok := r.(*gpsd.TPVReport)
				if !ok {
					return
				}
				// Need at least a 2D fix.
				if tpv.Mode < gpsd.Mode2D {
					return
				}
				for _, update := range p.createUpdates(tpv) {
					select {
					case <-ctx.Done():
						return
					case out <- update:
					}
				}
			})

			done := session.Watch()

			select {
			case <-ctx.Done():
				// The process exiting tears down the gpsd connection;
				// go-gpsd itself has no Close().
				return
			case <-done:
				// gpsd connection ended; reconnect after a short delay.
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

// createUpdates converts a TPV report into a location update and, when the
// report carries a track, a heading update.
func (p *Provider) createUpdates(tpv *gpsd.TPVReport) []fusion.Update {
	at := tpv.Time
	if at.IsZero() {
		at = time.Now()
	}

	location := fusion.Update{
		Kind: fusion.UpdateLocation,
		Coordinate: geomath.Coordinate{
			Latitude:  tpv.Lat,
			Longitude: tpv.Lon,
			Elevation: tpv.Alt,
		},
		Accuracy: positionAccuracy(tpv),
		At:       at,
		Source:   p.name,
	}
	updates := []fusion.Update{location}

	if tpv.Track != 0 || tpv.Speed > 0.5 {
		heading := fusion.Update{
			Kind:            fusion.UpdateHeading,
			Heading:         tpv.Track,
			HeadingAccuracy: headingAccuracy(tpv),
			At:              at,
			Source:          p.name,
		}
		updates = append(updates, heading)
	}

	return updates
}

func positionAccuracy(tpv *gpsd.TPVReport) float64 {
	if tpv.Epx > 0 || tpv.Epy > 0 {
		return math.Hypot(tpv.Epx, tpv.Epy)
	}
	if tpv.Mode >= gpsd.Mode3D {
		return fallbackAccuracy3DFix
	}
	return fallbackAccuracy2DFix
}

func headingAccuracy(tpv *gpsd.TPVReport) float64 {
	if tpv.Epd > 0 {
		return tpv.Epd
	}
	return fallbackHeadingAccuracy
}
