// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package geoclue streams location fixes from the GeoClue2 D-Bus service.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/maltegrosse/go-geoclue2"

	"github.com/oriwave/geopose/internal/fusion"
	"github.com/oriwave/geopose/internal/geomath"
)

const (
	dbusListNamesAddress = "org.freedesktop.DBus.ListNames"
	geoclueAgentDBusName = "org.freedesktop.GeoClue2.DemoAgent"

	// headingAccuracy is assumed for GeoClue heading readings; the service
	// reports no error estimate of its own.
	headingAccuracy = 15
)

// ErrNoAgent indicates that no GeoClue agent is registered on the session
// bus, so authorization cannot be granted.
var ErrNoAgent = errors.New("no GeoClue agent is running")

// errRefused marks errors where the GeoClue service refused the client
// registration.
var errRefused = errors.New("geoclue refused the client")

// faultClass maps a setup failure to its fault class. A missing agent or a
// refused registration is an authorization problem; anything else is bus
// transport and must not stop the remaining providers.
func faultClass(err error) fusion.FaultClass {
	if errors.Is(err, ErrNoAgent) || errors.Is(err, errRefused) {
		return fusion.FaultDenied
	}
	return fusion.FaultNetwork
}

// Provider streams location updates from GeoClue2.
type Provider struct {
	name      string
	desktopID string
}

// New returns a Provider registering with GeoClue under the given desktop id.
func New(desktopID string) *Provider {
	return &Provider{name: "geoclue", desktopID: desktopID}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// Watch registers a GeoClue client and streams its location updates. A
// missing agent or a refused registration surfaces as a denied fault;
// D-Bus transport failures surface as network faults so the other providers
// keep running. The stream then ends and the caller decides whether to retry.
func (p *Provider) Watch(ctx context.Context) <-chan fusion.Update {
	out := make(chan fusion.Update)

	go func() {
		defer close(out)

		if err := checkAgent(ctx); err != nil {
			sendFault(ctx, out, p.name, faultClass(err))
			return
		}

		client, err := p.register()
		if err != nil {
			sendFault(ctx, out, p.name, faultClass(err))
			return
		}
		if err = client.Start(); err != nil {
			sendFault(ctx, out, p.name, fusion.FaultDenied)
			return
		}
		defer func() { _ = client.Stop() }()

		select {
		case <-ctx.Done():
			return
		case out <- fusion.Update{Kind: fusion.UpdateAuthorized, At: time.Now(), Source: p.name}:
		}

		signal := client.SubscribeLocationUpdated()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-signal:
				if !ok {
					return
				}
				_, location, err := client.ParseLocationUpdated(update)
				if err != nil {
					continue
				}
				for _, u := range p.createUpdates(location) {
					select {
					case <-ctx.Done():
						return
					case out <- u:
					}
				}
			}
		}
	}()

	return out
}

// register sets up a GeoClue client requesting exact accuracy.
func (p *Provider) register() (geoclue2.GeoclueClient, error) {
	manager, err := geoclue2.NewGeoclueManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize geoclue manager: %w", err)
	}
	client, err := manager.GetClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get geoclue client: %w", err)
	}
	if err = client.SetDesktopId(p.desktopID); err != nil {
		return nil, fmt.Errorf("%w: failed to set desktop id: %w", errRefused, err)
	}
	if err = client.SetRequestedAccuracyLevel(geoclue2.GClueAccuracyLevelExact); err != nil {
		return nil, fmt.Errorf("%w: failed to set requested accuracy level: %w", errRefused, err)
	}
	return client, nil
}

// createUpdates converts a GeoClue location into a location update and, when
// the reading carries a heading, a heading update.
func (p *Provider) createUpdates(location geoclue2.GeoclueLocation) []fusion.Update {
	accuracy, err := location.GetAccuracy()
	if err != nil || accuracy <= 0 {
		return nil
	}
	latitude, err := location.GetLatitude()
	if err != nil {
		return nil
	}
	longitude, err := location.GetLongitude()
	if err != nil {
		return nil
	}
	altitude, err := location.GetAltitude()
	if err != nil {
		altitude = 0
	}

	at := time.Now()
	updates := []fusion.Update{{
		Kind: fusion.UpdateLocation,
		Coordinate: geomath.Coordinate{
			Latitude:  latitude,
			Longitude: longitude,
			Elevation: altitude,
		},
		Accuracy: accuracy,
		At:       at,
		Source:   p.name,
	}}

	if heading, err := location.GetHeading(); err == nil && heading >= 0 {
		updates = append(updates, fusion.Update{
			Kind:            fusion.UpdateHeading,
			Heading:         heading,
			HeadingAccuracy: headingAccuracy,
			At:              at,
			Source:          p.name,
		})
	}

	return updates
}

// checkAgent looks for a registered GeoClue agent on the session bus.
// Returns ErrNoAgent when the bus is reachable but no agent is registered.
func checkAgent(ctx context.Context) (err error) {
	var list []string
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().Call(dbusListNamesAddress, 0).Store(&list); err != nil {
		return fmt.Errorf("failed to call DBus ListNames: %w", err)
	}

	for _, v := range list {
		if strings.EqualFold(v, geoclueAgentDBusName) {
			return nil
		}
	}
	return ErrNoAgent
}

func sendFault(ctx context.Context, out chan<- fusion.Update, source string, class fusion.FaultClass) {
	select {
	case <-ctx.Done():
	case out <- fusion.Update{Kind: fusion.UpdateFault, Fault: class, At: time.Now(), Source: source}:
	}
}
