// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package fusion

import (
	"context"
	"fmt"
	"time"

	"github.com/oriwave/geopose/internal/geomath"
)

// UpdateKind identifies what a provider update carries.
type UpdateKind int

const (
	// UpdateLocation carries a location fix.
	UpdateLocation UpdateKind = iota
	// UpdateHeading carries a compass heading.
	UpdateHeading
	// UpdateFault carries a service fault classification.
	UpdateFault
	// UpdateAuthorized signals that the platform granted (or re-granted)
	// authorization to deliver samples.
	UpdateAuthorized
)

// FaultClass classifies platform service errors.
type FaultClass int

const (
	// FaultDenied means location services are disabled or authorization
	// was revoked; all monitoring stops until re-authorized.
	FaultDenied FaultClass = iota
	// FaultNetwork is a transient network failure; hardware updates keep
	// running so the service can recover on its own.
	FaultNetwork
	// FaultRegionDenied means region monitoring was denied; treated like
	// FaultDenied.
	FaultRegionDenied
)

// String implements fmt.Stringer.
func (f FaultClass) String() string {
	switch f {
	case FaultDenied:
		return "denied"
	case FaultNetwork:
		return "network"
	case FaultRegionDenied:
		return "region-denied"
	default:
		return fmt.Sprintf("fault(%d)", int(f))
	}
}

// Update is a single raw event pushed by a platform location/heading service.
// Only the fields relevant to the Kind are populated.
type Update struct {
	Kind            UpdateKind
	Coordinate      geomath.Coordinate
	Accuracy        float64 // meters, lower is better, <= 0 invalid
	Heading         float64 // degrees from true north
	HeadingAccuracy float64 // degrees, lower is better, <= 0 invalid
	At              time.Time
	Fault           FaultClass
	Source          string
}

// Provider is a platform location/heading service backend. Watch streams
// updates until the context is cancelled; the returned channel is closed when
// the stream ends.
type Provider interface {
	Name() string
	Watch(ctx context.Context) <-chan Update
}
