// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package worldmap

import (
	"errors"
	"sync"

	"github.com/oriwave/geopose/internal/geomath"
)

// historyLimit bounds the number of retained historical bindings kept for
// potential drift correction.
const historyLimit = 100

// ErrNotYetBound is returned when a geographic conversion is requested before
// any reliable fix has been bound. Callers must treat this as "location
// features temporarily unavailable", not as a fatal condition.
var ErrNotYetBound = errors.New("no reliable geographic fix has been bound yet")

// WorldLocation pairs a geographic coordinate with the local-frame transform
// it corresponds to. It is immutable once created; a new binding replaces an
// old one rather than mutating it.
type WorldLocation struct {
	Coordinate geomath.Coordinate
	Transform  Transform
}

// OriginBinder establishes the conversion basis between the AR-local frame
// and geography. The current binding used for new conversions is always the
// most recently accepted reliable one; superseded bindings are kept in a
// bounded history. Reads return copies, so the render thread never races
// with the sample-processing goroutines.
type OriginBinder struct {
	mu      sync.RWMutex
	current WorldLocation
	bound   bool
	history []WorldLocation
}

// NewOriginBinder returns an unbound OriginBinder.
func NewOriginBinder() *OriginBinder {
	return &OriginBinder{}
}

// Bind pairs a reliable geographic fix with the local-frame pose at the
// instant the fix was accepted and makes it the current conversion basis.
func (b *OriginBinder) Bind(coordinate geomath.Coordinate, pose Transform) WorldLocation {
	loc := WorldLocation{Coordinate: coordinate, Transform: pose}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = loc
	b.bound = true
	b.history = append(b.history, loc)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	return loc
}

// Bound returns the current binding, if any.
func (b *OriginBinder) Bound() (WorldLocation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current, b.bound
}

// WorldLocationFor converts a geographic coordinate into a local-frame
// WorldLocation by offsetting the bound pose along the session-frame axes.
// East stays +X no matter which way the device faced at bind time. Returns
// ErrNotYetBound before the first Bind.
func (b *OriginBinder) WorldLocationFor(target geomath.Coordinate) (WorldLocation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bound {
		return WorldLocation{}, ErrNotYetBound
	}

	off := geomath.WorldDistance(b.current.Coordinate, target)
	transform := Translate(off.MetersX, off.MetersY, off.MetersZ).Compose(b.current.Transform)
	return WorldLocation{Coordinate: target, Transform: transform}, nil
}

// CoordinateFor maps a local-frame pose back to a geographic coordinate, the
// inverse of WorldLocationFor. Returns ErrNotYetBound before the first Bind.
func (b *OriginBinder) CoordinateFor(pose Transform) (geomath.Coordinate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.bound {
		return geomath.Coordinate{}, ErrNotYetBound
	}

	delta := pose.Translation().Sub(b.current.Transform.Translation())
	coordinate := geomath.Destination(b.current.Coordinate, delta.X(), delta.Z())
	coordinate.Elevation = b.current.Coordinate.Elevation + delta.Y()
	return coordinate, nil
}

// History returns a copy of the retained bindings, oldest first.
func (b *OriginBinder) History() []WorldLocation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]WorldLocation, len(b.history))
	copy(out, b.history)
	return out
}
