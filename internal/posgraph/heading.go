// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

package posgraph

import (
	"github.com/oriwave/geopose/internal/geomath"
	"github.com/oriwave/geopose/internal/worldmap"
)

type headingKind int

const (
	headingFixed headingKind = iota
	headingFacing
)

// HeadingMode selects how a node's heading is derived. Headings are computed
// lazily per query and never persisted.
type HeadingMode struct {
	kind    headingKind
	bearing float64
	target  geomath.Coordinate
}

// FixedHeading keeps a node pointed at a constant bearing in degrees from
// true north, e.g. 0 for "always north".
func FixedHeading(bearingDegrees float64) HeadingMode {
	return HeadingMode{kind: headingFixed, bearing: geomath.NormalizeBearing(bearingDegrees)}
}

// FacingHeading keeps a node pointed at a fixed geographic coordinate, e.g.
// "always facing me" with the device's coordinate as the target.
func FacingHeading(target geomath.Coordinate) HeadingMode {
	return HeadingMode{kind: headingFacing, target: target}
}

// Heading returns a node's heading in degrees from true north under the given
// mode. Facing mode maps the node's resolved position back to geography
// through the origin binder and fails with worldmap.ErrNotYetBound before a
// fix has been bound.
func (g *Graph) Heading(id NodeID, mode HeadingMode) (float64, error) {
	if mode.kind == headingFixed {
		if _, ok := g.nodes[id]; !ok {
			return 0, ErrUnknownNode
		}
		return mode.bearing, nil
	}

	resolved, err := g.Resolve(id)
	if err != nil {
		return 0, err
	}
	coordinate, err := g.binder.CoordinateFor(resolved)
	if err != nil {
		return 0, err
	}
	return geomath.Bearing(coordinate, mode.target), nil
}

// ResolveWithHeading resolves a node and replaces the parent chain's rotation
// component with one derived from the heading mode: the chain contributes
// only its translation, the rotation comes from the bearing against the bound
// world origin. Heading 0 faces north, which is negative Z in the bound
// frame, so the rotation about Y runs opposite to the compass sense.
func (g *Graph) ResolveWithHeading(id NodeID, mode HeadingMode) (worldmap.Transform, error) {
	resolved, err := g.Resolve(id)
	if err != nil {
		return worldmap.Transform{}, err
	}

	heading := mode.bearing
	if mode.kind == headingFacing {
		coordinate, err := g.binder.CoordinateFor(resolved)
		if err != nil {
			return worldmap.Transform{}, err
		}
		heading = geomath.Bearing(coordinate, mode.target)
	}

	position := resolved.Translation()
	oriented := worldmap.Translate(position.X(), position.Y(), position.Z()).
		Compose(worldmap.RotateY(-heading))
	return oriented, nil
}
