// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package geomath provides stateless conversions between geographic
// coordinates and local planar offsets. All functions are pure and safe for
// concurrent use.
//
// Planar offsets follow the AR session frame convention: positive X points
// east, positive Y points up (elevation gain) and positive Z points south.
package geomath

import "math"

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

// Coordinate represents a geographic coordinate with elevation.
type Coordinate struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Elevation float64 // meters above the reference ellipsoid
}

// Valid checks if the coordinate is valid according to the EPSG logic.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Offset is the planar decomposition of the distance between two coordinates.
type Offset struct {
	MetersX    float64 // east
	MetersY    float64 // up (elevation delta)
	MetersZ    float64 // south
	Distance2D float64
	Distance3D float64
}

// metersPerDegree returns the length of one degree of latitude and longitude
// at the given latitude. The polynomial accounts for Earth's oblateness.
func metersPerDegree(latitude float64) (metersLat, metersLon float64) {
	phi := latitude * math.Pi / 180
	metersLat = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
	metersLon = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
	return metersLat, metersLon
}

// WorldDistance decomposes the distance between two coordinates into planar
// offsets in the AR frame convention. The meters-per-degree factors are
// evaluated at the from coordinate, not the midpoint, trading precision for
// speed. The error is negligible for sub-kilometer distances; callers
// covering global distances should use HaversineDistance instead.
func WorldDistance(from, to Coordinate) Offset {
	metersLat, metersLon := metersPerDegree(from.Latitude)
	north := (to.Latitude - from.Latitude) * metersLat
	east := (to.Longitude - from.Longitude) * metersLon
	up := to.Elevation - from.Elevation

	off := Offset{
		MetersX: east,
		MetersY: up,
		MetersZ: -north,
	}
	off.Distance2D = math.Hypot(off.MetersX, off.MetersZ)
	off.Distance3D = math.Sqrt(off.MetersX*off.MetersX + off.MetersY*off.MetersY + off.MetersZ*off.MetersZ)
	return off
}

// Destination returns the coordinate reached by moving eastMeters east and
// southMeters south from the given coordinate. It is the planar inverse of
// WorldDistance; elevation is carried over unchanged.
func Destination(from Coordinate, eastMeters, southMeters float64) Coordinate {
	metersLat, metersLon := metersPerDegree(from.Latitude)
	return Coordinate{
		Latitude:  from.Latitude - southMeters/metersLat,
		Longitude: from.Longitude + eastMeters/metersLon,
		Elevation: from.Elevation,
	}
}

// Bearing returns the initial great-circle bearing from one coordinate to the
// other in degrees from true north, in the interval (-180, 180]. For
// coincident coordinates the bearing is undefined and 0 is returned by
// convention.
func Bearing(from, to Coordinate) float64 {
	phi1 := from.Latitude * math.Pi / 180
	phi2 := to.Latitude * math.Pi / 180
	deltaLambda := (to.Longitude - from.Longitude) * math.Pi / 180

	y := math.Sin(deltaLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)
	return math.Atan2(y, x) * 180 / math.Pi
}

// HaversineDistance returns the great-circle distance between two coordinates
// in meters. Accurate at global distances; slower than EquirectDistance.
func HaversineDistance(from, to Coordinate) float64 {
	phi1 := from.Latitude * math.Pi / 180
	phi2 := to.Latitude * math.Pi / 180
	deltaPhi := (to.Latitude - from.Latitude) * math.Pi / 180
	deltaLambda := (to.Longitude - from.Longitude) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// EquirectDistance returns the distance between two coordinates in meters
// using a small-angle equirectangular approximation. Only suitable where
// sub-kilometer precision is acceptable.
func EquirectDistance(from, to Coordinate) float64 {
	phi1 := from.Latitude * math.Pi / 180
	phi2 := to.Latitude * math.Pi / 180
	deltaPhi := phi2 - phi1
	deltaLambda := (to.Longitude - from.Longitude) * math.Pi / 180

	x := deltaLambda * math.Cos((phi1+phi2)/2)
	return EarthRadius * math.Hypot(x, deltaPhi)
}

// NormalizeBearing maps any angle in degrees into the interval (-180, 180].
func NormalizeBearing(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}
