// SPDX-FileCopyrightText: The geopose authors
//
// SPDX-License-Identifier: MIT

// Package worldmap binds geographic coordinates to the AR session's local
// coordinate frame and converts between the two.
package worldmap

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a rigid/affine 4x4 transform in the AR session's local
// coordinate frame. It has value semantics and is copied freely.
type Transform struct {
	mat mgl64.Mat4
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{mat: mgl64.Ident4()}
}

// FromMat4 wraps a raw matrix.
func FromMat4(m mgl64.Mat4) Transform {
	return Transform{mat: m}
}

// Translate returns a pure translation transform.
func Translate(x, y, z float64) Transform {
	return Transform{mat: mgl64.Translate3D(x, y, z)}
}

// RotateY returns a rotation about the Y (up) axis by the given angle in
// degrees.
func RotateY(degrees float64) Transform {
	return Transform{mat: mgl64.HomogRotate3DY(degrees * math.Pi / 180)}
}

// Mat4 returns the underlying matrix.
func (t Transform) Mat4() mgl64.Mat4 {
	return t.mat
}

// Compose returns t * o, i.e. o applied in t's frame.
func (t Transform) Compose(o Transform) Transform {
	return Transform{mat: t.mat.Mul4(o.mat)}
}

// Translation returns the translation component.
func (t Transform) Translation() mgl64.Vec3 {
	return t.mat.Col(3).Vec3()
}

// Translated returns a copy of t moved by the given offset in t's own basis.
func (t Transform) Translated(x, y, z float64) Transform {
	return t.Compose(Translate(x, y, z))
}

// ApproxEqual reports whether two transforms are equal within the given
// per-component threshold.
func (t Transform) ApproxEqual(o Transform, threshold float64) bool {
	return t.mat.ApproxEqualThreshold(o.mat, threshold)
}
