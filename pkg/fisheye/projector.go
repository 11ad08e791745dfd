// Package fisheye maps pixels of a dual-fisheye frame onto the view sphere.
//
// The frame holds two equal circular captures side by side: the front lens
// on the left half and the rear lens on the right half. Each lens has its
// optical center in the middle of its half and a radius of half the frame
// height.
package fisheye

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultRenderRadius is the sphere radius used by the panorama viewer
const DefaultRenderRadius = 10.0

// Config holds projection settings
type Config struct {
	// MirrorRearLens negates x for points on the rear lens so that left and
	// right stay consistent for a viewer looking out of the sphere.
	MirrorRearLens bool
	RenderRadius   float64
}

// DefaultConfig returns the projection settings used in production
func DefaultConfig() Config {
	return Config{
		MirrorRearLens: true,
		RenderRadius:   DefaultRenderRadius,
	}
}

// Lens identifies which half of the frame a pixel belongs to
type Lens int

const (
	Front Lens = iota
	Rear
)

func (l Lens) String() string {
	if l == Rear {
		return "rear"
	}
	return "front"
}

// Projector converts pixel coordinates into unit vectors
type Projector struct {
	config Config
}

// New creates a Projector with the default configuration
func New() *Projector {
	return &Projector{config: DefaultConfig()}
}

// NewWithConfig creates a Projector with a custom configuration
func NewWithConfig(config Config) *Projector {
	return &Projector{config: config}
}

// LensFor returns the lens covering column x of a frame of the given width
func LensFor(x float64, width int) Lens {
	if x < float64(width)/2 {
		return Front
	}
	return Rear
}

// Project maps (x, y) to a unit vector on the view sphere. The second
// return value is false when the point lies outside the circular field of
// view of its lens.
func (p *Projector) Project(x, y float64, width, height int) (r3.Vec, bool) {
	if width <= 0 || height <= 0 {
		return r3.Vec{}, false
	}

	lensWidth := float64(width) / 2
	radius := float64(height) / 2

	lens := LensFor(x, width)
	centerX := lensWidth / 2
	if lens == Rear {
		centerX = lensWidth + lensWidth/2
	}
	centerY := float64(height) / 2

	u := (x - centerX) / radius
	v := (y - centerY) / radius
	distSq := u*u + v*v
	if distSq > 1 {
		return r3.Vec{}, false
	}

	z := math.Sqrt(math.Max(0, 1-distSq))
	vec := r3.Vec{X: u, Y: -v, Z: z}
	if lens == Rear {
		vec.Z = -z
		if p.config.MirrorRearLens {
			vec.X = -vec.X
		}
	}

	return round4(vec), true
}

// ToRender scales a unit vector into the viewer's coordinate system, which
// uses an inverted depth axis.
func ToRender(v r3.Vec, radius float64) r3.Vec {
	return round4(r3.Vec{X: v.X * radius, Y: v.Y * radius, Z: -v.Z * radius})
}

func round4(v r3.Vec) r3.Vec {
	return r3.Vec{X: roundTo(v.X, 4), Y: roundTo(v.Y, 4), Z: roundTo(v.Z, 4)}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	r := math.Round(v*scale) / scale
	if r == 0 {
		// avoid -0 in JSON output
		return 0
	}
	return r
}
