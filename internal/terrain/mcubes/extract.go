// Package mcubes triangulates an isosurface of a scalar field with marching cubes.
package mcubes

import (
	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/terrain/noise"
)

// Config returns the configuration mask for the 8 corner values of a cell.
func Config(values [8]float32, iso float32) uint8 {
	var c uint8
	for i, v := range values {
		if v > iso {
			c |= 1 << i
		}
	}
	return c
}

// TriangleCount is the number of triangles the table emits for a configuration.
func TriangleCount(config uint8) int {
	n := 0
	for _, e := range Triangles[config] {
		if e < 0 {
			break
		}
		n++
	}
	return n / 3
}

// Extract walks the (size-1)^3 cells of a chunk whose sample points are the integer
// lattice 0..size-1 on each axis. Corner values are sampled at local+offset. The
// returned positions are chunk-local, three per triangle, duplicated across cells.
func Extract(size int, offset mgl32.Vec3, f noise.Field, iso float32) []mgl32.Vec3 {
	if size < 2 {
		return nil
	}
	var out []mgl32.Vec3
	var values [8]float32
	var corners [8]mgl32.Vec3

	cells := size - 1
	for x := 0; x < cells; x++ {
		for y := 0; y < cells; y++ {
			for z := 0; z < cells; z++ {
				for i, o := range CornerOffsets {
					corners[i] = mgl32.Vec3{float32(x + o[0]), float32(y + o[1]), float32(z + o[2])}
					values[i] = f.Sample(corners[i].Add(offset))
				}
				for _, e := range Triangles[Config(values, iso)] {
					if e < 0 {
						break
					}
					pair := Edges[e]
					out = append(out, interpolate(corners[pair[0]], corners[pair[1]], values[pair[0]], values[pair[1]], iso))
				}
			}
		}
	}
	return out
}

// Degenerate edges (equal values at both corners) resolve to the midpoint.
const flatEdgeEpsilon = 1e-12

func interpolate(p1, p2 mgl32.Vec3, v1, v2, iso float32) mgl32.Vec3 {
	d := float64(v2) - float64(v1)
	t := 0.5
	if d > flatEdgeEpsilon || d < -flatEdgeEpsilon {
		t = (float64(iso) - float64(v1)) / d
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p1.Add(p2.Sub(p1).Mul(float32(t)))
}
