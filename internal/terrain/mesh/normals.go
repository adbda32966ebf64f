package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Up is the normal given to vertices whose accumulated face normals cancel out
// or vanish (only degenerate triangles touch them).
var Up = mgl32.Vec3{0, 1, 0}

// Normals accumulates the unnormalized face normal (p1-p0) x (p2-p1) of every
// triangle into its three vertices and normalizes the sums.
func Normals(positions []mgl32.Vec3, indices []uint32) []mgl32.Vec3 {
	acc := make([]mgl32.Vec3, len(positions))
	for f := 0; f+2 < len(indices); f += 3 {
		i0, i1, i2 := indices[f], indices[f+1], indices[f+2]
		p0, p1, p2 := positions[i0], positions[i1], positions[i2]

		n := p1.Sub(p0).Cross(p2.Sub(p1))
		acc[i0] = acc[i0].Add(n)
		acc[i1] = acc[i1].Add(n)
		acc[i2] = acc[i2].Add(n)
	}

	for i, n := range acc {
		l := float64(n.Len())
		if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			acc[i] = Up
			continue
		}
		acc[i] = n.Mul(float32(1 / l))
	}
	return acc
}
