// Package mesh turns marching-cubes triangle soup into an indexed mesh with
// vertex normals and a matching collision trimesh.
package mesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is an indexed triangle list. Normals is parallel to Positions and every
// three consecutive Indices form one triangle.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
}

func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// Validate reports the first broken invariant.
func (m *Mesh) Validate() error {
	if len(m.Normals) != len(m.Positions) {
		return fmt.Errorf("normals length %d != positions length %d", len(m.Normals), len(m.Positions))
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(m.Indices))
	}
	n := uint32(len(m.Positions))
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("index %d at %d out of range (positions=%d)", idx, i, n)
		}
	}
	return nil
}

// Collider is a static trimesh for the physics boundary. Vertices aliases the
// render mesh positions.
type Collider struct {
	Vertices  []mgl32.Vec3
	Triangles [][3]uint32
}

func NewCollider(m *Mesh) Collider {
	tris := make([][3]uint32, 0, len(m.Indices)/3)
	for i := 0; i+2 < len(m.Indices); i += 3 {
		tris = append(tris, [3]uint32{m.Indices[i], m.Indices[i+1], m.Indices[i+2]})
	}
	return Collider{Vertices: m.Positions, Triangles: tris}
}

// Build deduplicates the candidate vertices and computes normals.
func Build(candidates []mgl32.Vec3, tolSq float32) Mesh {
	positions, indices := Deduplicate(candidates, tolSq)
	return Mesh{
		Positions: positions,
		Normals:   Normals(positions, indices),
		Indices:   indices,
	}
}
