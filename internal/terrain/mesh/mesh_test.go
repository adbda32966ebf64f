package mesh

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/terrain/mcubes"
	"subair/internal/terrain/noise"
)

func slab(h float32) []mgl32.Vec3 {
	f := noise.Func(func(p mgl32.Vec3) float32 { return p.Y() - h })
	return mcubes.Extract(5, mgl32.Vec3{}, f, 0)
}

func TestBuild_FlatSlab(t *testing.T) {
	m := Build(slab(2.25), DefaultMergeTolerance)
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// 5x5 lattice points on the plane, 4x4 quads of two triangles.
	if len(m.Positions) != 25 {
		t.Fatalf("positions=%d want 25", len(m.Positions))
	}
	if m.TriangleCount() != 32 {
		t.Fatalf("triangles=%d want 32", m.TriangleCount())
	}

	first := m.Normals[0]
	if !first.ApproxEqual(mgl32.Vec3{0, 1, 0}) && !first.ApproxEqual(mgl32.Vec3{0, -1, 0}) {
		t.Fatalf("normal %v is not vertical", first)
	}
	for i, n := range m.Normals {
		if !n.ApproxEqual(first) {
			t.Fatalf("normal %d=%v differs from %v", i, n, first)
		}
	}
}

func TestNormals_PointTowardIncreasingField(t *testing.T) {
	m := Build(slab(1.5), DefaultMergeTolerance)
	for i, n := range m.Normals {
		if !n.ApproxEqual(mgl32.Vec3{0, 1, 0}) {
			t.Fatalf("normal %d=%v want +Y", i, n)
		}
	}
}

func TestNormals_DegenerateFallsBackToUp(t *testing.T) {
	positions := []mgl32.Vec3{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}, {5, 5, 5}}
	indices := []uint32{0, 1, 2}
	got := Normals(positions, indices)
	if len(got) != len(positions) {
		t.Fatalf("len=%d want %d", len(got), len(positions))
	}
	for i, n := range got {
		if n != Up {
			t.Fatalf("normal %d=%v want %v", i, n, Up)
		}
	}
}

func TestNormals_UnitLength(t *testing.T) {
	positions := []mgl32.Vec3{{0, 0, 0}, {4, 0, 0}, {4, 0, 3}, {0, 2, 3}}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	for i, n := range Normals(positions, indices) {
		if l := n.Len(); math.Abs(float64(l)-1) > 1e-5 {
			t.Fatalf("normal %d length %v", i, l)
		}
	}
}

func TestDeduplicate_MergesCoincident(t *testing.T) {
	c := []mgl32.Vec3{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		{1, 0, 0}, {0, 1, 0}, {1, 1, 0},
		{0, 0, 0.001},
	}
	pos, idx := Deduplicate(c, DefaultMergeTolerance)
	if len(pos) != 5 {
		t.Fatalf("positions=%d want 5 (%v)", len(pos), pos)
	}
	want := []uint32{0, 1, 2, 1, 2, 3, 4}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("indices=%v want %v", idx, want)
		}
	}
	if pos[0] != c[0] || pos[3] != c[5] {
		t.Fatalf("positions not in first-occurrence order: %v", pos)
	}
}

func TestDeduplicate_WithinTolerance(t *testing.T) {
	// 1e-4 apart on one axis: squared distance 1e-8 < 1e-7.
	c := []mgl32.Vec3{{2, 2, 2}, {2.0001, 2, 2}}
	pos, idx := Deduplicate(c, DefaultMergeTolerance)
	if len(pos) != 1 || idx[0] != 0 || idx[1] != 0 {
		t.Fatalf("pos=%v idx=%v want one vertex", pos, idx)
	}
}

func TestDeduplicate_Empty(t *testing.T) {
	pos, idx := Deduplicate(nil, DefaultMergeTolerance)
	if pos != nil || idx != nil {
		t.Fatalf("pos=%v idx=%v", pos, idx)
	}
}

func TestNewCollider_SharesPositions(t *testing.T) {
	m := Build(slab(2.25), DefaultMergeTolerance)
	col := NewCollider(&m)
	if len(col.Triangles) != m.TriangleCount() {
		t.Fatalf("collider triangles=%d want %d", len(col.Triangles), m.TriangleCount())
	}
	if &col.Vertices[0] != &m.Positions[0] {
		t.Fatalf("collider vertices should alias mesh positions")
	}
	for i, tri := range col.Triangles {
		for k := 0; k < 3; k++ {
			if tri[k] != m.Indices[i*3+k] {
				t.Fatalf("triangle %d=%v does not match indices", i, tri)
			}
		}
	}
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	m := Mesh{
		Positions: []mgl32.Vec3{{}, {}},
		Normals:   []mgl32.Vec3{Up, Up},
		Indices:   []uint32{0, 1, 2},
	}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
