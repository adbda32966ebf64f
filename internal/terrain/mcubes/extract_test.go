package mcubes

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/terrain/noise"
)

func TestExtract_NoCrossingNoTriangles(t *testing.T) {
	for _, v := range []float32{-1, 0, 1} {
		f := noise.Func(func(mgl32.Vec3) float32 { return v })
		if got := Extract(8, mgl32.Vec3{}, f, 0); len(got) != 0 {
			t.Fatalf("constant field %v: %d vertices want 0", v, len(got))
		}
	}
}

func TestExtract_TooSmall(t *testing.T) {
	f := noise.Func(func(p mgl32.Vec3) float32 { return p.Y() - 0.5 })
	if got := Extract(1, mgl32.Vec3{}, f, 0); got != nil {
		t.Fatalf("size 1: got %d vertices", len(got))
	}
}

func TestExtract_SingleCornerCell(t *testing.T) {
	f := noise.Func(func(p mgl32.Vec3) float32 {
		if p == (mgl32.Vec3{0, 0, 0}) {
			return 1
		}
		return -1
	})
	var values [8]float32
	for i, o := range CornerOffsets {
		values[i] = f.Sample(mgl32.Vec3{float32(o[0]), float32(o[1]), float32(o[2])})
	}
	c := Config(values, 0)
	if c != 1 {
		t.Fatalf("config %d want 1", c)
	}
	if n := TriangleCount(c); n != 1 {
		t.Fatalf("triangle count %d want 1", n)
	}

	got := Extract(2, mgl32.Vec3{}, f, 0)
	if len(got) != 3 {
		t.Fatalf("got %d vertices want 3", len(got))
	}
	// Every crossing sits halfway along an edge leaving the origin.
	for _, v := range got {
		if !v.ApproxEqual(mgl32.Vec3{0.5, 0, 0}) && !v.ApproxEqual(mgl32.Vec3{0, 0.5, 0}) && !v.ApproxEqual(mgl32.Vec3{0, 0, 0.5}) {
			t.Fatalf("unexpected vertex %v", v)
		}
	}
}

func TestExtract_FlatSlabAtHeight(t *testing.T) {
	const h = 2.25
	f := noise.Func(func(p mgl32.Vec3) float32 { return p.Y() - h })
	got := Extract(5, mgl32.Vec3{}, f, 0)
	if len(got) == 0 {
		t.Fatalf("expected vertices for a crossing plane")
	}
	// 4x4 cells cross the plane, two triangles each.
	if len(got) != 4*4*2*3 {
		t.Fatalf("got %d vertices want %d", len(got), 4*4*2*3)
	}
	for _, v := range got {
		if math.Abs(float64(v.Y()-h)) > 1e-5 {
			t.Fatalf("vertex %v off the plane y=%v", v, h)
		}
	}
}

func TestExtract_OffsetShiftsSampling(t *testing.T) {
	f := noise.Func(func(p mgl32.Vec3) float32 { return p.Y() - 10.5 })
	got := Extract(3, mgl32.Vec3{0, 10, 0}, f, 0)
	if len(got) == 0 {
		t.Fatalf("expected vertices")
	}
	for _, v := range got {
		if math.Abs(float64(v.Y()-0.5)) > 1e-5 {
			t.Fatalf("vertex %v should be chunk-local at y=0.5", v)
		}
	}
}

func TestInterpolate_FlatEdgeUsesMidpoint(t *testing.T) {
	got := interpolate(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 0, 0}, 0.3, 0.3, 0)
	if got != (mgl32.Vec3{1, 0, 0}) {
		t.Fatalf("got %v want midpoint", got)
	}
	nan := float32(math.NaN())
	got = interpolate(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 4, 0}, nan, 1, 0)
	if got != (mgl32.Vec3{0, 2, 0}) {
		t.Fatalf("NaN corner: got %v want midpoint", got)
	}
}

func TestInterpolate_Linear(t *testing.T) {
	got := interpolate(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1}, -1, 3, 0)
	if !got.ApproxEqual(mgl32.Vec3{0, 0, 0.25}) {
		t.Fatalf("got %v want z=0.25", got)
	}
}
