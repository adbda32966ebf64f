package noise

import (
	"math"
	"testing"

	"github.com/aquilax/go-perlin"
	"github.com/go-gl/mathgl/mgl32"
)

func TestFractal_SameSeedSameValue(t *testing.T) {
	a := New(23478235784239483, DefaultParams())
	b := New(23478235784239483, DefaultParams())
	for i := 0; i < 200; i++ {
		p := mgl32.Vec3{float32(i) * 1.37, float32(i%17) - 4.5, float32(i) * -0.73}
		if va, vb := a.Sample(p), b.Sample(p); va != vb {
			t.Fatalf("sample %v: %v != %v", p, va, vb)
		}
	}
}

func TestFractal_SeedChangesField(t *testing.T) {
	a := New(1, DefaultParams())
	b := New(2, DefaultParams())
	diff := 0
	for i := 0; i < 100; i++ {
		p := mgl32.Vec3{float32(i) * 3.1, float32(i) * 1.9, float32(i) * 0.7}
		if a.Sample(p) != b.Sample(p) {
			diff++
		}
	}
	if diff == 0 {
		t.Fatalf("expected different seeds to produce different fields")
	}
}

func TestFractal_FiniteAndBounded(t *testing.T) {
	for _, kind := range []Kind{FBM, Billow, RigidMulti} {
		p := DefaultParams()
		p.Kind = kind
		p.Octaves = 4
		f := New(7, p)
		for x := -40; x <= 40; x += 3 {
			for y := -40; y <= 40; y += 5 {
				for z := -40; z <= 40; z += 7 {
					v := f.Sample(mgl32.Vec3{float32(x) + 0.25, float32(y) + 0.5, float32(z) + 0.75})
					if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
						t.Fatalf("%s: non-finite sample at %d,%d,%d", kind, x, y, z)
					}
					if v < -3 || v > 3 {
						t.Fatalf("%s: sample %v out of range", kind, v)
					}
				}
			}
		}
	}
}

func TestFractal_ZeroOnLattice(t *testing.T) {
	p := DefaultParams()
	p.Frequency = 1
	f := New(99, p)
	for _, pt := range []mgl32.Vec3{{0, 0, 0}, {1, 2, 3}, {-4, 5, -6}} {
		if v := f.Sample(pt); v != 0 {
			t.Fatalf("lattice point %v: got %v want 0", pt, v)
		}
	}
}

func TestFractal_FBMWeightsOctavesByGain(t *testing.T) {
	p := DefaultParams()
	p.Octaves = 3
	p.Frequency = 0.1
	f := New(5, p)
	ref := perlin.NewPerlin(1/float64(p.Gain), float64(p.Lacunarity), 3, 5)
	norm := 1 + float64(p.Gain) + float64(p.Gain)*float64(p.Gain)
	freq := float64(p.Frequency)
	for i := 0; i < 50; i++ {
		pt := mgl32.Vec3{float32(i) * 0.9, float32(i) * -1.3, float32(i%7) + 0.5}
		want := float32(ref.Noise3D(float64(pt[0])*freq, float64(pt[1])*freq, float64(pt[2])*freq) / norm)
		if got := f.Sample(pt); math.Abs(float64(got-want)) > 1e-6 {
			t.Fatalf("sample %v: got %v want %v", pt, got, want)
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"": FBM, "fbm": FBM, "Billow": Billow, "rigid_multi": RigidMulti}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q)=%s want %s", in, got, want)
		}
	}
	if _, err := ParseKind("cellular"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestFuncAdapter(t *testing.T) {
	var f Field = Func(func(p mgl32.Vec3) float32 { return p.Y() - 2 })
	if v := f.Sample(mgl32.Vec3{9, 5, 1}); v != 3 {
		t.Fatalf("got %v want 3", v)
	}
}
