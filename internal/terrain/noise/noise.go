// Package noise provides the seeded scalar field that terrain is extracted from.
package noise

import (
	"fmt"
	"math"
	"strings"

	"github.com/aquilax/go-perlin"
	"github.com/go-gl/mathgl/mgl32"
)

// Field is a scalar function of a world-space point.
type Field interface {
	Sample(p mgl32.Vec3) float32
}

// Func adapts a plain function to Field.
type Func func(p mgl32.Vec3) float32

func (f Func) Sample(p mgl32.Vec3) float32 { return f(p) }

type Kind int

const (
	FBM Kind = iota
	Billow
	RigidMulti
)

func (k Kind) String() string {
	switch k {
	case FBM:
		return "fbm"
	case Billow:
		return "billow"
	case RigidMulti:
		return "rigid_multi"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fbm":
		return FBM, nil
	case "billow":
		return Billow, nil
	case "rigid_multi", "rigidmulti", "rigid":
		return RigidMulti, nil
	}
	return FBM, fmt.Errorf("unknown fractal kind %q", s)
}

type Params struct {
	Kind       Kind
	Octaves    int
	Gain       float32
	Lacunarity float32
	Frequency  float32
}

func DefaultParams() Params {
	return Params{
		Kind:       FBM,
		Octaves:    1,
		Gain:       0.6,
		Lacunarity: 2.0,
		Frequency:  0.05,
	}
}

// Fractal is seeded Perlin noise combined over octaves. It is immutable after
// construction and safe for concurrent use.
type Fractal struct {
	params   Params
	gen      *perlin.Perlin
	bounding float64
}

// New builds the field. FBM lets the generator sum every octave itself; billow
// and rigid-multi shape each octave, so they sample a single-octave generator.
func New(seed uint64, p Params) *Fractal {
	if p.Octaves <= 0 {
		p.Octaves = 1
	}
	alpha := math.Inf(1)
	if p.Gain > 0 {
		alpha = 1 / float64(p.Gain)
	}
	n := int32(1)
	if p.Kind == FBM {
		n = int32(p.Octaves)
	}
	f := &Fractal{
		params: p,
		gen:    perlin.NewPerlin(alpha, float64(p.Lacunarity), n, int64(seed)),
	}

	amp := 1.0
	total := 0.0
	for i := 0; i < p.Octaves; i++ {
		total += amp
		amp *= float64(p.Gain)
	}
	f.bounding = 1
	if total > 0 {
		f.bounding = 1 / total
	}
	return f
}

func (f *Fractal) Params() Params { return f.params }

func (f *Fractal) Sample(p mgl32.Vec3) float32 {
	freq := float64(f.params.Frequency)
	x := float64(p[0]) * freq
	y := float64(p[1]) * freq
	z := float64(p[2]) * freq

	lac := float64(f.params.Lacunarity)
	gain := float64(f.params.Gain)

	switch f.params.Kind {
	case Billow:
		sum := 0.0
		amp := 1.0
		for i := 0; i < f.params.Octaves; i++ {
			sum += (math.Abs(f.gen.Noise3D(x, y, z))*2 - 1) * amp
			x, y, z = x*lac, y*lac, z*lac
			amp *= gain
		}
		return float32(sum * f.bounding)
	case RigidMulti:
		sum := 0.0
		amp := 1.0
		for i := 0; i < f.params.Octaves; i++ {
			o := 1 - math.Abs(f.gen.Noise3D(x, y, z))
			if i == 0 {
				sum = o
			} else {
				sum -= o * amp
			}
			x, y, z = x*lac, y*lac, z*lac
			amp *= gain
		}
		return float32(sum)
	default:
		return float32(f.gen.Noise3D(x, y, z) * f.bounding)
	}
}
