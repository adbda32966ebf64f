package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/sim/mathx"
)

// Coord addresses a chunk on the chunk grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (c Coord) String() string { return fmt.Sprintf("%d_%d_%d", c.X, c.Y, c.Z) }

// Offset is the world position of the chunk origin.
func (c Coord) Offset(span int) mgl32.Vec3 {
	return mgl32.Vec3{float32(c.X * span), float32(c.Y * span), float32(c.Z * span)}
}

// ParseCoord parses the form produced by String.
func ParseCoord(s string) (Coord, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("bad chunk coord %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Coord{}, fmt.Errorf("bad chunk coord %q: %w", s, err)
		}
		v[i] = n
	}
	return Coord{X: v[0], Y: v[1], Z: v[2]}, nil
}

// CoordAt returns the chunk whose span covers the world point p.
func CoordAt(p mgl32.Vec3, span int) Coord {
	s := float32(span)
	return Coord{X: mathx.FloorDivF(p[0], s), Y: mathx.FloorDivF(p[1], s), Z: mathx.FloorDivF(p[2], s)}
}

// Range is a box of chunk coordinates; Max is exclusive on every axis.
type Range struct {
	Min Coord `json:"min"`
	Max Coord `json:"max"`
}

func (r Range) Empty() bool {
	return r.Max.X <= r.Min.X || r.Max.Y <= r.Min.Y || r.Max.Z <= r.Min.Z
}

func (r Range) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.Max.X - r.Min.X) * (r.Max.Y - r.Min.Y) * (r.Max.Z - r.Min.Z)
}

func (r Range) Contains(c Coord) bool {
	return c.X >= r.Min.X && c.X < r.Max.X &&
		c.Y >= r.Min.Y && c.Y < r.Max.Y &&
		c.Z >= r.Min.Z && c.Z < r.Max.Z
}

// Coords lists the range in x, y, z nesting order.
func (r Range) Coords() []Coord {
	out := make([]Coord, 0, r.Count())
	for x := r.Min.X; x < r.Max.X; x++ {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for z := r.Min.Z; z < r.Max.Z; z++ {
				out = append(out, Coord{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}
