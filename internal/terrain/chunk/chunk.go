// Package chunk generates the render mesh and collision mesh of one terrain
// chunk from a seeded noise field.
package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/terrain/kdtree"
	"subair/internal/terrain/mcubes"
	"subair/internal/terrain/mesh"
	"subair/internal/terrain/noise"
)

type Params struct {
	// Size is the number of sample points per axis.
	Size int
	Iso  float32
	// MergeTolerance is a squared distance.
	MergeTolerance float32
	Noise          noise.Params
}

func DefaultParams() Params {
	return Params{
		Size:           32,
		Iso:            0,
		MergeTolerance: mesh.DefaultMergeTolerance,
		Noise:          noise.DefaultParams(),
	}
}

func (p Params) Validate() error {
	if p.Size < 2 {
		return fmt.Errorf("chunk size %d: need at least 2 samples per axis", p.Size)
	}
	if !(p.MergeTolerance > 0) || math.IsInf(float64(p.MergeTolerance), 0) {
		return fmt.Errorf("merge tolerance %v: must be positive and finite", p.MergeTolerance)
	}
	if math.IsNaN(float64(p.Iso)) || math.IsInf(float64(p.Iso), 0) {
		return errors.New("isovalue must be finite")
	}
	return nil
}

// Stats are per-stage timings and counts recorded while generating.
type Stats struct {
	Candidates int
	Vertices   int
	Triangles  int

	Extract   time.Duration
	TreeBuild time.Duration
	Dedup     time.Duration
	Normals   time.Duration
	Total     time.Duration
}

// RemovedPercent is the share of candidate vertices merged away by dedup.
func (s Stats) RemovedPercent() float64 {
	if s.Candidates == 0 {
		return 0
	}
	return float64(s.Candidates-s.Vertices) / float64(s.Candidates) * 100
}

// Artifact is the finished output of one chunk. It is not modified after
// Generate returns.
type Artifact struct {
	Coord    Coord
	Offset   mgl32.Vec3
	Mesh     mesh.Mesh
	Collider mesh.Collider
	Stats    Stats
}

// Digest hashes the mesh arrays so that two generations can be compared bit
// for bit.
func (a *Artifact) Digest() string {
	h := sha256.New()
	var buf [12]byte
	putVec := func(v mgl32.Vec3) {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
		h.Write(buf[:])
	}
	putVec(a.Offset)
	for _, p := range a.Mesh.Positions {
		putVec(p)
	}
	for _, n := range a.Mesh.Normals {
		putVec(n)
	}
	for _, idx := range a.Mesh.Indices {
		binary.LittleEndian.PutUint32(buf[0:], idx)
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Generate runs extraction, dedup and normal estimation for one chunk. It
// touches no shared state and is safe to call from many goroutines.
func Generate(seed uint64, coord Coord, offset mgl32.Vec3, p Params) (Artifact, error) {
	if err := p.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("chunk %s: %w", coord, err)
	}
	start := time.Now()
	field := noise.New(seed, p.Noise)
	var st Stats

	t := time.Now()
	candidates := mcubes.Extract(p.Size, offset, field, p.Iso)
	st.Extract = time.Since(t)
	st.Candidates = len(candidates)

	var m mesh.Mesh
	if len(candidates) > 0 {
		t = time.Now()
		tree := kdtree.Build(candidates)
		st.TreeBuild = time.Since(t)

		t = time.Now()
		m.Positions, m.Indices = mesh.DeduplicateTree(tree, candidates, p.MergeTolerance)
		st.Dedup = time.Since(t)

		t = time.Now()
		m.Normals = mesh.Normals(m.Positions, m.Indices)
		st.Normals = time.Since(t)
	}
	st.Vertices = len(m.Positions)
	st.Triangles = m.TriangleCount()
	st.Total = time.Since(start)

	return Artifact{
		Coord:    coord,
		Offset:   offset,
		Mesh:     m,
		Collider: mesh.NewCollider(&m),
		Stats:    st,
	}, nil
}
