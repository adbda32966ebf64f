package mesh

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"subair/internal/terrain/kdtree"
)

// DefaultMergeTolerance is the squared distance under which two candidate
// vertices are the same point.
const DefaultMergeTolerance = 1e-7

// Deduplicate merges candidates closer than sqrt(tolSq) to one another.
// Positions keep first-occurrence order; indices maps each candidate to its
// output vertex. The merge is not transitive: a chain of points each within
// tolerance of the next can straddle several output vertices.
func Deduplicate(candidates []mgl32.Vec3, tolSq float32) ([]mgl32.Vec3, []uint32) {
	if len(candidates) == 0 {
		return nil, nil
	}
	return DeduplicateTree(kdtree.Build(candidates), candidates, tolSq)
}

// DeduplicateTree is Deduplicate over a tree already built from candidates.
func DeduplicateTree(tree *kdtree.Tree, candidates []mgl32.Vec3, tolSq float32) ([]mgl32.Vec3, []uint32) {
	if len(candidates) == 0 {
		return nil, nil
	}
	radius := float32(math.Sqrt(float64(tolSq)))

	const unassigned = math.MaxUint32
	indices := make([]uint32, len(candidates))
	for i := range indices {
		indices[i] = unassigned
	}
	var positions []mgl32.Vec3

	for i, p := range candidates {
		if indices[i] != unassigned {
			continue
		}
		out := uint32(len(positions))
		positions = append(positions, p)
		indices[i] = out
		tree.InRange(p, radius, func(_ mgl32.Vec3, idx int) {
			indices[idx] = out
		})
	}

	for i, idx := range indices {
		if idx == unassigned {
			panic(fmt.Sprintf("mesh: candidate %d at %v was never assigned a vertex", i, candidates[i]))
		}
	}
	return positions, indices
}
