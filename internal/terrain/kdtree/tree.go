// Package kdtree is a static 3D k-d tree over a point list, used to find
// near-coincident vertices.
package kdtree

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

type Axis uint8

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) Next() Axis { return (a + 1) % 3 }

type Kind uint8

const (
	Leaf Kind = iota + 1
	SingleChild
	Branch
)

const none int32 = -1

type node struct {
	point mgl32.Vec3
	index int32
	axis  Axis
	kind  Kind
	// left is the only child of a SingleChild node.
	left, right int32
}

// Tree is immutable once built. Nodes live in one arena and reference their
// children by position.
type Tree struct {
	nodes []node
	root  int32
}

type item struct {
	p   mgl32.Vec3
	idx int32
}

// Build constructs the tree. Each point remembers its position in points.
func Build(points []mgl32.Vec3) *Tree {
	t := &Tree{root: none}
	if len(points) == 0 {
		return t
	}
	items := make([]item, len(points))
	for i, p := range points {
		items[i] = item{p: p, idx: int32(i)}
	}
	t.nodes = make([]node, 0, len(points))
	t.root = t.build(items, X)
	return t
}

func (t *Tree) build(items []item, axis Axis) int32 {
	if len(items) == 1 {
		return t.push(node{point: items[0].p, index: items[0].idx, axis: axis, kind: Leaf, left: none, right: none})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].p[axis] < items[j].p[axis] })
	if len(items) == 2 {
		id := t.push(node{point: items[0].p, index: items[0].idx, axis: axis, kind: SingleChild, left: none, right: none})
		child := t.push(node{point: items[1].p, index: items[1].idx, axis: axis.Next(), kind: Leaf, left: none, right: none})
		t.nodes[id].left = child
		return id
	}
	mid := len(items) / 2
	id := t.push(node{point: items[mid].p, index: items[mid].idx, axis: axis, kind: Branch, left: none, right: none})
	left := t.build(items[:mid], axis.Next())
	right := t.build(items[mid+1:], axis.Next())
	t.nodes[id].left = left
	t.nodes[id].right = right
	return id
}

func (t *Tree) push(n node) int32 {
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

func (t *Tree) Len() int { return len(t.nodes) }

// Depth is the number of nodes on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if t.root == none {
		return 0
	}
	var depth func(id int32) int
	depth = func(id int32) int {
		if id == none {
			return 0
		}
		n := t.nodes[id]
		return 1 + max(depth(n.left), depth(n.right))
	}
	return depth(t.root)
}

// InRange calls fn for every stored point whose squared distance to q is below
// radius*radius. Call order is unspecified.
func (t *Tree) InRange(q mgl32.Vec3, radius float32, fn func(p mgl32.Vec3, index int)) {
	if t.root == none {
		return
	}
	r2 := radius * radius
	stack := []int32{t.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]

		d := n.point.Sub(q)
		if d.Dot(d) < r2 {
			fn(n.point, int(n.index))
		}

		switch n.kind {
		case SingleChild:
			// Only a leaf hangs below; always visit it.
			stack = append(stack, n.left)
		case Branch:
			split := n.point[n.axis] - q[n.axis]
			switch {
			case split < radius && split > -radius:
				stack = append(stack, n.right, n.left)
			case split > 0:
				stack = append(stack, n.left)
			default:
				stack = append(stack, n.right)
			}
		}
	}
}
