// Package kdtree is a k-d tree for nearest neighbour and range queries over fixed dimension points.
//
// Trees are built once, queried, and thrown away. Insert does not rebalance, so a tree grown
// point by point should only live for the duration of one call.
package kdtree

import (
	"fmt"
	"math"
)

// Point is anything with k coordinates.
type Point interface {
	Coord(dim int) float64
}

// coincident is the squared distance below which two points are treated as the same point.
const coincident = 1e-18

type node[T Point] struct {
	value       T
	left, right *node[T]
}

// Tree owns all of its nodes; no node is reachable from outside.
type Tree[T Point] struct {
	k    int
	root *node[T]
	size int
}

// New returns an empty tree of dimensionality k.
func New[T Point](k int) *Tree[T] {
	if k <= 0 {
		panic(fmt.Errorf("kdtree dimensionality must be positive, got %d", k))
	}
	return &Tree[T]{k: k}
}

// Construct builds a near balanced tree by splitting on the median of dimension depth%k.
// points is copied; the caller keeps ownership of its slice.
func Construct[T Point](k int, points []T) *Tree[T] {
	t := New[T](k)
	work := make([]T, len(points))
	copy(work, points)
	t.root = t.build(work, 0)
	t.size = len(points)
	return t
}

func (t *Tree[T]) build(points []T, depth int) *node[T] {
	if len(points) == 0 {
		return nil
	}
	dim := depth % t.k
	mid := len(points) / 2
	selectNth(points, mid, dim)

	n := &node[T]{value: points[mid]}
	n.left = t.build(points[:mid], depth+1)
	n.right = t.build(points[mid+1:], depth+1)
	return n
}

// selectNth reorders points so points[n] holds the value a full sort on dim would put there,
// with nothing greater before it and nothing smaller after it.
func selectNth[T Point](points []T, n, dim int) {
	lo, hi := 0, len(points)-1
	for lo < hi {
		pivot := points[lo+(hi-lo)/2].Coord(dim)
		i, j := lo, hi
		for i <= j {
			for points[i].Coord(dim) < pivot {
				i++
			}
			for points[j].Coord(dim) > pivot {
				j--
			}
			if i <= j {
				points[i], points[j] = points[j], points[i]
				i++
				j--
			}
		}
		switch {
		case n <= j:
			hi = j
		case n >= i:
			lo = i
		default:
			return
		}
	}
}

func (t *Tree[T]) Len() int {
	return t.size
}

// Insert appends p without rebalancing. Ties go left.
func (t *Tree[T]) Insert(p T) {
	t.size++
	if t.root == nil {
		t.root = &node[T]{value: p}
		return
	}
	n := t.root
	for depth := 0; ; depth++ {
		dim := depth % t.k
		if !(p.Coord(dim) > n.value.Coord(dim)) {
			if n.left == nil {
				n.left = &node[T]{value: p}
				return
			}
			n = n.left
		} else {
			if n.right == nil {
				n.right = &node[T]{value: p}
				return
			}
			n = n.right
		}
	}
}

func (t *Tree[T]) distanceSquared(a, b Point) float64 {
	sum := 0.0
	for d := 0; d < t.k; d++ {
		diff := a.Coord(d) - b.Coord(d)
		sum += diff * diff
	}
	return sum
}

type nearestSearch[T Point] struct {
	tree            *Tree[T]
	query           Point
	allowCoincident bool
	best            T
	bestDistSquared float64
	found           bool
}

func (s *nearestSearch[T]) visit(n *node[T], depth int) {
	if n == nil {
		return
	}
	d2 := s.tree.distanceSquared(n.value, s.query)
	if (s.allowCoincident || d2 > coincident) && d2 < s.bestDistSquared {
		s.best = n.value
		s.bestDistSquared = d2
		s.found = true
	}

	dim := depth % s.tree.k
	delta := s.query.Coord(dim) - n.value.Coord(dim)
	near, far := n.right, n.left
	if delta < 0 {
		near, far = n.left, n.right
	}

	s.visit(near, depth+1)
	if delta*delta < s.bestDistSquared {
		s.visit(far, depth+1)
	}
}

// Nearest returns the stored point closest to q, never a point coincident with q.
// ok is false when the tree holds nothing but q.
func (t *Tree[T]) Nearest(q Point) (T, bool) {
	return t.nearest(q, false)
}

// Closest is Nearest without the coincident exclusion: a stored copy of q is its own answer.
// Registration uses it, as a model point sitting exactly on a scene point is a perfect match.
func (t *Tree[T]) Closest(q Point) (T, bool) {
	return t.nearest(q, true)
}

func (t *Tree[T]) nearest(q Point, allowCoincident bool) (T, bool) {
	s := &nearestSearch[T]{
		tree:            t,
		query:           q,
		allowCoincident: allowCoincident,
		bestDistSquared: math.Inf(1),
	}
	s.visit(t.root, 0)
	return s.best, s.found
}

// RangeQuery returns every stored point strictly closer than radius to q, excluding points coincident with q.
func (t *Tree[T]) RangeQuery(q Point, radius float64) []T {
	var out []T
	t.rangeVisit(t.root, 0, q, radius*radius, func(v T, d2 float64) bool {
		if d2 > coincident {
			out = append(out, v)
		}
		return true
	})
	return out
}

// AnyWithin reports whether some stored point, coincident ones included, is strictly closer than radius to q.
func (t *Tree[T]) AnyWithin(q Point, radius float64) bool {
	found := false
	t.rangeVisit(t.root, 0, q, radius*radius, func(T, float64) bool {
		found = true
		return false
	})
	return found
}

// rangeVisit calls fn for each point within r2 (squared radius); fn returning false stops the walk.
func (t *Tree[T]) rangeVisit(n *node[T], depth int, q Point, r2 float64, fn func(T, float64) bool) bool {
	if n == nil {
		return true
	}
	d2 := t.distanceSquared(n.value, q)
	if d2 < r2 {
		if !fn(n.value, d2) {
			return false
		}
	}

	dim := depth % t.k
	delta := q.Coord(dim) - n.value.Coord(dim)
	near, far := n.right, n.left
	if delta < 0 {
		near, far = n.left, n.right
	}

	if !t.rangeVisit(near, depth+1, q, r2, fn) {
		return false
	}
	if delta*delta < r2 {
		return t.rangeVisit(far, depth+1, q, r2, fn)
	}
	return true
}

// Walk visits every stored point in no particular order.
func (t *Tree[T]) Walk(fn func(T)) {
	stack := []*node[T]{}
	if t.root != nil {
		stack = append(stack, t.root)
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n.value)
		if n.left != nil {
			stack = append(stack, n.left)
		}
		if n.right != nil {
			stack = append(stack, n.right)
		}
	}
}
