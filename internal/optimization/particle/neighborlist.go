package particle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// NeighborList is the read-only adjacency oracle of a fixed geometry. It is
// derived once from the geometry and never changes during a run, which is
// what bounds the blast radius of a perturbation to a local patch.
type NeighborList struct {
	lists [][]int
}

// NewNeighborList builds a neighbor list from explicit adjacency. The input
// is copied; self-loops are rejected.
func NewNeighborList(lists [][]int) (*NeighborList, error) {
	cp := make([][]int, len(lists))
	for i, nb := range lists {
		for _, j := range nb {
			if j == i {
				return nil, fmt.Errorf("neighborlist: site %d lists itself as neighbor", i)
			}
			if j < 0 || j >= len(lists) {
				return nil, fmt.Errorf("neighborlist: site %d has out-of-range neighbor %d", i, j)
			}
		}
		cp[i] = append([]int(nil), nb...)
	}
	return &NeighborList{lists: cp}, nil
}

// Len returns the number of sites.
func (nl *NeighborList) Len() int {
	return len(nl.lists)
}

// Neighbors returns the first-shell neighbors of the given site. The
// returned slice is owned by the list and must not be modified.
func (nl *NeighborList) Neighbors(site int) []int {
	return nl.lists[site]
}

// CoordinationNumber returns the number of first-shell neighbors of a site.
func (nl *NeighborList) CoordinationNumber(site int) int {
	return len(nl.lists[site])
}

// MaxCoordination returns the largest coordination number in the geometry.
func (nl *NeighborList) MaxCoordination() int {
	max := 0
	for _, nb := range nl.lists {
		if len(nb) > max {
			max = len(nb)
		}
	}
	return max
}

// NBonds returns the number of bonds.
func (nl *NeighborList) NBonds() int {
	n := 0
	for _, nb := range nl.lists {
		n += len(nb)
	}
	return n / 2
}

// RingLattice builds the adjacency of an n-site ring, each site bonded to
// its two cyclic neighbors. Used as a minimal periodic test topology.
func RingLattice(n int) (*NeighborList, error) {
	if n < 3 {
		return nil, fmt.Errorf("neighborlist: ring lattice needs at least 3 sites, got %d", n)
	}
	lists := make([][]int, n)
	for i := 0; i < n; i++ {
		lists[i] = []int{(i - 1 + n) % n, (i + 1) % n}
	}
	return NewNeighborList(lists)
}

// FromPositions constructs adjacency from site positions with a distance
// cutoff. Cell components greater than zero are treated as periodic along
// that axis (minimum-image convention); zero components are open.
func FromPositions(positions []r3.Vec, cell r3.Vec, cutoff float64) (*NeighborList, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("neighborlist: cutoff must be positive, got %v", cutoff)
	}
	lists := make([][]int, len(positions))
	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			if minimumImageDistance(positions[i], positions[j], cell) <= cutoff {
				lists[i] = append(lists[i], j)
				lists[j] = append(lists[j], i)
			}
		}
	}
	return NewNeighborList(lists)
}

func minimumImageDistance(a, b, cell r3.Vec) float64 {
	d := r3.Sub(a, b)
	d.X = minimumImage(d.X, cell.X)
	d.Y = minimumImage(d.Y, cell.Y)
	d.Z = minimumImage(d.Z, cell.Z)
	return r3.Norm(d)
}

func minimumImage(d, l float64) float64 {
	if l <= 0 {
		return d
	}
	return d - l*math.Round(d/l)
}
