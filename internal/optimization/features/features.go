// Package features implements the incremental feature updater: given the
// sites touched by a move, it refreshes only the affected neighborhood's
// cached features and provides an exact snapshot-based undo path.
package features

import (
	"sort"

	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// AtomSnapshot maps each site whose feature class changed during an update
// to its prior class. Restoring it verbatim is the first half of a rollback.
type AtomSnapshot map[int]int

// VectorChange describes which feature-vector bins an update touched and
// their prior values. Restoring the prior values verbatim, rather than
// reversing the arithmetic, is what makes a rollback bit-identical.
type VectorChange struct {
	// Bins touched by the update, in ascending order.
	Bins []int
	// Old holds the prior value of each touched bin.
	Old map[int]float64
}

// Classifier is the feature-model capability consumed by the drivers. A
// classifier owns one feature key on the particle and keeps the per-site
// classes and the whole-configuration vector under that key consistent.
type Classifier interface {
	// FeatureKey returns the key under which this model caches its features.
	FeatureKey() particle.FeatureKey

	// NFeatures returns the dimension of the feature vector.
	NFeatures() int

	// ComputeFeatureVector computes all per-site classes and the feature
	// vector from scratch. O(N); called once per run at initialization.
	ComputeFeatureVector(p *particle.Particle) error

	// UpdateFeatureVector recomputes the cached features for exactly the
	// sites in neighborhood, mutating the particle's caches in place, and
	// returns the snapshots needed to reverse the update exactly.
	UpdateFeatureVector(p *particle.Particle, neighborhood []int) (AtomSnapshot, VectorChange, error)

	// DowngradeFeatureVector restores the prior snapshots verbatim. It is
	// the exact inverse of UpdateFeatureVector for the same neighborhood.
	DowngradeFeatureVector(p *particle.Particle, neighborhood []int, old AtomSnapshot, change VectorChange) error
}

// FeaturesToUpdate returns the set of sites whose cached features can change
// after the given exchanges: the union of each exchange's participating
// sites and their first-shell neighbors, in ascending order. This bounds all
// later recomputation to a local patch instead of the full configuration.
func FeaturesToUpdate(p *particle.Particle, exchanges [][2]int) []int {
	seen := make(map[int]bool)
	for _, exchange := range exchanges {
		for _, site := range exchange {
			seen[site] = true
			for _, nb := range p.Neighbors(site) {
				seen[nb] = true
			}
		}
	}

	neighborhood := make([]int, 0, len(seen))
	for site := range seen {
		neighborhood = append(neighborhood, site)
	}
	sort.Ints(neighborhood)
	return neighborhood
}
