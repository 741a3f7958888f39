package features

import (
	"fmt"

	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// TopologicalClassifier assigns each atom of a two-species particle a class
// determined by its own species and the number of first-species atoms among
// its neighbors. The feature vector is the class histogram, so any energy
// model linear in bond counts is exactly linear in this basis.
type TopologicalClassifier struct {
	key     particle.FeatureKey
	symbols [2]string
	maxCN   int
}

// NewTopologicalClassifier creates a classifier for the two given species on
// the given geometry. Symbols are ordered lexicographically so that the
// class layout is independent of argument order.
func NewTopologicalClassifier(symbolA, symbolB string, nl *particle.NeighborList) (*TopologicalClassifier, error) {
	if symbolA == symbolB {
		return nil, fmt.Errorf("topological: need two distinct species, got %q twice", symbolA)
	}
	if symbolA > symbolB {
		symbolA, symbolB = symbolB, symbolA
	}
	return &TopologicalClassifier{
		key:     particle.FeatureTopological,
		symbols: [2]string{symbolA, symbolB},
		maxCN:   nl.MaxCoordination(),
	}, nil
}

// FeatureKey returns the key under which this model caches its features.
func (c *TopologicalClassifier) FeatureKey() particle.FeatureKey {
	return c.key
}

// NFeatures returns the dimension of the feature vector: one class per
// (species, count-of-first-species-neighbors) combination.
func (c *TopologicalClassifier) NFeatures() int {
	return 2 * (c.maxCN + 1)
}

// Symbols returns the two species in class-layout order.
func (c *TopologicalClassifier) Symbols() [2]string {
	return c.symbols
}

// ClassIndex returns the feature class of an atom of the given species with
// the given number of first-species neighbors.
func (c *TopologicalClassifier) ClassIndex(symbol string, nFirst int) (int, error) {
	switch symbol {
	case c.symbols[0]:
		return nFirst, nil
	case c.symbols[1]:
		return c.maxCN + 1 + nFirst, nil
	default:
		return 0, fmt.Errorf("topological: unknown species %q", symbol)
	}
}

// Class computes the feature class of the given site from the current
// ordering. It does not consult the cache.
func (c *TopologicalClassifier) Class(p *particle.Particle, site int) (int, error) {
	nFirst := 0
	for _, nb := range p.Neighbors(site) {
		if p.Symbol(nb) == c.symbols[0] {
			nFirst++
		}
	}
	return c.ClassIndex(p.Symbol(site), nFirst)
}

// ComputeFeatureVector computes all per-site classes and the class histogram
// from scratch and installs them on the particle. O(N); init only.
func (c *TopologicalClassifier) ComputeFeatureVector(p *particle.Particle) error {
	n := p.NSites()
	classes := make([]int, n)
	vector := make([]float64, c.NFeatures())

	for site := 0; site < n; site++ {
		class, err := c.Class(p, site)
		if err != nil {
			return err
		}
		classes[site] = class
		vector[class]++
	}

	p.SetAtomFeatures(c.key, classes)
	p.SetFeatureVector(c.key, vector)
	return nil
}

// UpdateFeatureVector recomputes the class of exactly the sites in
// neighborhood and patches the histogram accordingly. The returned snapshots
// hold the prior per-site classes and the prior values of every touched bin.
func (c *TopologicalClassifier) UpdateFeatureVector(p *particle.Particle, neighborhood []int) (AtomSnapshot, VectorChange, error) {
	classes, err := p.AtomFeatures(c.key)
	if err != nil {
		return nil, VectorChange{}, err
	}
	vector, err := p.FeatureVector(c.key)
	if err != nil {
		return nil, VectorChange{}, err
	}

	old := make(AtomSnapshot)
	change := VectorChange{Old: make(map[int]float64)}

	touch := func(bin int) {
		if _, ok := change.Old[bin]; !ok {
			change.Old[bin] = vector[bin]
			change.Bins = insertSorted(change.Bins, bin)
		}
	}

	for _, site := range neighborhood {
		class, err := c.Class(p, site)
		if err != nil {
			return nil, VectorChange{}, err
		}
		prior := classes[site]
		if class == prior {
			continue
		}
		old[site] = prior
		touch(prior)
		touch(class)
		vector[prior]--
		vector[class]++
		classes[site] = class
	}

	return old, change, nil
}

// DowngradeFeatureVector restores the snapshots taken by UpdateFeatureVector
// verbatim, making the caches bit-identical to their pre-update state.
func (c *TopologicalClassifier) DowngradeFeatureVector(p *particle.Particle, neighborhood []int, old AtomSnapshot, change VectorChange) error {
	classes, err := p.AtomFeatures(c.key)
	if err != nil {
		return err
	}
	vector, err := p.FeatureVector(c.key)
	if err != nil {
		return err
	}

	for site, class := range old {
		classes[site] = class
	}
	for _, bin := range change.Bins {
		vector[bin] = change.Old[bin]
	}
	return nil
}

func insertSorted(bins []int, bin int) []int {
	i := 0
	for i < len(bins) && bins[i] < bin {
		i++
	}
	bins = append(bins, 0)
	copy(bins[i+1:], bins[i:])
	bins[i] = bin
	return bins
}
