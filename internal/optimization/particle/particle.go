// Package particle holds the mutable configuration state shared by the
// ordering-search drivers: the species assignment over fixed sites plus the
// cached per-site features and scalar energies derived from it.
package particle

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// EnergyKey identifies the energy model that produced a cached scalar energy.
// Lookups by key are checked operations, not bare map reads.
type EnergyKey string

// Energy model identities used across the repository.
const (
	EnergyRidge  EnergyKey = "ridge"
	EnergyGPR    EnergyKey = "gpr"
	EnergyMixing EnergyKey = "mixing"
)

// FeatureKey identifies the feature model that produced cached per-site
// feature classes and the whole-configuration feature vector.
type FeatureKey string

// FeatureTopological is the key of the topological feature classifier.
const FeatureTopological FeatureKey = "topological"

// Vacancy is the species label of an unoccupied site.
const Vacancy = "X"

// Particle is the full mutable state of a species ordering on a fixed
// geometry. A run owns exactly one Particle for its lifetime; it is mutated
// in place by the active driver and never shared across goroutines.
type Particle struct {
	symbols   []string
	neighbors *NeighborList

	positions []r3.Vec
	cell      r3.Vec

	energies       map[EnergyKey]float64
	atomFeatures   map[FeatureKey][]int
	featureVectors map[FeatureKey][]float64
}

// New creates a particle with the given species assignment and adjacency.
// The neighbor list is read-only and may be shared between particles with
// different orderings of the same geometry.
func New(symbols []string, neighbors *NeighborList) (*Particle, error) {
	if neighbors == nil {
		return nil, fmt.Errorf("particle: neighbor list must not be nil")
	}
	if len(symbols) != neighbors.Len() {
		return nil, fmt.Errorf("particle: %d symbols for %d sites", len(symbols), neighbors.Len())
	}
	return &Particle{
		symbols:        append([]string(nil), symbols...),
		neighbors:      neighbors,
		energies:       make(map[EnergyKey]float64),
		atomFeatures:   make(map[FeatureKey][]int),
		featureVectors: make(map[FeatureKey][]float64),
	}, nil
}

// SetGeometry attaches site positions and an orthorhombic periodic cell.
// Positions are only required by insertion and displacement moves.
func (p *Particle) SetGeometry(positions []r3.Vec, cell r3.Vec) error {
	if len(positions) != len(p.symbols) {
		return fmt.Errorf("particle: %d positions for %d sites", len(positions), len(p.symbols))
	}
	p.positions = append([]r3.Vec(nil), positions...)
	p.cell = cell
	return nil
}

// NSites returns the number of sites.
func (p *Particle) NSites() int {
	return len(p.symbols)
}

// Symbol returns the species at the given site.
func (p *Particle) Symbol(site int) string {
	return p.symbols[site]
}

// SetSymbol assigns the species at the given site.
func (p *Particle) SetSymbol(site int, symbol string) {
	p.symbols[site] = symbol
}

// Symbols returns a copy of the species assignment.
func (p *Particle) Symbols() []string {
	return append([]string(nil), p.symbols...)
}

// SwapSymbols exchanges the species of each site pair. Applying the same
// pairs twice restores the original ordering, which is how rejected exchange
// moves are rolled back.
func (p *Particle) SwapSymbols(pairs [][2]int) {
	for _, pair := range pairs {
		p.symbols[pair[0]], p.symbols[pair[1]] = p.symbols[pair[1]], p.symbols[pair[0]]
	}
}

// IndicesBySymbol returns the sites currently occupied by the given species,
// in ascending site order.
func (p *Particle) IndicesBySymbol(symbol string) []int {
	var indices []int
	for i, s := range p.symbols {
		if s == symbol {
			indices = append(indices, i)
		}
	}
	return indices
}

// AllSymbols returns the distinct species that occur at least once,
// excluding vacancies, in lexicographic order.
func (p *Particle) AllSymbols() []string {
	seen := make(map[string]bool)
	for _, s := range p.symbols {
		if s != Vacancy {
			seen[s] = true
		}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Stoichiometry returns the number of atoms per species, vacancies included.
func (p *Particle) Stoichiometry() map[string]int {
	counts := make(map[string]int)
	for _, s := range p.symbols {
		counts[s]++
	}
	return counts
}

// IsPure reports whether the particle is composed of a single species.
func (p *Particle) IsPure() bool {
	return len(p.AllSymbols()) <= 1
}

// RandomOrdering assigns a random chemical ordering with the given
// stoichiometry. Counts must sum to the number of sites.
func (p *Particle) RandomOrdering(stoichiometry map[string]int, rng *rand.Rand) error {
	total := 0
	for _, n := range stoichiometry {
		total += n
	}
	if total != len(p.symbols) {
		return fmt.Errorf("particle: stoichiometry covers %d of %d sites", total, len(p.symbols))
	}

	// Deterministic fill order so that equal seeds give equal orderings.
	species := make([]string, 0, len(stoichiometry))
	for s := range stoichiometry {
		species = append(species, s)
	}
	sort.Strings(species)

	i := 0
	for _, s := range species {
		for n := 0; n < stoichiometry[s]; n++ {
			p.symbols[i] = s
			i++
		}
	}
	rng.Shuffle(len(p.symbols), func(a, b int) {
		p.symbols[a], p.symbols[b] = p.symbols[b], p.symbols[a]
	})
	return nil
}

// Neighbors returns the fixed adjacency of the given site.
func (p *Particle) Neighbors(site int) []int {
	return p.neighbors.Neighbors(site)
}

// NeighborList returns the read-only adjacency oracle.
func (p *Particle) NeighborList() *NeighborList {
	return p.neighbors
}

// Energy returns the cached energy of the given model.
func (p *Particle) Energy(key EnergyKey) (float64, error) {
	e, ok := p.energies[key]
	if !ok {
		return 0, fmt.Errorf("particle: no energy cached for model %q", key)
	}
	return e, nil
}

// SetEnergy caches the energy of the given model.
func (p *Particle) SetEnergy(key EnergyKey, energy float64) {
	p.energies[key] = energy
}

// HasEnergy reports whether an energy is cached for the given model.
func (p *Particle) HasEnergy(key EnergyKey) bool {
	_, ok := p.energies[key]
	return ok
}

// AtomFeatures returns the per-site feature classes of the given model.
// The returned slice is the live cache; it is mutated by the incremental
// feature updater and must not be retained across steps.
func (p *Particle) AtomFeatures(key FeatureKey) ([]int, error) {
	f, ok := p.atomFeatures[key]
	if !ok {
		return nil, fmt.Errorf("particle: no atom features cached for model %q", key)
	}
	return f, nil
}

// SetAtomFeatures caches the per-site feature classes of the given model.
func (p *Particle) SetAtomFeatures(key FeatureKey, features []int) {
	p.atomFeatures[key] = features
}

// AtomFeature returns the cached feature class of one site.
func (p *Particle) AtomFeature(key FeatureKey, site int) (int, error) {
	f, err := p.AtomFeatures(key)
	if err != nil {
		return 0, err
	}
	return f[site], nil
}

// SetAtomFeature assigns the cached feature class of one site.
func (p *Particle) SetAtomFeature(key FeatureKey, site, class int) error {
	f, err := p.AtomFeatures(key)
	if err != nil {
		return err
	}
	f[site] = class
	return nil
}

// FeatureVector returns the cached whole-configuration feature vector of the
// given model. The returned slice is the live cache.
func (p *Particle) FeatureVector(key FeatureKey) ([]float64, error) {
	v, ok := p.featureVectors[key]
	if !ok {
		return nil, fmt.Errorf("particle: no feature vector cached for model %q", key)
	}
	return v, nil
}

// SetFeatureVector caches the whole-configuration feature vector of the
// given model.
func (p *Particle) SetFeatureVector(key FeatureKey, vector []float64) {
	p.featureVectors[key] = vector
}

// Position returns the position of the given site.
func (p *Particle) Position(site int) r3.Vec {
	return p.positions[site]
}

// SetPosition assigns the position of the given site.
func (p *Particle) SetPosition(site int, pos r3.Vec) {
	p.positions[site] = pos
}

// HasGeometry reports whether site positions are attached.
func (p *Particle) HasGeometry() bool {
	return p.positions != nil
}

// Cell returns the orthorhombic periodic cell, zero if none was set.
func (p *Particle) Cell() r3.Vec {
	return p.cell
}

// AppendSite adds one atom of the given species at the given position and
// returns its site index. The neighbor list is not extended; callers that
// insert atoms must reconstruct adjacency before relying on it.
func (p *Particle) AppendSite(symbol string, pos r3.Vec) int {
	p.symbols = append(p.symbols, symbol)
	p.positions = append(p.positions, pos)
	return len(p.symbols) - 1
}

// RemoveSite deletes the atom at the given site and returns its species and
// position, which together are sufficient to reverse the removal. Sites
// after the removed one shift down by one index.
func (p *Particle) RemoveSite(site int) (string, r3.Vec) {
	symbol := p.symbols[site]
	var pos r3.Vec
	if p.positions != nil {
		pos = p.positions[site]
		p.positions = append(p.positions[:site], p.positions[site+1:]...)
	}
	p.symbols = append(p.symbols[:site], p.symbols[site+1:]...)
	return symbol, pos
}

// DeepCopy returns an independent copy of the particle, including all cached
// energies and features. The neighbor list is shared: it is immutable once
// the geometry is fixed. Taken rarely, at best-so-far checkpoints.
func (p *Particle) DeepCopy() *Particle {
	cp := &Particle{
		symbols:        append([]string(nil), p.symbols...),
		neighbors:      p.neighbors,
		cell:           p.cell,
		energies:       make(map[EnergyKey]float64, len(p.energies)),
		atomFeatures:   make(map[FeatureKey][]int, len(p.atomFeatures)),
		featureVectors: make(map[FeatureKey][]float64, len(p.featureVectors)),
	}
	if p.positions != nil {
		cp.positions = append([]r3.Vec(nil), p.positions...)
	}
	for k, v := range p.energies {
		cp.energies[k] = v
	}
	for k, v := range p.atomFeatures {
		cp.atomFeatures[k] = append([]int(nil), v...)
	}
	for k, v := range p.featureVectors {
		cp.featureVectors[k] = append([]float64(nil), v...)
	}
	return cp
}
