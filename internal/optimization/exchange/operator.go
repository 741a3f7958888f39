// Package exchange implements the operators that select which sites to
// perturb: a uniform random exchange operator for the annealed Monte Carlo
// driver and a guided operator that steers basin hopping toward low-energy
// exchanges using a cached per-site bias.
package exchange

import (
	"math/rand"
	"sort"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// RandomExchangeOperator picks two occupied sites of differing species
// uniformly at random and swaps them. Species membership is tracked
// incrementally so that every pick is O(1).
type RandomExchangeOperator struct {
	rng     *rand.Rand
	symbols [2]string

	// Site lists per species and each site's position within its list
	sites     [2][]int
	posInList map[int]int
	species   map[int]int
}

// NewRandomExchangeOperator creates an operator drawing from the given
// generator.
func NewRandomExchangeOperator(rng *rand.Rand) *RandomExchangeOperator {
	return &RandomExchangeOperator{rng: rng}
}

// Bind initializes the species-membership bookkeeping for the whole
// configuration. O(N) one-time cost, called once at the start of a run.
func (op *RandomExchangeOperator) Bind(p *particle.Particle) error {
	symbols := p.AllSymbols()
	if len(symbols) > 2 {
		return optimization.NewErrorf("exchange supports two species, configuration has %d", len(symbols)).
			WithComponent("exchange_operator").WithOperation("Bind")
	}

	op.sites = [2][]int{}
	op.posInList = make(map[int]int)
	op.species = make(map[int]int)
	for i, s := range symbols {
		op.symbols[i] = s
		for _, site := range p.IndicesBySymbol(s) {
			op.posInList[site] = len(op.sites[i])
			op.species[site] = i
			op.sites[i] = append(op.sites[i], site)
		}
	}
	return nil
}

// RandomExchange picks a uniform random pair of sites of differing species,
// applies the swap to the particle, and returns the exchanged pairs. It
// signals ErrExhaustedMoveSpace when no valid pair exists.
func (op *RandomExchangeOperator) RandomExchange(p *particle.Particle) ([][2]int, error) {
	if len(op.sites[0]) == 0 || len(op.sites[1]) == 0 {
		return nil, optimization.WrapError(optimization.ErrExhaustedMoveSpace,
			"exchange requires two occupied species").WithComponent("exchange_operator")
	}

	site1 := op.sites[0][op.rng.Intn(len(op.sites[0]))]
	site2 := op.sites[1][op.rng.Intn(len(op.sites[1]))]

	exchanges := [][2]int{{site1, site2}}
	p.SwapSymbols(exchanges)
	op.swapMembership(site1, site2)
	return exchanges, nil
}

// Revert rolls back exchanges previously returned by RandomExchange,
// restoring both the particle ordering and the membership bookkeeping.
func (op *RandomExchangeOperator) Revert(p *particle.Particle, exchanges [][2]int) {
	p.SwapSymbols(exchanges)
	for _, pair := range exchanges {
		op.swapMembership(pair[0], pair[1])
	}
}

func (op *RandomExchangeOperator) swapMembership(site1, site2 int) {
	i1, i2 := op.species[site1], op.species[site2]
	p1, p2 := op.posInList[site1], op.posInList[site2]
	op.sites[i1][p1], op.sites[i2][p2] = site2, site1
	op.posInList[site1], op.posInList[site2] = p2, p1
	op.species[site1], op.species[site2] = i2, i1
}

// GuidedExchangeOperator selects exchange pairs using cached per-site flip
// energies: for each site, the energy change predicted by the linear
// environment model if that site's species were exchanged. The cache is
// initialized once and refreshed only for the neighborhood of a committed
// move, never globally.
type GuidedExchangeOperator struct {
	rng          *rand.Rand
	classifier   *features.TopologicalClassifier
	coefficients []float64
	symbols      [2]string

	// Per species: site -> predicted flip energy
	exchangeEnergies [2]map[int]float64
}

// NewGuidedExchangeOperator creates a guided operator biased by the given
// per-class environment energies.
func NewGuidedExchangeOperator(classifier *features.TopologicalClassifier, coefficients []float64, rng *rand.Rand) (*GuidedExchangeOperator, error) {
	if len(coefficients) != classifier.NFeatures() {
		return nil, optimization.NewErrorf("got %d environment energies, classifier has %d classes",
			len(coefficients), classifier.NFeatures()).
			WithComponent("guided_operator").WithOperation("New")
	}
	return &GuidedExchangeOperator{
		rng:          rng,
		classifier:   classifier,
		coefficients: append([]float64(nil), coefficients...),
		symbols:      classifier.Symbols(),
	}, nil
}

// Bind initializes the per-site bias cache for the whole configuration.
// O(N) one-time cost, called once at the start of a run.
func (op *GuidedExchangeOperator) Bind(p *particle.Particle) error {
	op.exchangeEnergies = [2]map[int]float64{
		make(map[int]float64),
		make(map[int]float64),
	}
	for site := 0; site < p.NSites(); site++ {
		idx, ok := op.speciesIndex(p.Symbol(site))
		if !ok {
			continue
		}
		flip, err := op.flipEnergy(p, site)
		if err != nil {
			return err
		}
		op.exchangeEnergies[idx][site] = flip
	}
	return nil
}

// GuidedExchange picks the pair of sites whose cached flip energies predict
// the largest energy decrease, ties broken by lowest site index, applies the
// swap, and returns the pair.
func (op *GuidedExchangeOperator) GuidedExchange(p *particle.Particle) ([2]int, error) {
	site1, ok1 := argminSite(op.exchangeEnergies[0])
	site2, ok2 := argminSite(op.exchangeEnergies[1])
	if !ok1 || !ok2 {
		return [2]int{}, optimization.WrapError(optimization.ErrExhaustedMoveSpace,
			"exchange requires two occupied species").WithComponent("guided_operator")
	}

	pair := [2]int{site1, site2}
	p.SwapSymbols([][2]int{pair})
	return pair, nil
}

// BasinHopStep picks a uniform random pair of sites of differing species,
// applies the swap, and returns the pair. Used for the unconditional hop
// phase.
func (op *GuidedExchangeOperator) BasinHopStep(p *particle.Particle) ([2]int, error) {
	if len(op.exchangeEnergies[0]) == 0 || len(op.exchangeEnergies[1]) == 0 {
		return [2]int{}, optimization.WrapError(optimization.ErrExhaustedMoveSpace,
			"exchange requires two occupied species").WithComponent("guided_operator")
	}

	pair := [2]int{
		randomSite(op.exchangeEnergies[0], op.rng),
		randomSite(op.exchangeEnergies[1], op.rng),
	}
	p.SwapSymbols([][2]int{pair})
	return pair, nil
}

// PredictedChange returns the cached energy change predicted for the given
// exchange pair. Valid between the exchange and the Update that follows it.
func (op *GuidedExchangeOperator) PredictedChange(pair [2]int) float64 {
	return op.exchangeEnergies[0][pair[0]] + op.exchangeEnergies[1][pair[1]]
}

// Update refreshes the bias cache for exactly the sites in neighborhood
// after a committed move, moving sites between the per-species maps as
// their species changed. Never recomputes the whole configuration.
func (op *GuidedExchangeOperator) Update(p *particle.Particle, neighborhood []int, exchanged []int) error {
	for _, site := range neighborhood {
		idx, ok := op.speciesIndex(p.Symbol(site))
		if !ok {
			continue
		}
		delete(op.exchangeEnergies[1-idx], site)
		flip, err := op.flipEnergy(p, site)
		if err != nil {
			return err
		}
		op.exchangeEnergies[idx][site] = flip
	}
	return nil
}

// flipEnergy predicts the energy change of exchanging the species at one
// site, accounting for the class shift of the site itself and of each of
// its neighbors under the linear environment model.
func (op *GuidedExchangeOperator) flipEnergy(p *particle.Particle, site int) (float64, error) {
	symbol := p.Symbol(site)
	other := op.symbols[0]
	shift := 1 // neighbors gain one first-species neighbor when site flips to it
	if symbol == op.symbols[0] {
		other = op.symbols[1]
		shift = -1
	}

	nFirst := op.countFirst(p, site)
	current, err := op.classifier.ClassIndex(symbol, nFirst)
	if err != nil {
		return 0, err
	}
	flipped, err := op.classifier.ClassIndex(other, nFirst)
	if err != nil {
		return 0, err
	}
	delta := op.coefficients[flipped] - op.coefficients[current]

	for _, nb := range p.Neighbors(site) {
		nbSymbol := p.Symbol(nb)
		if _, ok := op.speciesIndex(nbSymbol); !ok {
			continue
		}
		nbFirst := op.countFirst(p, nb)
		before, err := op.classifier.ClassIndex(nbSymbol, nbFirst)
		if err != nil {
			return 0, err
		}
		after, err := op.classifier.ClassIndex(nbSymbol, nbFirst+shift)
		if err != nil {
			return 0, err
		}
		delta += op.coefficients[after] - op.coefficients[before]
	}
	return delta, nil
}

func (op *GuidedExchangeOperator) countFirst(p *particle.Particle, site int) int {
	n := 0
	for _, nb := range p.Neighbors(site) {
		if p.Symbol(nb) == op.symbols[0] {
			n++
		}
	}
	return n
}

func (op *GuidedExchangeOperator) speciesIndex(symbol string) (int, bool) {
	switch symbol {
	case op.symbols[0]:
		return 0, true
	case op.symbols[1]:
		return 1, true
	default:
		return 0, false
	}
}

// argminSite returns the site with the lowest cached flip energy, ties
// broken by lowest site index so that runs are reproducible under a fixed
// seed.
func argminSite(energies map[int]float64) (int, bool) {
	best, bestSite, found := 0.0, 0, false
	for site, e := range energies {
		if !found || e < best || (e == best && site < bestSite) {
			best, bestSite, found = e, site, true
		}
	}
	return bestSite, found
}

// randomSite picks a uniform random site from the cache. Keys are sorted
// first so the draw depends only on the generator state, not map order.
func randomSite(energies map[int]float64, rng *rand.Rand) int {
	sites := make([]int, 0, len(energies))
	for site := range energies {
		sites = append(sites, site)
	}
	sort.Ints(sites)
	return sites[rng.Intn(len(sites))]
}
