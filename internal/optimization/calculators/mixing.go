package calculators

import (
	"errors"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// MixingEnergyCalculator derives the mixing energy from a base energy model
// by subtracting, per species, the pure-particle reference energy weighted
// by that species' fraction of the composition.
type MixingEnergyCalculator struct {
	base EnergyCalculator

	// Reference energy of the pure particle, per species
	mixingParameters map[string]float64

	// Recompute the base energy instead of reusing the cached value
	recomputeEnergies bool
}

// NewMixingEnergyCalculator creates a mixing-energy model on top of the
// given base calculator. Pass nil mixingParameters and call
// ComputeMixingParameters to derive the references from pure orderings.
func NewMixingEnergyCalculator(base EnergyCalculator, mixingParameters map[string]float64, recomputeEnergies bool) *MixingEnergyCalculator {
	if mixingParameters == nil {
		mixingParameters = make(map[string]float64)
	}
	return &MixingEnergyCalculator{
		base:              base,
		mixingParameters:  mixingParameters,
		recomputeEnergies: recomputeEnergies,
	}
}

// EnergyKey returns the key under which this model caches energies.
func (c *MixingEnergyCalculator) EnergyKey() particle.EnergyKey {
	return particle.EnergyMixing
}

// ComputeMixingParameters derives the per-species reference energies by
// scoring a pure ordering of each species on a copy of the given particle.
// The working particle is never mutated.
func (c *MixingEnergyCalculator) ComputeMixingParameters(p *particle.Particle, classifier features.Classifier, symbols []string) error {
	const op = "MixingEnergyCalculator.ComputeMixingParameters"

	for _, symbol := range symbols {
		pure := p.DeepCopy()
		for site := 0; site < pure.NSites(); site++ {
			pure.SetSymbol(site, symbol)
		}
		if err := classifier.ComputeFeatureVector(pure); err != nil {
			return optimization.WrapError(err, "mixing_calculator: "+op)
		}
		if err := c.base.ComputeEnergy(pure); err != nil {
			return optimization.WrapError(err, "mixing_calculator: "+op)
		}
		reference, err := pure.Energy(c.base.EnergyKey())
		if err != nil {
			return optimization.WrapError(err, "mixing_calculator: "+op)
		}
		c.mixingParameters[symbol] = reference
	}
	return nil
}

// ComputeEnergy computes the mixing energy from the base model's energy and
// the per-species references, and caches it under the mixing energy key.
func (c *MixingEnergyCalculator) ComputeEnergy(p *particle.Particle) error {
	const op = "MixingEnergyCalculator.ComputeEnergy"

	if c.recomputeEnergies {
		if err := c.base.ComputeEnergy(p); err != nil {
			return err
		}
	}
	mixing, err := p.Energy(c.base.EnergyKey())
	if err != nil {
		return optimization.WrapError(err, "mixing_calculator: "+op)
	}

	nAtoms := 0
	stoichiometry := p.Stoichiometry()
	delete(stoichiometry, particle.Vacancy)
	for _, n := range stoichiometry {
		nAtoms += n
	}
	if nAtoms == 0 {
		return optimization.WrapError(errors.New("particle has no atoms"),
			"mixing_calculator: "+op)
	}

	for symbol, n := range stoichiometry {
		reference, ok := c.mixingParameters[symbol]
		if !ok {
			return optimization.WrapErrorf(errors.New("missing mixing parameter"),
				"mixing_calculator: %s: species %q", op, symbol)
		}
		mixing -= reference * float64(n) / float64(nAtoms)
	}

	p.SetEnergy(particle.EnergyMixing, mixing)
	return nil
}
