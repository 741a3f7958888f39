// Package calculators provides the energy models consumed by the search
// drivers. Each calculator writes its result into the particle under its own
// energy key, so multiple models can coexist on one configuration.
package calculators

import (
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// EnergyCalculator is the energy-model capability consumed by the drivers.
type EnergyCalculator interface {
	// ComputeEnergy scores the configuration and caches the result on the
	// particle under this calculator's energy key.
	ComputeEnergy(p *particle.Particle) error

	// EnergyKey returns the key under which this model caches energies.
	EnergyKey() particle.EnergyKey
}
