package optimization

import (
	"context"

	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// Boltzmann is the Boltzmann constant in eV/K. Temperatures passed to the
// drivers are in Kelvin-equivalent units so that energies stay in eV.
const Boltzmann = 8.617333262e-5

// Searcher defines the interface for ordering-search drivers
type Searcher interface {
	// Search runs the optimization starting from the given configuration.
	// The starting particle is mutated in place for the lifetime of the run;
	// the returned best configuration is an independent deep copy.
	Search(ctx context.Context, start *particle.Particle) (*Result, error)

	// GetBest returns the best configuration found so far
	GetBest() *particle.Particle

	// Stop gracefully stops the search
	Stop()
}

// TracePoint is a single (energy, step) sample in a run trace
type TracePoint struct {
	Energy float64
	Step   int
}

// FlipSample records, for one guided-descent step, the operator's predicted
// energy change against the actual change. Read-only diagnostic; never used
// for control decisions.
type FlipSample struct {
	Predicted float64
	Actual    float64
	Sites     [2]int
}

// Result contains the outcome of a search run
type Result struct {
	// Best configuration found, independent of the working configuration
	Best *particle.Particle

	// Energies of every accepted step (Monte Carlo), with a final duplicate
	// entry recording the terminal step against the last energy
	AcceptedEnergies []TracePoint

	// Energies at which a new global minimum was found (basin hopping),
	// plus one terminal entry
	LowestEnergies []TracePoint

	// Predicted-vs-actual energy changes for guided steps (basin hopping)
	FlipEnergies []FlipSample

	// Total number of proposed steps
	Steps int
}

// LowestEnergy returns the energy of the last improvement in the given trace.
func LowestEnergy(trace []TracePoint) float64 {
	if len(trace) == 0 {
		return 0
	}
	lowest := trace[0].Energy
	for _, pt := range trace[1:] {
		if pt.Energy < lowest {
			lowest = pt.Energy
		}
	}
	return lowest
}
