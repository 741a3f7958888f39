// Package montecarlo implements the annealed Metropolis driver: propose an
// exchange, patch the cached features and energy for the affected
// neighborhood, accept or reject, and roll back exactly on rejection.
package montecarlo

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/calculators"
	"github.com/copyleftdev/LATTIS/internal/optimization/exchange"
	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// Config contains the run parameters of the Metropolis driver
type Config struct {
	// Temperature in Kelvin-equivalent units; must be positive
	Temperature float64

	// MaxSteps is the number of consecutive non-improving steps (accepted
	// or rejected) after which the run terminates. It is not a total
	// iteration budget: the counter resets on every strict improvement.
	MaxSteps int

	// Random seed for reproducibility; 0 seeds from the clock
	Seed int64

	// LogEvery is the step interval of progress logs; 0 uses the default
	LogEvery int

	// VerifyEvery is the step interval at which the cached features are
	// audited against a from-scratch recomputation; 0 disables the audit.
	// A mismatch is an inconsistent-state defect and aborts the run.
	VerifyEvery int
}

// Driver runs annealed Metropolis Monte Carlo over a configuration
type Driver struct {
	cfg        Config
	calculator calculators.EnergyCalculator
	classifier features.Classifier

	rng    *rand.Rand
	logger *zap.Logger

	best   *particle.Particle
	cancel context.CancelFunc
}

// New creates a Monte Carlo driver with the given parameters and
// collaborators.
func New(cfg Config, calculator calculators.EnergyCalculator, classifier features.Classifier) (*Driver, error) {
	if cfg.Temperature <= 0 {
		return nil, optimization.NewErrorf("temperature must be positive, got %v", cfg.Temperature).
			WithComponent("monte_carlo").WithOperation("New")
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 1000 // Default value
	}
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 2000
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	logger, _ := zap.NewDevelopment()

	return &Driver{
		cfg:        cfg,
		calculator: calculator,
		classifier: classifier,
		rng:        rng,
		logger:     logger.Named("monte_carlo"),
	}, nil
}

// GetBest returns the best configuration found so far
func (d *Driver) GetBest() *particle.Particle {
	return d.best
}

// Stop gracefully stops the search
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Search runs the Metropolis loop on the given starting configuration. The
// starting particle is mutated in place; the returned best configuration is
// an independent deep copy.
func (d *Driver) Search(ctx context.Context, start *particle.Particle) (*optimization.Result, error) {
	const op = "Driver.Search"

	ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	energyKey := d.calculator.EnergyKey()

	if err := d.classifier.ComputeFeatureVector(start); err != nil {
		return nil, optimization.WrapError(err, "monte_carlo: "+op)
	}
	if err := d.calculator.ComputeEnergy(start); err != nil {
		return nil, optimization.WrapError(err, "monte_carlo: "+op)
	}

	operator := exchange.NewRandomExchangeOperator(d.rng)
	if err := operator.Bind(start); err != nil {
		return nil, err
	}

	startEnergy, err := start.Energy(energyKey)
	if err != nil {
		return nil, optimization.WrapError(err, "monte_carlo: "+op)
	}

	d.logger.Info("Starting Monte Carlo search",
		zap.Float64("temperature", d.cfg.Temperature),
		zap.Int("max_steps", d.cfg.MaxSteps),
		zap.Float64("starting_energy", startEnergy),
	)

	beta := 1 / (optimization.Boltzmann * d.cfg.Temperature)

	lowestEnergy := startEnergy
	trace := []optimization.TracePoint{{Energy: lowestEnergy, Step: 0}}
	d.best = start.DeepCopy()

	totalSteps := 0
	noImprovement := 0
	for noImprovement < d.cfg.MaxSteps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		totalSteps++
		if totalSteps%d.cfg.LogEvery == 0 {
			d.logger.Info("Monte Carlo progress",
				zap.Int("step", totalSteps),
				zap.Float64("lowest_energy", lowestEnergy),
			)
		}

		exchanges, err := operator.RandomExchange(start)
		if err != nil {
			return nil, optimization.WrapError(err, "monte_carlo: "+op).
				WithStep(totalSteps, startEnergy)
		}
		neighborhood := features.FeaturesToUpdate(start, exchanges)

		oldFeatures, change, err := d.classifier.UpdateFeatureVector(start, neighborhood)
		if err != nil {
			return nil, optimization.WrapError(err, "monte_carlo: "+op).
				WithStep(totalSteps, startEnergy)
		}

		if err := d.calculator.ComputeEnergy(start); err != nil {
			return nil, optimization.WrapError(err, "monte_carlo: "+op).
				WithStep(totalSteps, startEnergy)
		}
		newEnergy, err := start.Energy(energyKey)
		if err != nil {
			return nil, optimization.WrapError(err, "monte_carlo: "+op).
				WithStep(totalSteps, startEnergy)
		}

		accept := false
		if math.IsNaN(newEnergy) || math.IsInf(newEnergy, 0) {
			// Numeric degeneracy: never accepted, handled as a
			// standard rollback.
			d.logger.Warn("Energy model returned non-finite value",
				zap.Int("step", totalSteps),
				zap.Float64("energy", newEnergy),
			)
		} else {
			deltaE := newEnergy - startEnergy
			acceptance := math.Min(1, math.Exp(-beta*deltaE))
			accept = d.rng.Float64() < acceptance
		}

		if accept {
			startEnergy = newEnergy
			trace = append(trace, optimization.TracePoint{Energy: newEnergy, Step: totalSteps})

			if newEnergy < lowestEnergy {
				noImprovement = 0
				lowestEnergy = newEnergy
				d.best = start.DeepCopy()
			} else {
				noImprovement++
			}
		} else {
			noImprovement++

			// Roll back the exchange and make sure features and
			// energies are bit-identical to the pre-move state.
			operator.Revert(start, exchanges)
			start.SetEnergy(energyKey, startEnergy)
			if err := d.classifier.DowngradeFeatureVector(start, neighborhood, oldFeatures, change); err != nil {
				return nil, optimization.WrapError(err, "monte_carlo: "+op).
					WithStep(totalSteps, startEnergy)
			}
		}

		if d.cfg.VerifyEvery > 0 && totalSteps%d.cfg.VerifyEvery == 0 {
			if err := d.verifyCaches(start); err != nil {
				return nil, optimization.WrapError(err, "monte_carlo: "+op).
					WithStep(totalSteps, startEnergy)
			}
		}
	}

	trace = append(trace, optimization.TracePoint{Energy: trace[len(trace)-1].Energy, Step: totalSteps})

	d.logger.Info("Monte Carlo search finished",
		zap.Int("steps", totalSteps),
		zap.Float64("lowest_energy", lowestEnergy),
	)

	return &optimization.Result{
		Best:             d.best,
		AcceptedEnergies: trace,
		Steps:            totalSteps,
	}, nil
}

// verifyCaches audits the incrementally maintained feature caches against a
// from-scratch recomputation on a copy of the configuration.
func (d *Driver) verifyCaches(p *particle.Particle) error {
	key := d.classifier.FeatureKey()

	fresh := p.DeepCopy()
	if err := d.classifier.ComputeFeatureVector(fresh); err != nil {
		return err
	}

	cachedVector, err := p.FeatureVector(key)
	if err != nil {
		return err
	}
	freshVector, err := fresh.FeatureVector(key)
	if err != nil {
		return err
	}
	for i := range cachedVector {
		if cachedVector[i] != freshVector[i] {
			return optimization.WrapErrorf(optimization.ErrInconsistentState,
				"feature vector bin %d: cached %v, recomputed %v", i, cachedVector[i], freshVector[i])
		}
	}

	cachedClasses, err := p.AtomFeatures(key)
	if err != nil {
		return err
	}
	freshClasses, err := fresh.AtomFeatures(key)
	if err != nil {
		return err
	}
	for site := range cachedClasses {
		if cachedClasses[site] != freshClasses[site] {
			return optimization.WrapErrorf(optimization.ErrInconsistentState,
				"site %d: cached class %d, recomputed %d", site, cachedClasses[site], freshClasses[site])
		}
	}
	return nil
}
