// Package basinhopping implements guided basin hopping: greedy descent using
// the guided exchange operator until no exchange improves the energy, then a
// fixed number of unconditional random hops to escape the basin, repeated for
// a fixed number of attempts.
package basinhopping

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/calculators"
	"github.com/copyleftdev/LATTIS/internal/optimization/exchange"
	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// Config contains the run parameters of the basin-hopping driver
type Config struct {
	// Attempts is the number of descent-then-hop cycles
	Attempts int

	// Hops is the number of unconditional random exchanges applied after
	// each converged descent
	Hops int

	// Random seed for reproducibility; 0 seeds from the clock
	Seed int64

	// LogEvery is the attempt interval of progress logs; 0 uses the default
	LogEvery int
}

// Driver runs guided basin hopping over a configuration
type Driver struct {
	cfg          Config
	calculator   calculators.EnergyCalculator
	classifier   *features.TopologicalClassifier
	coefficients []float64

	rng    *rand.Rand
	logger *zap.Logger

	best   *particle.Particle
	cancel context.CancelFunc
}

// New creates a basin-hopping driver. The coefficients are the per-class
// environment energies that bias the guided operator; they must match the
// classifier's feature layout.
func New(cfg Config, calculator calculators.EnergyCalculator, classifier *features.TopologicalClassifier, coefficients []float64) (*Driver, error) {
	if cfg.Attempts < 1 {
		return nil, optimization.NewErrorf("attempts must be positive, got %d", cfg.Attempts).
			WithComponent("basin_hopping").WithOperation("New")
	}
	if cfg.Hops < 0 {
		return nil, optimization.NewErrorf("hops must not be negative, got %d", cfg.Hops).
			WithComponent("basin_hopping").WithOperation("New")
	}
	if len(coefficients) != classifier.NFeatures() {
		return nil, optimization.NewErrorf("got %d environment energies, classifier has %d classes",
			len(coefficients), classifier.NFeatures()).
			WithComponent("basin_hopping").WithOperation("New")
	}
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 20
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	logger, _ := zap.NewDevelopment()

	return &Driver{
		cfg:          cfg,
		calculator:   calculator,
		classifier:   classifier,
		coefficients: append([]float64(nil), coefficients...),
		rng:          rng,
		logger:       logger.Named("basin_hopping"),
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

// Search runs the basin-hopping loop on the given starting configuration.
// The starting particle is mutated in place; the returned best configuration
// is an independent deep copy.
//
// Each attempt descends greedily with the guided operator until no exchange
// lowers the energy. The terminating exchange is kept, not rolled back, so
// the hop phase starts from an already perturbed state. The trace records the
// running minimum at each improvement, plus one terminal entry.
func (d *Driver) Search(ctx context.Context, start *particle.Particle) (*optimization.Result, error) {
	const op = "Driver.Search"

	ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	energyKey := d.calculator.EnergyKey()

	if err := d.classifier.ComputeFeatureVector(start); err != nil {
		return nil, optimization.WrapError(err, "basin_hopping: "+op)
	}
	if err := d.calculator.ComputeEnergy(start); err != nil {
		return nil, optimization.WrapError(err, "basin_hopping: "+op)
	}

	operator, err := exchange.NewGuidedExchangeOperator(d.classifier, d.coefficients, d.rng)
	if err != nil {
		return nil, err
	}
	if err := operator.Bind(start); err != nil {
		return nil, optimization.WrapError(err, "basin_hopping: "+op)
	}

	startEnergy, err := start.Energy(energyKey)
	if err != nil {
		return nil, optimization.WrapError(err, "basin_hopping: "+op)
	}

	d.logger.Info("Starting basin-hopping search",
		zap.Int("attempts", d.cfg.Attempts),
		zap.Int("hops", d.cfg.Hops),
		zap.Float64("starting_energy", startEnergy),
	)

	lowestEnergy := startEnergy
	trace := []optimization.TracePoint{{Energy: lowestEnergy, Step: 0}}
	d.best = start.DeepCopy()
	var flips []optimization.FlipSample

	step := 0

attempts:
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		// Greedy descent: keep taking the most favorable exchange until
		// one fails to improve.
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			step++
			pair, err := operator.GuidedExchange(start)
			if err != nil {
				if errors.Is(err, optimization.ErrExhaustedMoveSpace) && step > 1 {
					d.logger.Warn("Move space exhausted, attempt terminated early",
						zap.Int("attempt", attempt),
						zap.Int("step", step))
					continue attempts
				}
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			predicted := operator.PredictedChange(pair)

			neighborhood := features.FeaturesToUpdate(start, [][2]int{pair})
			if _, _, err := d.classifier.UpdateFeatureVector(start, neighborhood); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			if err := operator.Update(start, neighborhood, pair[:]); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			if err := d.calculator.ComputeEnergy(start); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			newEnergy, err := start.Energy(energyKey)
			if err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}

			flips = append(flips, optimization.FlipSample{
				Predicted: predicted,
				Actual:    newEnergy - startEnergy,
				Sites:     pair,
			})

			if newEnergy < startEnergy {
				startEnergy = newEnergy
				if newEnergy < lowestEnergy {
					lowestEnergy = newEnergy
					trace = append(trace, optimization.TracePoint{Energy: lowestEnergy, Step: step})
				}
				continue
			}

			if attempt%d.cfg.LogEvery == 0 {
				d.logger.Info("Descent converged",
					zap.Int("attempt", attempt),
					zap.Float64("converged_energy", startEnergy),
					zap.Float64("lowest_energy", lowestEnergy),
				)
			}

			// The descent converged at the running minimum: snapshot
			// the pre-exchange ordering as the best candidate. The
			// copy's features are recomputed so the snapshot is
			// internally consistent.
			if lowestEnergy == startEnergy {
				d.best = start.DeepCopy()
				d.best.SwapSymbols([][2]int{pair})
				if err := d.classifier.ComputeFeatureVector(d.best); err != nil {
					return nil, optimization.WrapError(err, "basin_hopping: "+op).
						WithStep(step, startEnergy)
				}
				d.best.SetEnergy(energyKey, startEnergy)
			}
			break
		}

		// Hop phase: unconditional random exchanges to escape the basin.
		for hop := 0; hop < d.cfg.Hops; hop++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			step++
			pair, err := operator.BasinHopStep(start)
			if err != nil {
				if errors.Is(err, optimization.ErrExhaustedMoveSpace) {
					d.logger.Warn("Move space exhausted, attempt terminated early",
						zap.Int("attempt", attempt),
						zap.Int("step", step))
					continue attempts
				}
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}

			neighborhood := features.FeaturesToUpdate(start, [][2]int{pair})
			if _, _, err := d.classifier.UpdateFeatureVector(start, neighborhood); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			if err := operator.Update(start, neighborhood, pair[:]); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			if err := d.calculator.ComputeEnergy(start); err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			newEnergy, err := start.Energy(energyKey)
			if err != nil {
				return nil, optimization.WrapError(err, "basin_hopping: "+op).
					WithStep(step, startEnergy)
			}
			startEnergy = newEnergy
		}
	}

	trace = append(trace, optimization.TracePoint{Energy: lowestEnergy, Step: step})

	d.logger.Info("Basin-hopping search finished",
		zap.Int("steps", step),
		zap.Float64("lowest_energy", lowestEnergy),
	)

	return &optimization.Result{
		Best:           d.best,
		LowestEnergies: trace,
		FlipEnergies:   flips,
		Steps:          step,
	}, nil
}
