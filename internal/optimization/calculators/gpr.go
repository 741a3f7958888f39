package calculators

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/kernels"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// GPRCalculator is a Gaussian-process-regression energy model over
// whole-configuration feature vectors.
type GPRCalculator struct {
	key        particle.EnergyKey
	featureKey particle.FeatureKey

	// Kernel function
	kernel kernels.Kernel

	// Noise variance added to the kernel diagonal
	noiseVar float64

	// Training data
	X [][]float64

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky

	logger *zap.Logger
}

// NewGPRCalculator creates a GPR energy model over the given feature key.
// A nil kernel defaults to an RBF with unit length scale and variance.
func NewGPRCalculator(featureKey particle.FeatureKey, kernel kernels.Kernel, noiseVar float64) *GPRCalculator {
	if kernel == nil {
		kernel = kernels.NewRBFKernel(1.0, 1.0)
	}
	logger, _ := zap.NewDevelopment()

	return &GPRCalculator{
		key:        particle.EnergyGPR,
		featureKey: featureKey,
		kernel:     kernel,
		noiseVar:   noiseVar,
		logger:     logger.Named("gpr_calculator"),
	}
}

// EnergyKey returns the key under which this model caches energies.
func (c *GPRCalculator) EnergyKey() particle.EnergyKey {
	return c.key
}

// Fit conditions the Gaussian process on the training feature vectors and
// energies: it factorizes K + σ²I and solves for alpha = (K + σ²I)⁻¹ y.
func (c *GPRCalculator) Fit(vectors [][]float64, energies []float64) error {
	const op = "GPRCalculator.Fit"

	if len(vectors) == 0 {
		return optimization.WrapError(errors.New("training set must not be empty"),
			"gpr_calculator: "+op)
	}
	if len(vectors) != len(energies) {
		err := fmt.Errorf("dimension mismatch: %d feature vectors but %d energies",
			len(vectors), len(energies))
		return optimization.WrapError(err, "gpr_calculator: "+op)
	}

	nSamples := len(vectors)

	c.logger.Debug("Fitting GPR model",
		zap.Int("samples", nSamples),
		zap.Float64("noise_var", c.noiseVar),
	)

	K := mat.NewSymDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		for j := i; j < nSamples; j++ {
			v := c.kernel.Eval(vectors[i], vectors[j])
			if i == j {
				v += c.noiseVar
			}
			K.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		err := errors.New("Cholesky decomposition failed: kernel matrix is not positive definite")
		return optimization.WrapError(err, "gpr_calculator: "+op)
	}

	y := mat.NewVecDense(nSamples, append([]float64(nil), energies...))
	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return optimization.WrapError(fmt.Errorf("failed to solve for alpha: %w", err),
			"gpr_calculator: "+op)
	}

	c.X = make([][]float64, nSamples)
	for i, v := range vectors {
		c.X[i] = append([]float64(nil), v...)
	}
	c.alpha = alpha
	c.chol = &chol
	return nil
}

// Predict returns the posterior mean and variance at one feature vector.
func (c *GPRCalculator) Predict(vector []float64) (float64, float64, error) {
	const op = "GPRCalculator.Predict"

	if c.alpha == nil {
		return 0, 0, optimization.WrapError(errors.New("model has not been fitted"),
			"gpr_calculator: "+op)
	}

	n := len(c.X)
	kstar := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		kstar.SetVec(i, c.kernel.Eval(vector, c.X[i]))
	}

	mean := mat.Dot(kstar, c.alpha)

	// variance = k(x,x) - k*ᵀ (K + σ²I)⁻¹ k*
	v := mat.NewVecDense(n, nil)
	if err := c.chol.SolveVecTo(v, kstar); err != nil {
		return 0, 0, optimization.WrapError(fmt.Errorf("failed to solve for variance: %w", err),
			"gpr_calculator: "+op)
	}
	variance := c.kernel.Eval(vector, vector) - mat.Dot(kstar, v)
	if variance < 0 {
		variance = 0
	}

	return mean, variance, nil
}

// ComputeEnergy evaluates the posterior mean on the particle's cached
// feature vector and stores it under the GPR energy key.
func (c *GPRCalculator) ComputeEnergy(p *particle.Particle) error {
	const op = "GPRCalculator.ComputeEnergy"

	vector, err := p.FeatureVector(c.featureKey)
	if err != nil {
		return optimization.WrapError(err, "gpr_calculator: "+op)
	}
	mean, _, err := c.Predict(vector)
	if err != nil {
		return err
	}
	p.SetEnergy(c.key, mean)
	return nil
}
