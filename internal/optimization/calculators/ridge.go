package calculators

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/LATTIS/internal/optimization"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

// RidgeCalculator is a linear energy model over a cached feature vector,
// fitted by ridge regression without an intercept. Because the energy is a
// dot product with the feature vector, it composes exactly with the
// incremental feature updater: patching the vector patches the energy.
type RidgeCalculator struct {
	key        particle.EnergyKey
	featureKey particle.FeatureKey

	// Regularization strength for the normal equations
	lambda float64

	coef *mat.VecDense

	logger *zap.Logger
}

// NewRidgeCalculator creates a ridge-regression energy model over the given
// feature key.
func NewRidgeCalculator(featureKey particle.FeatureKey, lambda float64) *RidgeCalculator {
	logger, _ := zap.NewDevelopment()

	return &RidgeCalculator{
		key:        particle.EnergyRidge,
		featureKey: featureKey,
		lambda:     lambda,
		logger:     logger.Named("ridge_calculator"),
	}
}

// EnergyKey returns the key under which this model caches energies.
func (c *RidgeCalculator) EnergyKey() particle.EnergyKey {
	return c.key
}

// Fit solves the ridge normal equations (XᵀX + λI) w = Xᵀy for the
// coefficient vector, with one row per training feature vector.
func (c *RidgeCalculator) Fit(vectors [][]float64, energies []float64) error {
	const op = "RidgeCalculator.Fit"

	if len(vectors) == 0 {
		return optimization.WrapError(errors.New("training set must not be empty"),
			"ridge_calculator: "+op)
	}
	if len(vectors) != len(energies) {
		err := fmt.Errorf("dimension mismatch: %d feature vectors but %d energies",
			len(vectors), len(energies))
		return optimization.WrapError(err, "ridge_calculator: "+op)
	}

	nSamples := len(vectors)
	nFeatures := len(vectors[0])

	X := mat.NewDense(nSamples, nFeatures, nil)
	y := mat.NewVecDense(nSamples, nil)
	for i, v := range vectors {
		if len(v) != nFeatures {
			err := fmt.Errorf("feature vector %d has length %d, want %d", i, len(v), nFeatures)
			return optimization.WrapError(err, "ridge_calculator: "+op)
		}
		X.SetRow(i, v)
		y.SetVec(i, energies[i])
	}

	c.logger.Debug("Fitting ridge model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("lambda", c.lambda),
	)

	// A = XᵀX + λI
	A := mat.NewSymDense(nFeatures, nil)
	for i := 0; i < nFeatures; i++ {
		for j := i; j < nFeatures; j++ {
			s := 0.0
			for k := 0; k < nSamples; k++ {
				s += X.At(k, i) * X.At(k, j)
			}
			if i == j {
				s += c.lambda
			}
			A.SetSym(i, j, s)
		}
	}

	// b = Xᵀy
	b := mat.NewVecDense(nFeatures, nil)
	b.MulVec(X.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		err := errors.New("normal equations are not positive definite; increase lambda")
		return optimization.WrapError(err, "ridge_calculator: "+op)
	}

	coef := mat.NewVecDense(nFeatures, nil)
	if err := chol.SolveVecTo(coef, b); err != nil {
		return optimization.WrapError(fmt.Errorf("failed to solve normal equations: %w", err),
			"ridge_calculator: "+op)
	}
	c.coef = coef
	return nil
}

// Coefficients returns a copy of the fitted coefficient vector.
func (c *RidgeCalculator) Coefficients() []float64 {
	if c.coef == nil {
		return nil
	}
	out := make([]float64, c.coef.Len())
	copy(out, c.coef.RawVector().Data)
	return out
}

// SetCoefficients installs an externally determined coefficient vector,
// bypassing Fit.
func (c *RidgeCalculator) SetCoefficients(coefficients []float64) {
	c.coef = mat.NewVecDense(len(coefficients), append([]float64(nil), coefficients...))
}

// ComputeEnergy evaluates the linear model on the particle's cached feature
// vector and stores the result under the ridge energy key.
func (c *RidgeCalculator) ComputeEnergy(p *particle.Particle) error {
	const op = "RidgeCalculator.ComputeEnergy"

	if c.coef == nil {
		return optimization.WrapError(errors.New("model has not been fitted"),
			"ridge_calculator: "+op)
	}
	vector, err := p.FeatureVector(c.featureKey)
	if err != nil {
		return optimization.WrapError(err, "ridge_calculator: "+op)
	}
	if len(vector) != c.coef.Len() {
		err := fmt.Errorf("feature vector has length %d, model expects %d",
			len(vector), c.coef.Len())
		return optimization.WrapError(err, "ridge_calculator: "+op)
	}

	energy := mat.Dot(c.coef, mat.NewVecDense(len(vector), vector))
	p.SetEnergy(c.key, energy)
	return nil
}
