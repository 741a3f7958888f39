package calculators

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/LATTIS/internal/optimization/features"
	"github.com/copyleftdev/LATTIS/internal/optimization/kernels"
	"github.com/copyleftdev/LATTIS/internal/optimization/particle"
)

func newRing(t *testing.T, symbols []string) (*particle.Particle, *features.TopologicalClassifier) {
	t.Helper()
	nl, err := particle.RingLattice(len(symbols))
	require.NoError(t, err)
	p, err := particle.New(symbols, nl)
	require.NoError(t, err)
	classifier, err := features.NewTopologicalClassifier("Ag", "Au", nl)
	require.NoError(t, err)
	return p, classifier
}

func alternating(n int) []string {
	symbols := make([]string, n)
	for i := range symbols {
		if i%2 == 0 {
			symbols[i] = "Ag"
		} else {
			symbols[i] = "Au"
		}
	}
	return symbols
}

// unlikePairCoefficients makes the linear model count unlike first-shell
// bonds with weight -1, splitting each bond between its two endpoints.
func unlikePairCoefficients(maxCN int) []float64 {
	coef := make([]float64, 2*(maxCN+1))
	for n := 0; n <= maxCN; n++ {
		coef[n] = -float64(maxCN-n) / 2
		coef[maxCN+1+n] = -float64(n) / 2
	}
	return coef
}

func TestRidgeFitRecoversLinearModel(t *testing.T) {
	wTrue := []float64{1.5, -2.0, 0.5, 3.0}
	rng := rand.New(rand.NewSource(7))

	vectors := make([][]float64, 40)
	energies := make([]float64, 40)
	for i := range vectors {
		v := make([]float64, len(wTrue))
		e := 0.0
		for j := range v {
			v[j] = rng.NormFloat64()
			e += wTrue[j] * v[j]
		}
		vectors[i] = v
		energies[i] = e
	}

	calc := NewRidgeCalculator(particle.FeatureTopological, 1e-10)
	require.NoError(t, calc.Fit(vectors, energies))

	coef := calc.Coefficients()
	require.Len(t, coef, len(wTrue))
	for j := range wTrue {
		assert.InDelta(t, wTrue[j], coef[j], 1e-6, "coefficient %d", j)
	}
}

func TestRidgeFitValidation(t *testing.T) {
	calc := NewRidgeCalculator(particle.FeatureTopological, 0.1)

	assert.Error(t, calc.Fit(nil, nil), "empty training set")
	assert.Error(t, calc.Fit([][]float64{{1, 2}}, []float64{1, 2}), "sample count mismatch")
	assert.Error(t, calc.Fit([][]float64{{1, 2}, {1}}, []float64{1, 2}), "ragged feature vectors")
}

func TestRidgeComputeEnergy(t *testing.T) {
	p, classifier := newRing(t, alternating(10))
	require.NoError(t, classifier.ComputeFeatureVector(p))

	calc := NewRidgeCalculator(particle.FeatureTopological, 0.1)
	require.Error(t, calc.ComputeEnergy(p), "unfitted model must refuse to score")

	calc.SetCoefficients(unlikePairCoefficients(2))
	require.NoError(t, calc.ComputeEnergy(p))

	// Alternating ring: every bond is an unlike pair.
	e, err := p.Energy(particle.EnergyRidge)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, e, 1e-12)
}

func TestGPRPredictsTrainingPoints(t *testing.T) {
	vectors := [][]float64{
		{0, 0},
		{1, 0},
		{0, 1},
		{1, 1},
	}
	energies := []float64{0.0, -1.0, -1.0, -2.5}

	calc := NewGPRCalculator(particle.FeatureTopological, kernels.NewRBFKernel(1.0, 1.0), 1e-10)
	require.NoError(t, calc.Fit(vectors, energies))

	for i, v := range vectors {
		mean, variance, err := calc.Predict(v)
		require.NoError(t, err)
		assert.InDelta(t, energies[i], mean, 1e-4, "training point %d", i)
		assert.GreaterOrEqual(t, variance, 0.0)
		assert.Less(t, variance, 1e-4, "variance at a training point")
	}
}

func TestGPRValidation(t *testing.T) {
	calc := NewGPRCalculator(particle.FeatureTopological, nil, 1e-6)

	assert.Error(t, calc.Fit(nil, nil), "empty training set")
	assert.Error(t, calc.Fit([][]float64{{1}}, []float64{1, 2}), "sample count mismatch")

	_, _, err := calc.Predict([]float64{1})
	assert.Error(t, err, "unfitted model must refuse to predict")
}

func TestGPRComputeEnergy(t *testing.T) {
	p, classifier := newRing(t, alternating(8))
	require.NoError(t, classifier.ComputeFeatureVector(p))
	vector, err := p.FeatureVector(particle.FeatureTopological)
	require.NoError(t, err)

	train := append([]float64(nil), vector...)
	calc := NewGPRCalculator(particle.FeatureTopological, kernels.NewRBFKernel(2.0, 1.0), 1e-10)
	require.NoError(t, calc.Fit([][]float64{train}, []float64{-8.0}))

	require.NoError(t, calc.ComputeEnergy(p))
	e, err := p.Energy(particle.EnergyGPR)
	require.NoError(t, err)
	assert.InDelta(t, -8.0, e, 1e-4)
}

func TestMixingEnergy(t *testing.T) {
	p, classifier := newRing(t, alternating(10))
	require.NoError(t, classifier.ComputeFeatureVector(p))

	base := NewRidgeCalculator(particle.FeatureTopological, 0.1)
	base.SetCoefficients(unlikePairCoefficients(2))

	mixing := NewMixingEnergyCalculator(base, nil, true)
	require.NoError(t, mixing.ComputeMixingParameters(p, classifier, []string{"Ag", "Au"}))

	// Pure references are zero under the unlike-pair model, so the mixing
	// energy of the alternating ring equals its base energy.
	require.NoError(t, mixing.ComputeEnergy(p))
	e, err := p.Energy(particle.EnergyMixing)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, e, 1e-12)

	// A pure particle has zero mixing energy by construction.
	pure, _ := newRing(t, []string{"Ag", "Ag", "Ag", "Ag"})
	require.NoError(t, classifier.ComputeFeatureVector(pure))
	require.NoError(t, mixing.ComputeEnergy(pure))
	e, err = pure.Energy(particle.EnergyMixing)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, e, 1e-12)
}

func TestMixingMissingParameter(t *testing.T) {
	p, classifier := newRing(t, alternating(6))
	require.NoError(t, classifier.ComputeFeatureVector(p))

	base := NewRidgeCalculator(particle.FeatureTopological, 0.1)
	base.SetCoefficients(unlikePairCoefficients(2))

	mixing := NewMixingEnergyCalculator(base, map[string]float64{"Ag": 0}, true)
	assert.Error(t, mixing.ComputeEnergy(p), "missing Au reference")
}
