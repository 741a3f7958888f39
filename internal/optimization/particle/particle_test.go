package particle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func newRingParticle(t *testing.T, symbols []string) *Particle {
	t.Helper()
	nl, err := RingLattice(len(symbols))
	require.NoError(t, err)
	p, err := New(symbols, nl)
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	nl, err := RingLattice(4)
	require.NoError(t, err)

	_, err = New([]string{"Au", "Ag"}, nl)
	assert.Error(t, err, "symbol count must match site count")

	_, err = New([]string{"Au", "Ag", "Au", "Ag"}, nil)
	assert.Error(t, err, "neighbor list must not be nil")
}

func TestSwapSymbols(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Au", "Ag", "Ag"})

	pairs := [][2]int{{0, 2}}
	p.SwapSymbols(pairs)
	assert.Equal(t, "Ag", p.Symbol(0))
	assert.Equal(t, "Au", p.Symbol(2))

	// Swapping the same pairs again restores the original ordering.
	p.SwapSymbols(pairs)
	assert.Equal(t, []string{"Au", "Au", "Ag", "Ag"}, p.Symbols())
}

func TestIndicesBySymbol(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au", "Ag", "Au"})

	assert.Equal(t, []int{0, 2, 4}, p.IndicesBySymbol("Au"))
	assert.Equal(t, []int{1, 3}, p.IndicesBySymbol("Ag"))
	assert.Empty(t, p.IndicesBySymbol("Pt"))
}

func TestAllSymbolsExcludesVacancies(t *testing.T) {
	p := newRingParticle(t, []string{"Pt", "Au", Vacancy, "Au"})

	assert.Equal(t, []string{"Au", "Pt"}, p.AllSymbols())
	assert.False(t, p.IsPure())

	pure := newRingParticle(t, []string{"Au", "Au", "Au"})
	assert.True(t, pure.IsPure())
}

func TestStoichiometry(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au", Vacancy})

	want := map[string]int{"Au": 2, "Ag": 1, Vacancy: 1}
	assert.Equal(t, want, p.Stoichiometry())
}

func TestRandomOrdering(t *testing.T) {
	stoich := map[string]int{"Au": 4, "Ag": 6}

	p1 := newRingParticle(t, make([]string, 10))
	require.NoError(t, p1.RandomOrdering(stoich, rand.New(rand.NewSource(42))))
	assert.Equal(t, stoich, p1.Stoichiometry())

	// Equal seeds give equal orderings.
	p2 := newRingParticle(t, make([]string, 10))
	require.NoError(t, p2.RandomOrdering(stoich, rand.New(rand.NewSource(42))))
	assert.Equal(t, p1.Symbols(), p2.Symbols())

	err := p1.RandomOrdering(map[string]int{"Au": 3}, rand.New(rand.NewSource(1)))
	assert.Error(t, err, "counts must cover all sites")
}

func TestEnergyLookupIsChecked(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au"})

	_, err := p.Energy(EnergyRidge)
	assert.Error(t, err)
	assert.False(t, p.HasEnergy(EnergyRidge))

	p.SetEnergy(EnergyRidge, -3.5)
	e, err := p.Energy(EnergyRidge)
	require.NoError(t, err)
	assert.Equal(t, -3.5, e)
}

func TestFeatureCaches(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au"})

	_, err := p.AtomFeatures(FeatureTopological)
	assert.Error(t, err)
	_, err = p.FeatureVector(FeatureTopological)
	assert.Error(t, err)

	p.SetAtomFeatures(FeatureTopological, []int{0, 5, 0})
	p.SetFeatureVector(FeatureTopological, []float64{2, 0, 0, 0, 0, 1})

	class, err := p.AtomFeature(FeatureTopological, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, class)

	require.NoError(t, p.SetAtomFeature(FeatureTopological, 1, 4))
	class, err = p.AtomFeature(FeatureTopological, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, class)
}

func TestDeepCopyIsIndependent(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au", "Ag"})
	p.SetEnergy(EnergyRidge, -1.0)
	p.SetAtomFeatures(FeatureTopological, []int{0, 1, 0, 1})
	p.SetFeatureVector(FeatureTopological, []float64{2, 2})

	cp := p.DeepCopy()
	cp.SetSymbol(0, "Ag")
	cp.SetEnergy(EnergyRidge, 7.0)
	require.NoError(t, cp.SetAtomFeature(FeatureTopological, 0, 9))

	assert.Equal(t, "Au", p.Symbol(0))
	e, err := p.Energy(EnergyRidge)
	require.NoError(t, err)
	assert.Equal(t, -1.0, e)
	class, err := p.AtomFeature(FeatureTopological, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, class)

	// The adjacency is immutable and shared, not copied.
	assert.Same(t, p.NeighborList(), cp.NeighborList())
}

func TestAppendAndRemoveSite(t *testing.T) {
	p := newRingParticle(t, []string{"Au", "Ag", "Au"})
	require.NoError(t, p.SetGeometry([]r3.Vec{{}, {X: 1}, {X: 2}}, r3.Vec{X: 3}))

	site := p.AppendSite("Pt", r3.Vec{X: 1.5})
	assert.Equal(t, 3, site)
	assert.Equal(t, 4, p.NSites())

	symbol, pos := p.RemoveSite(site)
	assert.Equal(t, "Pt", symbol)
	assert.Equal(t, r3.Vec{X: 1.5}, pos)
	assert.Equal(t, 3, p.NSites())
	assert.Equal(t, []string{"Au", "Ag", "Au"}, p.Symbols())
}
