package particle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewNeighborListValidation(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]int
	}{
		{"self loop", [][]int{{0}, {0}}},
		{"out of range", [][]int{{1}, {2}}},
		{"negative index", [][]int{{-1}, {0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNeighborList(tt.lists)
			assert.Error(t, err)
		})
	}
}

func TestRingLattice(t *testing.T) {
	nl, err := RingLattice(6)
	require.NoError(t, err)

	assert.Equal(t, 6, nl.Len())
	assert.Equal(t, 6, nl.NBonds())
	assert.Equal(t, 2, nl.MaxCoordination())

	assert.ElementsMatch(t, []int{5, 1}, nl.Neighbors(0))
	assert.ElementsMatch(t, []int{2, 4}, nl.Neighbors(3))
	for site := 0; site < 6; site++ {
		assert.Equal(t, 2, nl.CoordinationNumber(site))
	}

	_, err = RingLattice(2)
	assert.Error(t, err)
}

func TestFromPositions(t *testing.T) {
	positions := []r3.Vec{
		{X: 0},
		{X: 1},
		{X: 2.5},
	}

	nl, err := FromPositions(positions, r3.Vec{}, 1.2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1}, nl.Neighbors(0))
	assert.ElementsMatch(t, []int{0}, nl.Neighbors(1))
	assert.Empty(t, nl.Neighbors(2))

	_, err = FromPositions(positions, r3.Vec{}, 0)
	assert.Error(t, err)
}

func TestFromPositionsPeriodic(t *testing.T) {
	// Sites 0 and 2 are 2.5 apart in open space but 0.5 apart through the
	// periodic boundary of a 3-long cell.
	positions := []r3.Vec{
		{X: 0},
		{X: 1},
		{X: 2.5},
	}

	nl, err := FromPositions(positions, r3.Vec{X: 3}, 1.2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, nl.Neighbors(0))
	assert.ElementsMatch(t, []int{0}, nl.Neighbors(2))
}
