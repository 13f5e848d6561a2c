package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecisionWeightedMerge(t *testing.T) {
	// Equal precision splits the difference.
	mean, variance := precisionWeightedMerge(-2.0, 0.25, -1.0, 0.25)
	assert.InDelta(t, -1.5, mean, 1e-9)
	assert.InDelta(t, 0.125, variance, 1e-9)

	// A tight prior dominates a noisy sample.
	mean, _ = precisionWeightedMerge(-2.0, 1.0, -1.0, 0.01)
	assert.InDelta(t, -1.0099, mean, 1e-3)

	// A well-measured sample dominates a vague prior.
	mean, _ = precisionWeightedMerge(-2.0, 0.01, -1.0, 1.0)
	assert.InDelta(t, -1.9901, mean, 1e-3)
}

func TestPrecisionWeightedMerge_DegenerateVariances(t *testing.T) {
	mean, variance := precisionWeightedMerge(-2.0, 0, -1.0, 0.25)
	assert.Equal(t, -2.0, mean)
	assert.Equal(t, 0.0, variance)

	mean, variance = precisionWeightedMerge(-2.0, 0.25, -1.0, 0)
	assert.Equal(t, -1.0, mean)
	assert.Equal(t, 0.0, variance)

	mean, variance = precisionWeightedMerge(-2.0, 0, -1.0, 0)
	assert.Equal(t, -1.5, mean)
	assert.Equal(t, 0.0, variance)
}

func TestPrecisionWeightedMerge_ResultBetweenInputs(t *testing.T) {
	mean, variance := precisionWeightedMerge(-2.5, 0.3, -0.8, 0.6)
	assert.Greater(t, mean, -2.5)
	assert.Less(t, mean, -0.8)
	// Merged estimate is tighter than either input.
	assert.Less(t, variance, 0.3)
}

func TestInverseVarianceAverage(t *testing.T) {
	mean, variance, ok := inverseVarianceAverage([]float64{-1.0, -2.0}, []float64{0.01, 1.0})
	require.True(t, ok)
	assert.InDelta(t, -1.0099, mean, 1e-3)
	assert.Greater(t, variance, 0.0)
	assert.Less(t, variance, 0.01)
}

func TestInverseVarianceAverage_NoUsableVariances(t *testing.T) {
	mean, variance, ok := inverseVarianceAverage([]float64{-1.0, -2.0, -3.0}, []float64{0, 0, 0})
	require.True(t, ok)
	assert.InDelta(t, -2.0, mean, 1e-9)
	assert.Equal(t, 0.0, variance)
}

func TestInverseVarianceAverage_MixedVariances(t *testing.T) {
	// The zero-variance entry gets the average weight, not infinite weight.
	mean, _, ok := inverseVarianceAverage([]float64{-1.0, -3.0}, []float64{0.5, 0})
	require.True(t, ok)
	assert.InDelta(t, -2.0, mean, 1e-9)
}

func TestInverseVarianceAverage_InvalidInput(t *testing.T) {
	_, _, ok := inverseVarianceAverage(nil, nil)
	assert.False(t, ok)

	_, _, ok = inverseVarianceAverage([]float64{-1.0}, []float64{0.1, 0.2})
	assert.False(t, ok)
}
