package numeric_test

import (
	"math/rand"
	"testing"

	"github.com/muchq/tensorgraph/numeric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscountedReward(t *testing.T) {
	got := numeric.DiscountedReward([]float64{1, 1, 1}, 0.5)
	// out[2] = 1
	// out[1] = 1 + 0.5*1 = 1.5
	// out[0] = 1 + 0.5*1.5 = 1.75
	assert.InDeltaSlice(t, []float64{1.75, 1.5, 1}, got, 1e-12)
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	sim, err := numeric.CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	sim, err := numeric.CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarityLengthMismatch(t *testing.T) {
	_, err := numeric.CosineSimilarity([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestSMAConstantSeriesEqualsConstant(t *testing.T) {
	got := numeric.SMA([]float64{2, 2, 2, 2}, 2)
	assert.InDeltaSlice(t, []float64{2, 2, 2, 2}, got, 1e-12)
}

func TestEMAFirstElementIsInput(t *testing.T) {
	got := numeric.EMA([]float64{5, 10, 15}, 0.5)
	assert.Equal(t, 5.0, got[0])
	assert.InDelta(t, 7.5, got[1], 1e-12)
}

func TestWMAWeightsRecentMoreHeavily(t *testing.T) {
	got := numeric.WMA([]float64{0, 10}, 2)
	// weight 2 on the most recent sample, weight 1 on the oldest:
	// (10*2 + 0*1) / 3 = 6.6667
	assert.InDelta(t, 6.6666666666, got[1], 1e-6)
}

func TestWeightedSampleRespectsZeroWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		idx, err := numeric.WeightedSample(rng, []float64{0, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
	}
}

func TestWeightedSampleRejectsZeroSum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := numeric.WeightedSample(rng, []float64{0, 0, 0})
	assert.Error(t, err)
}
