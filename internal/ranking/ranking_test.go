package ranking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomScores(r *rand.Rand, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(r.NormFloat64() * 8)
	}
	return s
}

func sum(p []float64) float64 {
	var s float64
	for _, v := range p {
		s += v
	}
	return s
}

func TestSoftmax_SumsToOne(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		scores := randomScores(r, 1000)
		probs, err := Softmax(scores)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(probs), 1e-3)
		for _, p := range probs {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestSoftmax_LargeLogitsAreStable(t *testing.T) {
	probs, err := Softmax([]float32{1000, 1000, -1000})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
	assert.InDelta(t, 0.0, probs[2], 1e-9)
}

func TestSoftmax_Monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	scores := randomScores(r, 200)
	probs, err := Softmax(scores)
	require.NoError(t, err)
	for i := range scores {
		for j := range scores {
			if scores[i] > scores[j] {
				assert.GreaterOrEqual(t, probs[i], probs[j])
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	probs, err := Normalize([]float32{0.2, 0.6, 0.2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, 0.6, 0.2}, probs, 1e-6)

	probs, err = Normalize([]float32{2, -1, 2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 0.5}, probs, 1e-9)

	probs, err = Normalize([]float32{0, 0, 0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, probs, 1e-9)
}

func TestCheck(t *testing.T) {
	_, err := Softmax(nil)
	assert.True(t, errors.Is(err, ErrNoScores))

	_, err = Softmax([]float32{1, float32(math.NaN())})
	assert.True(t, errors.Is(err, ErrInvalidScores))

	_, err = Normalize([]float32{float32(math.Inf(1))})
	assert.True(t, errors.Is(err, ErrInvalidScores))
}

func TestTopK_RanksAndOrder(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	probs, err := Softmax(randomScores(r, 1000))
	require.NoError(t, err)

	top, err := TopK(probs, DefaultK)
	require.NoError(t, err)
	require.Len(t, top, 5)
	for i, c := range top {
		assert.Equal(t, i+1, c.Rank)
		assert.Equal(t, probs[c.Index], c.Probability)
		if i > 0 {
			assert.LessOrEqual(t, c.Probability, top[i-1].Probability)
		}
	}
}

func TestTopK_TieBreakByIndex(t *testing.T) {
	probs := []float64{0.1, 0.3, 0.1, 0.3, 0.2}
	top, err := TopK(probs, 5)
	require.NoError(t, err)

	got := make([]int, len(top))
	for i, c := range top {
		got[i] = c.Index
	}
	assert.Equal(t, []int{1, 3, 4, 0, 2}, got)
}

func TestTopK_UniformScores(t *testing.T) {
	_, top, err := Select(make([]float32, 10), 3, Logits)
	require.NoError(t, err)
	assert.Equal(t, 0, top[0].Index)
	assert.Equal(t, 1, top[1].Index)
	assert.Equal(t, 2, top[2].Index)
	assert.InDelta(t, 0.1, top[0].Probability, 1e-12)
}

func TestTopK_InvalidK(t *testing.T) {
	probs := []float64{0.5, 0.5}
	for _, k := range []int{0, -1, 3} {
		_, err := TopK(probs, k)
		assert.True(t, errors.Is(err, ErrInvalidK), "k=%d", k)
	}
	_, err := TopK(nil, 1)
	assert.True(t, errors.Is(err, ErrNoScores))
}

func TestSelect_Activation(t *testing.T) {
	scores := []float32{0.7, 0.2, 0.1}

	probs, top, err := Select(scores, 2, Probabilities)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, probs[0], 1e-6)
	assert.Equal(t, 0, top[0].Index)

	probs, _, err = Select(scores, 2, Logits)
	require.NoError(t, err)
	assert.Less(t, probs[0], 0.7)
	assert.InDelta(t, 1.0, sum(probs), 1e-9)
}
