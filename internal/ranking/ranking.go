// Package ranking turns raw classifier scores into a probability
// distribution and picks the top-k classes.
package ranking

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrNoScores      = errors.New("empty score vector")
	ErrInvalidScores = errors.New("score vector contains non-finite values")
	ErrInvalidK      = errors.New("k out of range")
)

// Activation tells how the model's output vector should be read.
type Activation string

const (
	// Logits are unnormalized scores and go through softmax.
	Logits Activation = "logits"
	// Probabilities already sum to one (softmax inside the graph) and are only renormalized.
	Probabilities Activation = "probabilities"
)

// DefaultK is the number of classes reported when no top-k is configured.
const DefaultK = 5

// Class is one entry of a top-k selection.
type Class struct {
	Rank        int
	Index       int
	Probability float64
}

// Softmax computes exp(s_i) / sum_j exp(s_j), shifted by the max score for stability.
func Softmax(scores []float32) ([]float64, error) {
	if err := check(scores); err != nil {
		return nil, err
	}

	hi := float64(scores[0])
	for _, s := range scores[1:] {
		hi = math.Max(hi, float64(s))
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - hi)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// Normalize divides by the sum after clipping negatives to zero. A vector
// with no positive mass becomes uniform.
func Normalize(scores []float32) ([]float64, error) {
	if err := check(scores); err != nil {
		return nil, err
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Max(0, float64(s))
		sum += probs[i]
	}
	if sum == 0 {
		for i := range probs {
			probs[i] = 1 / float64(len(probs))
		}
		return probs, nil
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// ToProbabilities converts scores according to the model's output activation.
func ToProbabilities(scores []float32, act Activation) ([]float64, error) {
	if act == Probabilities {
		return Normalize(scores)
	}
	return Softmax(scores)
}

// TopK returns the k most probable classes. Equal probabilities are
// ordered by ascending class index.
func TopK(probs []float64, k int) ([]Class, error) {
	if len(probs) == 0 {
		return nil, ErrNoScores
	}
	if k < 1 || k > len(probs) {
		return nil, errors.Wrapf(ErrInvalidK, "k=%d with %d classes", k, len(probs))
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		pa, pb := probs[idx[a]], probs[idx[b]]
		if pa != pb {
			return pa > pb
		}
		return idx[a] < idx[b]
	})

	top := make([]Class, k)
	for r := 0; r < k; r++ {
		top[r] = Class{Rank: r + 1, Index: idx[r], Probability: probs[idx[r]]}
	}
	return top, nil
}

// Select is ToProbabilities followed by TopK.
func Select(scores []float32, k int, act Activation) ([]float64, []Class, error) {
	probs, err := ToProbabilities(scores, act)
	if err != nil {
		return nil, nil, err
	}
	top, err := TopK(probs, k)
	if err != nil {
		return nil, nil, err
	}
	return probs, top, nil
}

func check(scores []float32) error {
	if len(scores) == 0 {
		return ErrNoScores
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return errors.Wrapf(ErrInvalidScores, "score %d is %v", i, s)
		}
	}
	return nil
}
