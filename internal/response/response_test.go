package response

import (
	"fmt"
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/Brownie44l1/classify-api/internal/ranking"
)

type labelTable struct {
	ids   []string
	names []string
}

func (l labelTable) ID(i int) string {
	if i < len(l.ids) {
		return l.ids[i]
	}
	return strconv.Itoa(i)
}

func (l labelTable) Name(i int) string {
	if i < len(l.names) {
		return l.names[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func TestCleanLabel(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		in       string
		expected string
	}{
		{"golden_retriever", "Golden Retriever"},
		{"Labrador_retriever", "Labrador Retriever"},
		{"tench", "Tench"},
		{"great white shark", "Great White Shark"},
		{"class_42", "Class 42"},
		{"", ""},
	}

	for _, tc := range testCases {
		got := CleanLabel(tc.in)
		c.Assert(got, qt.Equals, tc.expected)
		c.Assert(CleanLabel(got), qt.Equals, got, qt.Commentf("not idempotent for %q", tc.in))
	}
}

func TestFormat(t *testing.T) {
	c := qt.New(t)

	labels := labelTable{
		ids:   []string{"n01440764", "n02099601", "n02099712"},
		names: []string{"tench", "golden_retriever", "Labrador_retriever"},
	}
	top := []ranking.Class{
		{Rank: 1, Index: 1, Probability: 0.8934567},
		{Rank: 2, Index: 2, Probability: 0.0612345},
		{Rank: 3, Index: 7, Probability: 0.0234567},
	}

	preds := Format(top, labels)
	c.Assert(preds, qt.DeepEquals, []Prediction{
		{Class: "Golden Retriever", Confidence: 0.8935, ConfidencePercent: "89.35%", ClassID: "n02099601", ClassIndex: 1, Rank: 1},
		{Class: "Labrador Retriever", Confidence: 0.0612, ConfidencePercent: "6.12%", ClassID: "n02099712", ClassIndex: 2, Rank: 2},
		{Class: "Class 7", Confidence: 0.0235, ConfidencePercent: "2.35%", ClassID: "7", ClassIndex: 7, Rank: 3},
	})
}

func TestSummarize(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		confidences []float64
		expected    Summary
	}{
		{
			confidences: []float64{0.8935, 0.0612, 0.0235},
			expected: Summary{
				TopConfidence:     0.8935,
				LowestConfidence:  0.0235,
				ConfidenceSpread:  0.87,
				AverageConfidence: 0.3261,
				CertaintyLevel:    CertaintyHigh,
			},
		},
		{
			confidences: []float64{0.5, 0.5},
			expected: Summary{
				TopConfidence:     0.5,
				LowestConfidence:  0.5,
				ConfidenceSpread:  0,
				AverageConfidence: 0.5,
				CertaintyLevel:    CertaintyMedium,
			},
		},
		{
			confidences: []float64{0.4999},
			expected: Summary{
				TopConfidence:     0.4999,
				LowestConfidence:  0.4999,
				ConfidenceSpread:  0,
				AverageConfidence: 0.4999,
				CertaintyLevel:    CertaintyLow,
			},
		},
	}

	for _, tc := range testCases {
		preds := make([]Prediction, len(tc.confidences))
		for i, conf := range tc.confidences {
			preds[i] = Prediction{Confidence: conf, Rank: i + 1}
		}
		got, ok := Summarize(preds)
		c.Assert(ok, qt.IsTrue)
		c.Assert(got, qt.DeepEquals, tc.expected)
	}

	_, ok := Summarize(nil)
	c.Assert(ok, qt.IsFalse)
}

func TestCertainty(t *testing.T) {
	c := qt.New(t)
	c.Assert(Certainty(0.8), qt.Equals, CertaintyHigh)
	c.Assert(Certainty(0.79), qt.Equals, CertaintyMedium)
	c.Assert(Certainty(0.5), qt.Equals, CertaintyMedium)
	c.Assert(Certainty(0.1), qt.Equals, CertaintyLow)
}

func TestPercent(t *testing.T) {
	c := qt.New(t)
	c.Assert(Percent(0.12346), qt.Equals, "12.35%")
	c.Assert(Percent(1), qt.Equals, "100.00%")
}
