// Package response shapes top-k selections into the client payload.
package response

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Brownie44l1/classify-api/internal/ranking"
)

// Certainty buckets for the top confidence.
const (
	CertaintyHigh   = "high"
	CertaintyMedium = "medium"
	CertaintyLow    = "low"
)

// Labels resolves a class index to its identifier and raw name.
type Labels interface {
	ID(index int) string
	Name(index int) string
}

type Prediction struct {
	Class             string  `json:"class"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent string  `json:"confidence_percent"`
	ClassID           string  `json:"class_id"`
	ClassIndex        int     `json:"class_index"`
	Rank              int     `json:"rank"`
}

type Summary struct {
	TopConfidence     float64 `json:"top_confidence"`
	LowestConfidence  float64 `json:"lowest_confidence"`
	ConfidenceSpread  float64 `json:"confidence_spread"`
	AverageConfidence float64 `json:"average_confidence"`
	CertaintyLevel    string  `json:"certainty_level"`
}

// CleanLabel replaces underscores with spaces and title-cases every word.
// Applying it to its own output returns the same string.
func CleanLabel(label string) string {
	// a Caser keeps state, so one per call
	return cases.Title(language.Und).String(strings.ReplaceAll(label, "_", " "))
}

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func Percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// Format builds the ranked predictions for a top-k selection.
func Format(top []ranking.Class, labels Labels) []Prediction {
	preds := make([]Prediction, 0, len(top))
	for _, c := range top {
		preds = append(preds, Prediction{
			Class:             CleanLabel(labels.Name(c.Index)),
			Confidence:        Round4(c.Probability),
			ConfidencePercent: Percent(c.Probability),
			ClassID:           labels.ID(c.Index),
			ClassIndex:        c.Index,
			Rank:              c.Rank,
		})
	}
	return preds
}

// Summarize computes statistics over the returned predictions only.
func Summarize(preds []Prediction) (Summary, bool) {
	if len(preds) == 0 {
		return Summary{}, false
	}

	top, low, total := preds[0].Confidence, preds[0].Confidence, 0.0
	for _, p := range preds {
		top = math.Max(top, p.Confidence)
		low = math.Min(low, p.Confidence)
		total += p.Confidence
	}

	return Summary{
		TopConfidence:     Round4(top),
		LowestConfidence:  Round4(low),
		ConfidenceSpread:  Round4(top - low),
		AverageConfidence: Round4(total / float64(len(preds))),
		CertaintyLevel:    Certainty(top),
	}, true
}

func Certainty(top float64) string {
	switch {
	case top >= 0.8:
		return CertaintyHigh
	case top >= 0.5:
		return CertaintyMedium
	default:
		return CertaintyLow
	}
}
