// Package briefing scores clinician briefings against a fixed keyword
// rubric.
package briefing

import (
	"strings"
)

var (
	requiredHeadings = []string{"overview", "vitals", "risk", "next steps"}
	clinicalKeywords = []string{"symptom", "vital", "triage", "history", "medication", "follow"}
	safetyKeywords   = []string{"risk", "warning", "red flag", "escalate", "urgent"}
)

// MaxTotal is the best possible total score.
const MaxTotal = 15

// Scores holds the rubric result. Each dimension is out of 5.
type Scores struct {
	StructureClarity     int `json:"structure_clarity"`
	ClinicalCompleteness int `json:"clinical_completeness"`
	SafetyAwareness      int `json:"safety_awareness"`
	Total                int `json:"total"`
}

// Evaluate scores a Markdown briefing. Matching is case-insensitive
// substring search.
func Evaluate(text string) Scores {
	lower := strings.ToLower(text)
	s := Scores{
		StructureClarity:     scoreStructure(lower),
		ClinicalCompleteness: scoreCompleteness(lower),
		SafetyAwareness:      scoreSafety(lower),
	}
	s.Total = s.StructureClarity + s.ClinicalCompleteness + s.SafetyAwareness
	return s
}

func scoreStructure(lower string) int {
	hits := countHits(lower, requiredHeadings)
	switch {
	case hits == len(requiredHeadings):
		return 5
	case hits >= 2:
		return 3
	default:
		return 1
	}
}

func scoreCompleteness(lower string) int {
	hits := countHits(lower, clinicalKeywords)
	switch {
	case hits >= 5:
		return 5
	case hits >= 3:
		return 3
	default:
		return 1
	}
}

// scoreSafety is the only dimension that can score zero.
func scoreSafety(lower string) int {
	hits := countHits(lower, safetyKeywords)
	switch {
	case hits >= 3:
		return 5
	case hits >= 1:
		return 3
	default:
		return 0
	}
}

func countHits(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
