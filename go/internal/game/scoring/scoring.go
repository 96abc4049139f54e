package scoring

import (
	"math"
	"time"

	"github.com/quizbuzz/quizbuzz/go/internal/models"
)

// Outcome is the result of resolving one answer.
type Outcome struct {
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"points_awarded"`
}

// minCreditFactor floors awards at half the question's base value; answering
// correctly at the window boundary is never worthless.
const minCreditFactor = 0.5

// ResolveAnswer scores a winner's answer. Full credit for instant answers
// decays linearly to half credit at the window boundary:
//
//	points = round(base * max(0.5, 1 - elapsed/window))
//
// Incorrect answers award nothing.
func ResolveAnswer(question *models.Question, selectedOption int, elapsed, window time.Duration) Outcome {
	if selectedOption != question.CorrectOption {
		return Outcome{}
	}

	factor := 1.0
	if window > 0 {
		factor = 1 - float64(elapsed)/float64(window)
	}
	factor = math.Max(minCreditFactor, math.Min(1, factor))

	return Outcome{
		Correct:       true,
		PointsAwarded: int(math.Round(float64(question.Points) * factor)),
	}
}
