package types

import (
	"math"
	"time"
)

// PercentageTolerance is the largest accepted difference between a stored
// percentage and the one derived from Score and MaxScore.
const PercentageTolerance = 0.01

// CategoryScore is the per-category breakdown of a quiz attempt.
type CategoryScore struct {
	Correct int `json:"correct" validate:"gte=0"`
	Total   int `json:"total" validate:"gte=0,gtefield=Correct"`
}

// Score represents one completed quiz attempt.
type Score struct {
	// ID is the unique identifier of the attempt.
	ID string `json:"id" db:"id" validate:"required"`

	// Username references the user who took the quiz.
	Username string `json:"username" db:"username" validate:"required"`

	// Score is the number of correct answers.
	Score int `json:"score" db:"score" validate:"gte=0"`

	// MaxScore is the number of questions asked.
	MaxScore int `json:"max_score" db:"max_score" validate:"gte=0,gtefield=Score"`

	// Percentage is Score / MaxScore * 100.
	Percentage float64 `json:"percentage" db:"percentage" validate:"gte=0,lte=100"`

	// Passed reports whether Percentage met the passing score
	// in effect when the attempt was recorded.
	Passed bool `json:"passed" db:"passed"`

	// Timestamp is when the attempt was completed.
	Timestamp time.Time `json:"timestamp" db:"timestamp" validate:"required"`

	// TimeTaken is the elapsed time in seconds for timed quizzes.
	TimeTaken *float64 `json:"time_taken,omitempty" db:"time_taken" validate:"omitempty,gte=0"`

	// Categories maps a category label to the attempt's sub-score.
	Categories map[string]CategoryScore `json:"categories,omitempty" db:"categories" validate:"omitempty,dive"`
}

// Percentage derives the percentage for a raw score. A zero maximum yields 0.
func Percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return float64(score) / float64(maxScore) * 100
}

// Passing reports whether percentage meets the threshold.
func Passing(percentage, threshold float64) bool {
	return percentage >= threshold
}

// PercentageConsistent reports whether the stored percentage matches
// the derived one within PercentageTolerance.
func (s Score) PercentageConsistent() bool {
	return math.Abs(s.Percentage-Percentage(s.Score, s.MaxScore)) <= PercentageTolerance
}
