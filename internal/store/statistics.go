package store

import (
	"context"
	"sort"

	"github.com/quizdesk/quizstore/types"
)

// Trend labels for ScoreStatistics.RecentTrend.
const (
	TrendNoData     = "No data"
	TrendImproving  = "Improving"
	TrendDeclining  = "Declining"
	TrendStable     = "Stable"
	TrendNotEnough  = "Not enough data"
	recentTrendSize = 5
)

// ScoreStatistics summarizes a set of quiz attempts.
type ScoreStatistics struct {
	TotalAttempts int     `json:"total_attempts"`
	AverageScore  float64 `json:"avg_score"`
	PassRate      float64 `json:"pass_rate"`
	HighestScore  float64 `json:"highest_score"`
	LowestScore   float64 `json:"lowest_score"`
	RecentTrend   string  `json:"recent_trend"`
}

// CategoryStatistics aggregates per-category results across all attempts.
type CategoryStatistics struct {
	TotalQuestions int     `json:"total_questions"`
	CorrectAnswers int     `json:"correct_answers"`
	Percentage     float64 `json:"percentage"`
}

// GetScoreStatistics summarizes the scores of one user, or of everyone
// when username is empty. Pass rate uses the current passing score.
func (f *Facade) GetScoreStatistics(ctx context.Context, username string) (ScoreStatistics, error) {
	var (
		scores []types.Score
		err    error
	)
	if username == "" {
		scores, err = f.backend.LoadScores(ctx)
	} else {
		scores, err = f.backend.UserScores(ctx, username, 0)
	}
	if err != nil {
		return ScoreStatistics{}, err
	}
	if len(scores) == 0 {
		return ScoreStatistics{RecentTrend: TrendNoData}, nil
	}

	threshold, err := f.PassingScore(ctx)
	if err != nil {
		return ScoreStatistics{}, err
	}

	stats := ScoreStatistics{
		TotalAttempts: len(scores),
		HighestScore:  scores[0].Percentage,
		LowestScore:   scores[0].Percentage,
	}
	var sum float64
	passed := 0
	for _, s := range scores {
		sum += s.Percentage
		if s.Percentage >= threshold {
			passed++
		}
		stats.HighestScore = max(stats.HighestScore, s.Percentage)
		stats.LowestScore = min(stats.LowestScore, s.Percentage)
	}
	stats.AverageScore = sum / float64(len(scores))
	stats.PassRate = float64(passed) / float64(len(scores)) * 100

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Timestamp.After(scores[j].Timestamp)
	})
	recent := scores[:min(recentTrendSize, len(scores))]
	switch {
	case len(recent) < 2:
		stats.RecentTrend = TrendNotEnough
	case recent[0].Percentage > recent[len(recent)-1].Percentage:
		stats.RecentTrend = TrendImproving
	case recent[0].Percentage < recent[len(recent)-1].Percentage:
		stats.RecentTrend = TrendDeclining
	default:
		stats.RecentTrend = TrendStable
	}
	return stats, nil
}

// GetCategoryStatistics totals correct and asked questions per category
// label across every recorded attempt.
func (f *Facade) GetCategoryStatistics(ctx context.Context) (map[string]CategoryStatistics, error) {
	scores, err := f.backend.LoadScores(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]CategoryStatistics)
	for _, s := range scores {
		for label, cs := range s.Categories {
			agg := out[label]
			agg.TotalQuestions += cs.Total
			agg.CorrectAnswers += cs.Correct
			out[label] = agg
		}
	}
	for label, agg := range out {
		if agg.TotalQuestions > 0 {
			agg.Percentage = float64(agg.CorrectAnswers) / float64(agg.TotalQuestions) * 100
		}
		out[label] = agg
	}
	return out, nil
}
