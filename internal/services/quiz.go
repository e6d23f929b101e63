package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
)

const EventQuizCompleted = "quiz.completed"

// QuizRepository defines persistence operations for questions and scores.
type QuizRepository interface {
	LoadQuestions(ctx context.Context) ([]types.Question, error)
	QuestionsByCategory(ctx context.Context, category string) ([]types.Question, error)
	GetQuestion(ctx context.Context, id int) (types.Question, error)
	SaveQuestions(ctx context.Context, questions []types.Question) error
	SaveQuizScore(ctx context.Context, result store.QuizResult) (types.Score, error)
	GetUserScores(ctx context.Context, username string, limit int) ([]types.Score, error)
	GetScoreStatistics(ctx context.Context, username string) (store.ScoreStatistics, error)
	GetCategoryStatistics(ctx context.Context) (map[string]store.CategoryStatistics, error)
	ClearAllScores(ctx context.Context) (int64, error)
	ClearUserScores(ctx context.Context, username string) (int64, error)
}

// Publisher sends events to a message channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ScoreEvent is published after a quiz attempt is recorded.
type ScoreEvent struct {
	Type  string      `json:"type"`
	Score types.Score `json:"score"`
}

// QuizService encapsulates question and score use-cases.
type QuizService struct {
	repo      QuizRepository
	publisher Publisher
	channel   string
	log       zerolog.Logger
}

// NewQuizService constructs a QuizService. publisher may be nil.
func NewQuizService(repo QuizRepository, publisher Publisher, channel string, log zerolog.Logger) *QuizService {
	return &QuizService{
		repo:      repo,
		publisher: publisher,
		channel:   channel,
		log:       log.With().Str("component", "quiz").Logger(),
	}
}

// Questions lists the question bank, optionally filtered by category.
func (s *QuizService) Questions(ctx context.Context, category string) ([]types.Question, error) {
	if category = strings.TrimSpace(category); category != "" {
		return s.repo.QuestionsByCategory(ctx, category)
	}
	return s.repo.LoadQuestions(ctx)
}

func (s *QuizService) Question(ctx context.Context, id int) (types.Question, error) {
	return s.repo.GetQuestion(ctx, id)
}

// ReplaceQuestions swaps the whole question bank.
func (s *QuizService) ReplaceQuestions(ctx context.Context, questions []types.Question) error {
	return s.repo.SaveQuestions(ctx, questions)
}

// RecordScore stores a completed attempt and announces it. A publish
// failure does not fail the request.
func (s *QuizService) RecordScore(ctx context.Context, result store.QuizResult) (types.Score, error) {
	score, err := s.repo.SaveQuizScore(ctx, result)
	if err != nil {
		return types.Score{}, err
	}
	s.announce(ctx, score)
	return score, nil
}

func (s *QuizService) announce(ctx context.Context, score types.Score) {
	if s.publisher == nil || s.channel == "" {
		return
	}
	data, err := json.Marshal(ScoreEvent{Type: EventQuizCompleted, Score: score})
	if err != nil {
		s.log.Warn().Err(err).Msg("encode score event")
		return
	}
	attrs := map[string]string{"type": EventQuizCompleted, "username": score.Username}
	if _, err := s.publisher.Publish(ctx, s.channel, data, attrs); err != nil {
		s.log.Warn().Err(err).Str("channel", s.channel).Str("score", score.ID).Msg("publish score event")
	}
}

// UserScores returns the newest scores of a user. limit <= 0 returns all.
func (s *QuizService) UserScores(ctx context.Context, username string, limit int) ([]types.Score, error) {
	return s.repo.GetUserScores(ctx, username, limit)
}

func (s *QuizService) UserStatistics(ctx context.Context, username string) (store.ScoreStatistics, error) {
	return s.repo.GetScoreStatistics(ctx, username)
}

func (s *QuizService) CategoryStatistics(ctx context.Context) (map[string]store.CategoryStatistics, error) {
	return s.repo.GetCategoryStatistics(ctx)
}

// ClearScores deletes the scores of username, or every score when
// username is empty.
func (s *QuizService) ClearScores(ctx context.Context, username string) (int64, error) {
	if username = strings.TrimSpace(username); username != "" {
		return s.repo.ClearUserScores(ctx, username)
	}
	return s.repo.ClearAllScores(ctx)
}
