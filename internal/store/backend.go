package store

import (
	"context"
	"time"

	"github.com/quizdesk/quizstore/types"
)

// Backend is a record store for the four quiz collections.
// Implementations return *Error values so callers never see
// driver-specific error shapes.
type Backend interface {
	Mode() Mode

	LoadUsers(ctx context.Context) (map[string]types.User, error)
	SaveUsers(ctx context.Context, users map[string]types.User) error
	GetUser(ctx context.Context, username string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) error
	UpdateUser(ctx context.Context, user types.User) error
	// DeleteUser removes the user and every score it owns.
	DeleteUser(ctx context.Context, username string) error
	TouchLogin(ctx context.Context, username string, at time.Time) error

	// LoadQuestions returns every question ordered by id.
	LoadQuestions(ctx context.Context) ([]types.Question, error)
	SaveQuestions(ctx context.Context, questions []types.Question) error
	GetQuestion(ctx context.Context, id int) (types.Question, error)
	// AddQuestion assigns the next id and stores the question.
	AddQuestion(ctx context.Context, question types.Question) (types.Question, error)
	UpdateQuestion(ctx context.Context, question types.Question) error
	DeleteQuestion(ctx context.Context, id int) error
	QuestionsByCategory(ctx context.Context, category string) ([]types.Question, error)

	// LoadScores returns every score, newest first.
	LoadScores(ctx context.Context) ([]types.Score, error)
	SaveScores(ctx context.Context, scores []types.Score) error
	AddScore(ctx context.Context, score types.Score) error
	// UserScores returns the user's scores newest first; limit <= 0 means all.
	UserScores(ctx context.Context, username string, limit int) ([]types.Score, error)
	ClearScores(ctx context.Context) (int64, error)
	ClearUserScores(ctx context.Context, username string) (int64, error)

	LoadSettings(ctx context.Context) (map[string]types.Setting, error)
	SaveSettings(ctx context.Context, settings map[string]types.Setting) error
	GetSetting(ctx context.Context, key string) (types.Setting, error)
	PutSetting(ctx context.Context, setting types.Setting) error

	Counts(ctx context.Context) (Counts, error)
	Stats(ctx context.Context) (Stats, error)
	CheckIntegrity(ctx context.Context) ([]Issue, error)
	Close() error
}

// Counts holds per-entity record counts.
type Counts struct {
	Users     int64 `json:"users"`
	Questions int64 `json:"questions"`
	Scores    int64 `json:"scores"`
	Settings  int64 `json:"settings"`
}

// Get returns the count for the named entity.
func (c Counts) Get(entity string) int64 {
	switch entity {
	case EntityUsers:
		return c.Users
	case EntityQuestions:
		return c.Questions
	case EntityScores:
		return c.Scores
	case EntitySettings:
		return c.Settings
	}
	return 0
}

// Total sums the counts of every entity.
func (c Counts) Total() int64 {
	return c.Users + c.Questions + c.Scores + c.Settings
}

// Migrated reports whether a relational store with these counts already
// received a migration or live traffic. Questions and settings alone are
// seed data.
func (c Counts) Migrated() bool {
	return c.Users > 0 || c.Scores > 0
}

// Entity names, in foreign-key order.
const (
	EntityUsers     = "users"
	EntityQuestions = "questions"
	EntityScores    = "scores"
	EntitySettings  = "settings"
)

// Entities lists every entity so that referents precede dependents.
var Entities = []string{EntityUsers, EntityQuestions, EntityScores, EntitySettings}

// TableStats describes one collection as seen by the backend.
type TableStats struct {
	Name      string   `json:"name"`
	Rows      int64    `json:"rows"`
	SizeBytes int64    `json:"size_bytes"`
	Columns   []string `json:"columns,omitempty"`
}

// Stats is the database statistics report.
type Stats struct {
	Mode      Mode         `json:"mode"`
	Location  string       `json:"location"`
	SizeBytes int64        `json:"size_bytes"`
	Tables    []TableStats `json:"tables"`
}

// Issue is a single integrity problem found in stored data.
type Issue struct {
	Entity  string `json:"entity"`
	Key     string `json:"key"`
	Problem string `json:"problem"`
}
