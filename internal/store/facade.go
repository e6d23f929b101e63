package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
)

const defaultPassingScore = 80

// Options configures a Facade.
type Options struct {
	// PassingScore is used when the passing_score setting is absent.
	PassingScore float64
	Logger       zerolog.Logger
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Facade is the single entry point for reading and writing quiz data.
// The backend is chosen once by the caller and never swapped; a backend
// failure is surfaced as a typed *Error rather than retried elsewhere.
type Facade struct {
	backend      Backend
	passingScore float64
	log          zerolog.Logger
	now          func() time.Time
	newID        func() string
}

// New constructs a Facade over the provided backend.
func New(backend Backend, opts Options) *Facade {
	if opts.PassingScore <= 0 {
		opts.PassingScore = defaultPassingScore
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Facade{
		backend:      backend,
		passingScore: opts.PassingScore,
		log:          opts.Logger.With().Str("component", "facade").Str("backend", string(backend.Mode())).Logger(),
		now:          opts.Now,
		newID:        opts.NewID,
	}
}

// Mode reports which backend serves this Facade.
func (f *Facade) Mode() Mode {
	return f.backend.Mode()
}

// Backend exposes the active backend for administrative tooling.
func (f *Facade) Backend() Backend {
	return f.backend
}

// Close releases the backend.
func (f *Facade) Close() error {
	return f.backend.Close()
}

// invalid reports a validation failure. The validator errors stay in the
// chain so callers can still map them to field messages.
func (f *Facade) invalid(op string, err error) error {
	return &Error{Kind: ErrConstraintViolation, Mode: f.backend.Mode(), Op: op,
		Err: validationError{err: err}}
}

// validationError prints the translated field messages of a validator error.
type validationError struct {
	err error
}

func (v validationError) Error() string { return types.ValidationMessage(v.err) }

func (v validationError) Unwrap() error { return v.err }

// Users

func (f *Facade) LoadUsers(ctx context.Context) (map[string]types.User, error) {
	return f.backend.LoadUsers(ctx)
}

func (f *Facade) SaveUsers(ctx context.Context, users map[string]types.User) error {
	for name, u := range users {
		if name != u.Username {
			return &Error{Kind: ErrConstraintViolation, Mode: f.backend.Mode(), Op: "save_users",
				Err: fmt.Errorf("key %q does not match username %q", name, u.Username)}
		}
		if err := types.Validate(u); err != nil {
			return f.invalid("save_users", err)
		}
	}
	return f.backend.SaveUsers(ctx, users)
}

func (f *Facade) GetUser(ctx context.Context, username string) (types.User, error) {
	return f.backend.GetUser(ctx, strings.TrimSpace(username))
}

// CreateUser stores a new user. An existing username is a constraint violation.
func (f *Facade) CreateUser(ctx context.Context, user types.User) (types.User, error) {
	user.Username = strings.TrimSpace(user.Username)
	if user.Role == "" {
		user.Role = types.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = f.now()
	}
	if err := types.Validate(user); err != nil {
		return types.User{}, f.invalid("create_user", err)
	}
	if err := f.backend.CreateUser(ctx, user); err != nil {
		return types.User{}, err
	}
	f.log.Info().Str("username", user.Username).Str("role", user.Role).Msg("user created")
	return user, nil
}

// SaveUser replaces an existing user's profile, role or password.
func (f *Facade) SaveUser(ctx context.Context, user types.User) error {
	if err := types.Validate(user); err != nil {
		return f.invalid("save_user", err)
	}
	return f.backend.UpdateUser(ctx, user)
}

// DeleteUser removes the user together with all of its scores.
func (f *Facade) DeleteUser(ctx context.Context, username string) error {
	if err := f.backend.DeleteUser(ctx, username); err != nil {
		return err
	}
	f.log.Info().Str("username", username).Msg("user deleted")
	return nil
}

// RecordLogin stamps the user's last-login time.
func (f *Facade) RecordLogin(ctx context.Context, username string) error {
	return f.backend.TouchLogin(ctx, username, f.now())
}

// Questions

func (f *Facade) LoadQuestions(ctx context.Context) ([]types.Question, error) {
	return f.backend.LoadQuestions(ctx)
}

// SaveQuestions replaces the whole question bank. Either every question is
// stored or none is.
func (f *Facade) SaveQuestions(ctx context.Context, questions []types.Question) error {
	normalized := make([]types.Question, len(questions))
	seen := make(map[int]bool, len(questions))
	for i, q := range questions {
		q = q.WithDefaults()
		if err := types.Validate(q); err != nil {
			return f.invalid("save_questions", err)
		}
		if seen[q.ID] {
			return &Error{Kind: ErrConstraintViolation, Mode: f.backend.Mode(), Op: "save_questions",
				Err: fmt.Errorf("duplicate question id %d", q.ID)}
		}
		seen[q.ID] = true
		normalized[i] = q
	}
	return f.backend.SaveQuestions(ctx, normalized)
}

func (f *Facade) GetQuestion(ctx context.Context, id int) (types.Question, error) {
	return f.backend.GetQuestion(ctx, id)
}

// AddQuestion stores a new question under the next free id.
func (f *Facade) AddQuestion(ctx context.Context, q types.Question) (types.Question, error) {
	q = q.WithDefaults()
	q.ID = 0
	if err := types.Validate(q); err != nil {
		return types.Question{}, f.invalid("add_question", err)
	}
	return f.backend.AddQuestion(ctx, q)
}

func (f *Facade) UpdateQuestion(ctx context.Context, q types.Question) error {
	q = q.WithDefaults()
	if err := types.Validate(q); err != nil {
		return f.invalid("update_question", err)
	}
	return f.backend.UpdateQuestion(ctx, q)
}

func (f *Facade) DeleteQuestion(ctx context.Context, id int) error {
	return f.backend.DeleteQuestion(ctx, id)
}

func (f *Facade) QuestionsByCategory(ctx context.Context, category string) ([]types.Question, error) {
	return f.backend.QuestionsByCategory(ctx, category)
}

// Scores

// LoadScores returns every score, newest first.
func (f *Facade) LoadScores(ctx context.Context) ([]types.Score, error) {
	return f.backend.LoadScores(ctx)
}

func (f *Facade) SaveScores(ctx context.Context, scores []types.Score) error {
	for _, s := range scores {
		if err := types.Validate(s); err != nil {
			return f.invalid("save_scores", err)
		}
	}
	return f.backend.SaveScores(ctx, scores)
}

// QuizResult is the outcome of a completed quiz as reported by the caller.
type QuizResult struct {
	Username   string                         `json:"username"`
	Correct    int                            `json:"score"`
	Total      int                            `json:"max_score"`
	TimeTaken  *float64                       `json:"time_taken,omitempty"`
	Categories map[string]types.CategoryScore `json:"categories,omitempty"`
}

// SaveQuizScore records a quiz attempt. The id, percentage, pass flag and
// timestamp are derived here; the user must exist.
func (f *Facade) SaveQuizScore(ctx context.Context, result QuizResult) (types.Score, error) {
	threshold, err := f.PassingScore(ctx)
	if err != nil {
		return types.Score{}, err
	}

	percentage := types.Percentage(result.Correct, result.Total)
	score := types.Score{
		ID:         f.newID(),
		Username:   strings.TrimSpace(result.Username),
		Score:      result.Correct,
		MaxScore:   result.Total,
		Percentage: percentage,
		Passed:     types.Passing(percentage, threshold),
		Timestamp:  f.now(),
		TimeTaken:  result.TimeTaken,
		Categories: result.Categories,
	}
	if err := types.Validate(score); err != nil {
		return types.Score{}, f.invalid("save_quiz_score", err)
	}
	if err := f.backend.AddScore(ctx, score); err != nil {
		return types.Score{}, err
	}

	f.log.Info().
		Str("username", score.Username).
		Float64("percentage", score.Percentage).
		Bool("passed", score.Passed).
		Msg("quiz score recorded")
	return score, nil
}

// GetUserScores returns the user's scores, newest first. limit <= 0 returns all.
func (f *Facade) GetUserScores(ctx context.Context, username string, limit int) ([]types.Score, error) {
	return f.backend.UserScores(ctx, username, limit)
}

func (f *Facade) ClearAllScores(ctx context.Context) (int64, error) {
	n, err := f.backend.ClearScores(ctx)
	if err != nil {
		return 0, err
	}
	f.log.Warn().Int64("deleted", n).Msg("all scores cleared")
	return n, nil
}

func (f *Facade) ClearUserScores(ctx context.Context, username string) (int64, error) {
	n, err := f.backend.ClearUserScores(ctx, username)
	if err != nil {
		return 0, err
	}
	f.log.Warn().Str("username", username).Int64("deleted", n).Msg("user scores cleared")
	return n, nil
}

// Settings

func (f *Facade) LoadSettings(ctx context.Context) (map[string]types.Setting, error) {
	return f.backend.LoadSettings(ctx)
}

func (f *Facade) SaveSettings(ctx context.Context, settings map[string]types.Setting) error {
	now := f.now()
	out := make(map[string]types.Setting, len(settings))
	for key, s := range settings {
		s.Key = key
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
		if err := types.Validate(s); err != nil {
			return f.invalid("save_settings", err)
		}
		out[key] = s
	}
	return f.backend.SaveSettings(ctx, out)
}

func (f *Facade) GetSetting(ctx context.Context, key string) (types.Setting, error) {
	return f.backend.GetSetting(ctx, key)
}

// SetSetting stores a single setting value stamped with the current time.
func (f *Facade) SetSetting(ctx context.Context, key string, value any) (types.Setting, error) {
	setting, err := types.NewSetting(key, value, f.now())
	if err != nil {
		return types.Setting{}, &Error{Kind: ErrConversion, Mode: f.backend.Mode(), Op: "set_setting", Err: err}
	}
	if err := types.Validate(setting); err != nil {
		return types.Setting{}, f.invalid("set_setting", err)
	}
	if err := f.backend.PutSetting(ctx, setting); err != nil {
		return types.Setting{}, err
	}
	return setting, nil
}

// PassingScore returns the configured passing percentage.
func (f *Facade) PassingScore(ctx context.Context) (float64, error) {
	setting, err := f.backend.GetSetting(ctx, types.SettingPassingScore)
	if errors.Is(err, ErrNotFound) {
		return f.passingScore, nil
	}
	if err != nil {
		return 0, err
	}
	var threshold float64
	if err := setting.Decode(&threshold); err != nil {
		f.log.Warn().Err(err).Msg("passing_score setting is not a number, using default")
		return f.passingScore, nil
	}
	return threshold, nil
}

// BoolSetting decodes a boolean setting, returning def when it is absent
// or not a boolean.
func (f *Facade) BoolSetting(ctx context.Context, key string, def bool) (bool, error) {
	setting, err := f.backend.GetSetting(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	var v bool
	if err := setting.Decode(&v); err != nil {
		return def, nil
	}
	return v, nil
}

// Administration

func (f *Facade) Counts(ctx context.Context) (Counts, error) {
	return f.backend.Counts(ctx)
}

// Statistics reports row counts and approximate size of the active backend.
func (f *Facade) Statistics(ctx context.Context) (Stats, error) {
	return f.backend.Stats(ctx)
}

// CheckIntegrity lists stored records that break a data invariant.
func (f *Facade) CheckIntegrity(ctx context.Context) ([]Issue, error) {
	issues, err := f.backend.CheckIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Entity != issues[j].Entity {
			return issues[i].Entity < issues[j].Entity
		}
		return issues[i].Key < issues[j].Key
	})
	return issues, nil
}
