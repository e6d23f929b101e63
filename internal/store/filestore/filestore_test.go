package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digest = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, s *Store, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(content), 0o644))
}

func testUser(name string) types.User {
	return types.User{
		Username:     name,
		PasswordHash: digest,
		Name:         "User " + name,
		Role:         types.RoleOperator,
		CreatedAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local),
	}
}

func testScore(id, username string, correct, total int, at time.Time) types.Score {
	pct := types.Percentage(correct, total)
	return types.Score{
		ID:         id,
		Username:   username,
		Score:      correct,
		MaxScore:   total,
		Percentage: pct,
		Passed:     pct >= 80,
		Timestamp:  at,
	}
}

func TestMissingDocumentsReadEmpty(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	users, err := s.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	questions, err := s.LoadQuestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, questions)

	scores, err := s.LoadScores(ctx)
	require.NoError(t, err)
	assert.Empty(t, scores)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.CreateUser(ctx, testUser("alice")))

	err := s.CreateUser(ctx, testUser("alice"))
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	got, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "User alice", got.Name)
	assert.True(t, got.CreatedAt.Equal(testUser("alice").CreatedAt))
	assert.Nil(t, got.LastLogin)

	at := time.Date(2024, 3, 2, 8, 30, 0, 0, time.Local)
	require.NoError(t, s.TouchLogin(ctx, "alice", at))
	got, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(at))

	got.Role = types.RoleAdministrator
	require.NoError(t, s.UpdateUser(ctx, got))
	got, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())

	assert.ErrorIs(t, s.UpdateUser(ctx, testUser("bob")), store.ErrNotFound)
}

func TestDeleteUserCascadesScores(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

	require.NoError(t, s.CreateUser(ctx, testUser("alice")))
	require.NoError(t, s.CreateUser(ctx, testUser("bob")))
	require.NoError(t, s.AddScore(ctx, testScore("s1", "alice", 8, 10, now)))
	require.NoError(t, s.AddScore(ctx, testScore("s2", "bob", 9, 10, now)))

	require.NoError(t, s.DeleteUser(ctx, "alice"))

	scores, err := s.UserScores(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, scores)

	all, err := s.LoadScores(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "s2", all[0].ID)

	assert.ErrorIs(t, s.DeleteUser(ctx, "alice"), store.ErrNotFound)
}

func TestAddScoreUnknownUserLeavesScoresUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	require.NoError(t, s.CreateUser(ctx, testUser("alice")))
	require.NoError(t, s.AddScore(ctx, testScore("s1", "alice", 8, 10, now)))

	err := s.AddScore(ctx, testScore("s2", "ghost", 5, 10, now))
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	err = s.AddScore(ctx, testScore("s1", "alice", 5, 10, now))
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	scores, err := s.LoadScores(ctx)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestUserScoresNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)

	require.NoError(t, s.CreateUser(ctx, testUser("alice")))
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddScore(ctx, testScore(id, "alice", 5+i, 10, base.Add(time.Duration(i)*time.Hour))))
	}

	scores, err := s.UserScores(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "c", scores[0].ID)
	assert.Equal(t, "b", scores[1].ID)

	n, err := s.ClearUserScores(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestQuestionsAssignNextID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.AddQuestion(ctx, types.Question{Question: "Q1", Options: []string{"a", "b"}, Answer: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)

	require.NoError(t, s.SaveQuestions(ctx, []types.Question{
		{ID: 7, Question: "Q7", Options: []string{"a", "b"}, Answer: 1, Category: "Safety"},
		{ID: 3, Question: "Q3", Options: []string{"a", "b"}, Answer: 0, Category: "Operation"},
	}))

	next, err := s.AddQuestion(ctx, types.Question{Question: "Q8", Options: []string{"a", "b"}, Answer: 1, Category: "Safety"})
	require.NoError(t, err)
	assert.Equal(t, 8, next.ID)

	all, err := s.LoadQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{3, 7, 8}, []int{all[0].ID, all[1].ID, all[2].ID})

	safety, err := s.QuestionsByCategory(ctx, "Safety")
	require.NoError(t, err)
	assert.Len(t, safety, 2)

	require.NoError(t, s.DeleteQuestion(ctx, 7))
	_, err = s.GetQuestion(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWritesLeaveNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateUser(ctx, testUser("alice")))
	require.NoError(t, s.SaveQuestions(ctx, store.DefaultQuestions()))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{UsersFile, QuestionsFile}, names)

	data, err := os.ReadFile(filepath.Join(s.Dir(), UsersFile))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Contains(t, string(data), `"created_at": "2024-03-01 10:00:00"`)
}

func TestLegacyDocuments(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeFile(t, s, UsersFile, `{"alice": {"password": "`+digest+`", "role": "operator"}}`)
	writeFile(t, s, SettingsFile, `{"passing_score": 70, "company_name": "Acme", "last_updated": "2024-02-01 08:00:00"}`)
	writeFile(t, s, ScoresFile, `[{"username": "alice", "score": 7, "max_score": 10, "timestamp": "2024-02-02 09:15:00"}]`)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.JSONEq(t, `"Acme"`, string(settings["company_name"].Value))
	assert.Equal(t, time.Date(2024, 2, 1, 8, 0, 0, 0, time.Local), settings["company_name"].UpdatedAt)

	scores, err := s.LoadScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	sc := scores[0]
	assert.NotEmpty(t, sc.ID)
	assert.InDelta(t, 70.0, sc.Percentage, 0.001)
	assert.True(t, sc.Passed, "derived against passing_score 70")

	again, err := s.LoadScores(ctx)
	require.NoError(t, err)
	assert.Equal(t, sc.ID, again[0].ID, "derived ids are stable")

	user, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.CreatedAt.IsZero())

	require.NoError(t, s.PutSetting(ctx, settings["company_name"]))
	reloaded, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded, 2)
	assert.JSONEq(t, `70`, string(reloaded["passing_score"].Value))
}

func TestSnapshotReportsConversionFailures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	writeFile(t, s, UsersFile, `{
		"alice": {"password": "`+digest+`", "role": "operator", "created_at": "2024-01-01 10:00:00"},
		"bob": {"password": "plaintext", "role": "operator"},
		"carol": {"password": "`+digest+`", "role": "operator", "created_at": "yesterday"}
	}`)
	writeFile(t, s, QuestionsFile, `[
		{"id": 1, "question": "ok", "options": ["a", "b"], "answer": 1},
		{"id": 2, "question": "bad", "options": ["a", "b"], "answer": 2}
	]`)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, snap.Counts.Users)
	assert.EqualValues(t, 2, snap.Counts.Questions)
	assert.Len(t, snap.Users, 1)
	assert.Len(t, snap.Questions, 1)
	require.Len(t, snap.Failures, 3)
	assert.ElementsMatch(t, []string{UsersFile, QuestionsFile}, snap.Present)
	for _, f := range snap.Failures {
		assert.ErrorIs(t, f, store.ErrConversion)
	}

	_, err = s.LoadUsers(ctx)
	assert.ErrorIs(t, err, store.ErrConversion)

	issues, err := s.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Len(t, issues, 3)
}

func TestMalformedDocument(t *testing.T) {
	s := newStore(t)
	writeFile(t, s, QuestionsFile, `{not json`)

	_, err := s.LoadQuestions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConversion)

	var se *store.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.ModeFile, se.Mode)
}

func TestStatsAndRestore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateUser(ctx, testUser("alice")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.Tables, 4)
	assert.Equal(t, store.EntityUsers, stats.Tables[0].Name)
	assert.EqualValues(t, 1, stats.Tables[0].Rows)
	assert.Positive(t, stats.SizeBytes)

	backup, err := os.Open(filepath.Join(s.Dir(), UsersFile))
	require.NoError(t, err)
	defer backup.Close()

	other := newStore(t)
	require.NoError(t, other.RestoreDocument(UsersFile, backup))
	users, err := other.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, "alice")

	err = other.RestoreDocument("passwd", backup)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFreezeHoldsWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateUser(ctx, testUser("alice")))

	release := s.Freeze()
	done := make(chan error, 1)
	go func() { done <- s.CreateUser(ctx, testUser("bob")) }()

	select {
	case <-done:
		t.Fatal("write finished while the store was frozen")
	case <-time.After(50 * time.Millisecond):
	}

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err, "reads are not blocked")
	assert.Len(t, snap.Users, 1)

	release()
	release()
	require.NoError(t, <-done)
	users, err := s.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
