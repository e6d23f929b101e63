package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/internal/store/filestore"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digest = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

// memTarget is an in-memory relational target enforcing the same keys
// and foreign key as the real schema.
type memTarget struct {
	mu        sync.Mutex
	users     map[string]types.User
	questions map[int]types.Question
	scores    map[string]types.Score
	settings  map[string]types.Setting
	// lose silently drops this many scores on import.
	lose int
	// onImport runs before the users batch is stored.
	onImport func()
}

func newMemTarget() *memTarget {
	t := &memTarget{}
	_ = t.Reset(context.Background())
	return t
}

func (t *memTarget) InitSchema(ctx context.Context) error { return nil }

func (t *memTarget) Counts(ctx context.Context) (store.Counts, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return store.Counts{
		Users:     int64(len(t.users)),
		Questions: int64(len(t.questions)),
		Scores:    int64(len(t.scores)),
		Settings:  int64(len(t.settings)),
	}, nil
}

func (t *memTarget) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = map[string]types.User{}
	t.questions = map[int]types.Question{}
	t.scores = map[string]types.Score{}
	t.settings = map[string]types.Setting{}
	return nil
}

func violation(format string, args ...any) error {
	return store.E(store.ModeRelational, "import", store.ErrConstraintViolation, fmt.Errorf(format, args...))
}

func (t *memTarget) ImportUsers(ctx context.Context, users []types.User) error {
	if t.onImport != nil {
		t.onImport()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[string]bool{}
	for _, u := range users {
		if _, ok := t.users[u.Username]; ok || seen[u.Username] {
			return violation("duplicate user %s", u.Username)
		}
		seen[u.Username] = true
	}
	for _, u := range users {
		t.users[u.Username] = u
	}
	return nil
}

func (t *memTarget) ImportQuestions(ctx context.Context, questions []types.Question) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[int]bool{}
	for _, q := range questions {
		if _, ok := t.questions[q.ID]; ok || seen[q.ID] || !q.AnswerInRange() {
			return violation("question %d", q.ID)
		}
		seen[q.ID] = true
	}
	for _, q := range questions {
		t.questions[q.ID] = q
	}
	return nil
}

func (t *memTarget) ImportScores(ctx context.Context, scores []types.Score) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[string]bool{}
	for _, s := range scores {
		if _, ok := t.users[s.Username]; !ok {
			return violation("score %s references %s", s.ID, s.Username)
		}
		if _, ok := t.scores[s.ID]; ok || seen[s.ID] {
			return violation("duplicate score %s", s.ID)
		}
		seen[s.ID] = true
	}
	for i, s := range scores {
		if i < t.lose {
			continue
		}
		t.scores[s.ID] = s
	}
	return nil
}

func (t *memTarget) ImportSettings(ctx context.Context, settings []types.Setting) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range settings {
		t.settings[s.Key] = s
	}
	return nil
}

func (t *memTarget) CheckIntegrity(ctx context.Context) ([]store.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var questions []types.Question
	for _, q := range t.questions {
		questions = append(questions, q)
	}
	var scores []types.Score
	for _, s := range t.scores {
		scores = append(scores, s)
	}
	return store.Inspect(t.users, questions, scores), nil
}

type memBackup struct {
	objects map[string][]byte
}

func (b *memBackup) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = data
	return nil
}

func (b *memBackup) Bucket() string { return "backups" }

func (b *memBackup) keys() []string {
	var keys []string
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type memPublisher struct {
	messages [][]byte
	attrs    []map[string]string
}

func (p *memPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.messages = append(p.messages, data)
	p.attrs = append(p.attrs, attrs)
	return strconv.Itoa(len(p.messages)), nil
}

type fixture struct {
	source    *filestore.Store
	target    *memTarget
	backup    *memBackup
	publisher *memPublisher
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	source, err := filestore.New(t.TempDir(), filestore.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	f := &fixture{
		source:    source,
		target:    newMemTarget(),
		backup:    &memBackup{},
		publisher: &memPublisher{},
	}
	f.engine = New(Config{
		Source:    f.source,
		Target:    f.target,
		Backup:    f.backup,
		Publisher: f.publisher,
		Channel:   "quiz.migrations",
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) write(t *testing.T, name string, v any) {
	t.Helper()
	var data []byte
	switch raw := v.(type) {
	case string:
		data = []byte(raw)
	default:
		var err error
		data, err = json.MarshalIndent(v, "", "  ")
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.source.Dir(), name), data, 0o644))
}

func (f *fixture) writeAlice(t *testing.T) {
	f.write(t, filestore.UsersFile, map[string]any{
		"alice": map[string]any{"password": digest, "role": "operator"},
	})
	f.write(t, filestore.ScoresFile, []any{
		map[string]any{"id": "s1", "username": "alice", "score": 8, "max_score": 10, "percentage": 80.0, "passed": true},
	})
}

func TestMigrateAliceScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)

	report, err := f.engine.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, report.Phase)
	assert.Equal(t, []Phase{PhaseIdle, PhaseBackingUp, PhaseInitializingSchema, PhaseTransferring, PhaseVerifying, PhaseCommitted}, report.Phases)

	user, ok := f.target.users["alice"]
	require.True(t, ok)
	assert.Equal(t, digest, user.PasswordHash)
	assert.Equal(t, types.RoleOperator, user.Role)

	require.Len(t, f.target.scores, 1)
	s1 := f.target.scores["s1"]
	assert.Equal(t, "alice", s1.Username)
	assert.InDelta(t, 80.0, s1.Percentage, 0.0001)
	assert.True(t, s1.Passed)

	assert.Equal(t, "backups/migration_backup_20240501120000", report.BackupLocation)
	assert.Equal(t, []string{
		"migration_backup_20240501120000/scores.json",
		"migration_backup_20240501120000/users.json",
	}, f.backup.keys())

	require.Len(t, f.publisher.messages, 1)
	var published Report
	require.NoError(t, json.Unmarshal(f.publisher.messages[0], &published))
	assert.Equal(t, PhaseCommitted, published.Phase)
	assert.Equal(t, "committed", f.publisher.attrs[0]["phase"])
	assert.Same(t, report, f.engine.LastReport())
}

func TestMigrateTransfersExactCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	users := map[string]any{}
	for i := 0; i < 4; i++ {
		users[fmt.Sprintf("user%d", i)] = map[string]any{"password": digest, "role": "operator", "created_at": "2024-01-0" + strconv.Itoa(i+1) + " 08:00:00"}
	}
	var scores []any
	for i := 0; i < 7; i++ {
		scores = append(scores, map[string]any{
			"id":        fmt.Sprintf("s%d", i),
			"username":  fmt.Sprintf("user%d", i%4),
			"score":     i,
			"max_score": 10,
			"timestamp": fmt.Sprintf("2024-02-01 10:0%d:00", i),
			"categories": map[string]any{
				"Safety": map[string]int{"correct": 1, "total": 2},
			},
		})
	}
	f.write(t, filestore.UsersFile, users)
	f.write(t, filestore.QuestionsFile, store.DefaultQuestions())
	f.write(t, filestore.ScoresFile, scores)
	f.write(t, filestore.SettingsFile, map[string]any{"passing_score": 70, "company_name": "Acme", "last_updated": "2024-01-01 00:00:00"})

	report, err := f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)

	counts, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Users: 4, Questions: 3, Scores: 7, Settings: 2}, counts)

	for _, er := range report.Entities {
		assert.Equal(t, er.Source, er.Transferred, er.Entity)
		assert.Equal(t, er.Source, er.Destination, er.Entity)
		assert.Zero(t, er.Skipped, er.Entity)
	}
	assert.Empty(t, report.BackupLocation)
	assert.Empty(t, f.backup.objects)

	for _, q := range f.target.questions {
		assert.True(t, q.AnswerInRange())
	}
	for _, s := range f.target.scores {
		assert.True(t, s.PercentageConsistent())
		assert.Equal(t, s.Percentage >= 70, s.Passed)
	}
}

func TestMigrateTwiceReportsAlreadyMigrated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)

	_, err := f.engine.Run(ctx, Options{})
	require.NoError(t, err)
	first, err := f.target.Counts(ctx)
	require.NoError(t, err)

	report, err := f.engine.Run(ctx, Options{})
	require.ErrorIs(t, err, store.ErrAlreadyMigrated)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, PhaseInitializingSchema, report.FailedPhase)

	second, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	report, err = f.engine.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, report.Phase)
	third, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestMigrateSkipsConversionFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.QuestionsFile, `[
		{"id": 1, "question": "ok", "options": ["a", "b", "c", "d"], "answer": 3},
		{"id": 2, "question": "bad", "options": ["a", "b", "c", "d"], "answer": 4}
	]`)

	report, err := f.engine.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Len(t, f.target.questions, 1)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, store.EntityQuestions, report.Skipped[0].Entity)

	var questions EntityReport
	for _, er := range report.Entities {
		if er.Entity == store.EntityQuestions {
			questions = er
		}
	}
	assert.EqualValues(t, 2, questions.Source)
	assert.EqualValues(t, 1, questions.Transferred)
	assert.EqualValues(t, 1, questions.Skipped)
	assert.EqualValues(t, 1, questions.Destination)
}

func TestMigrateStrictModeAbortsOnConversionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.ScoresFile, `[
		{"id": "s1", "username": "alice", "score": 8, "max_score": 10, "timestamp": "last tuesday"}
	]`)

	report, err := f.engine.Run(ctx, Options{Force: true})
	require.ErrorIs(t, err, store.ErrConversion)
	assert.Equal(t, PhaseTransferring, report.FailedPhase)

	counts, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{}, counts)
	assert.NotEmpty(t, f.backup.objects, "backup survives the failure")
}

func TestForcedRunKeepsTargetWhenSourceIsBroken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	_, err := f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)
	before, err := f.target.Counts(ctx)
	require.NoError(t, err)

	f.write(t, filestore.ScoresFile, `[
		{"id": "s1", "username": "alice", "score": 8, "max_score": 10, "timestamp": "2024-02-01 10:00:00"},
		{"id": "s2", "username": "alice", "score": 3, "max_score": 10, "timestamp": "last tuesday"}
	]`)
	report, err := f.engine.Run(ctx, Options{Force: true})
	require.ErrorIs(t, err, store.ErrConversion)
	assert.Equal(t, PhaseTransferring, report.FailedPhase)

	after, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Contains(t, f.target.users, "alice")
	assert.Contains(t, f.target.scores, "s1")
}

func TestMigrateSkipsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.QuestionsFile, `[
		{"id": 1, "question": "first", "options": ["a", "b"], "answer": 0},
		{"id": 1, "question": "again", "options": ["a", "b"], "answer": 1}
	]`)
	f.write(t, filestore.ScoresFile, []any{
		map[string]any{"id": "s1", "username": "alice", "score": 8, "max_score": 10},
		map[string]any{"id": "s1", "username": "alice", "score": 2, "max_score": 10},
	})

	report, err := f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, report.Phase)
	require.Len(t, f.target.questions, 1)
	assert.Equal(t, "first", f.target.questions[1].Question)
	require.Len(t, f.target.scores, 1)
	assert.Equal(t, 8, f.target.scores["s1"].Score)

	require.Len(t, report.Skipped, 2)
	assert.Equal(t, Skip{Entity: store.EntityQuestions, Key: "1", Reason: "duplicate id"}, report.Skipped[0])
	assert.Equal(t, Skip{Entity: store.EntityScores, Key: "s1", Reason: "duplicate id"}, report.Skipped[1])
	for _, er := range report.Entities {
		if er.Entity == store.EntityQuestions || er.Entity == store.EntityScores {
			assert.EqualValues(t, 2, er.Source, er.Entity)
			assert.EqualValues(t, 1, er.Transferred, er.Entity)
			assert.EqualValues(t, 1, er.Skipped, er.Entity)
		}
	}
}

func TestStrictModeAbortsOnDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.QuestionsFile, `[
		{"id": 4, "question": "first", "options": ["a", "b"], "answer": 0},
		{"id": 4, "question": "again", "options": ["a", "b"], "answer": 1}
	]`)

	report, err := f.engine.Run(ctx, Options{NoBackup: true, Force: true})
	require.ErrorIs(t, err, store.ErrConversion)
	assert.Equal(t, PhaseTransferring, report.FailedPhase)
	assert.Empty(t, f.target.questions)
}

func TestMigrateReplacesSeedOnlyTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.QuestionsFile, `[
		{"id": 7, "question": "legacy", "options": ["a", "b"], "answer": 1}
	]`)
	require.NoError(t, f.target.ImportQuestions(ctx, store.DefaultQuestions()))
	require.NoError(t, f.target.ImportSettings(ctx, []types.Setting{
		{Key: types.SettingCompanyName, Value: json.RawMessage(`"Your Company"`)},
	}))

	report, err := f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, report.Phase)

	counts, err := f.target.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Users: 1, Questions: 1, Scores: 1}, counts)
	assert.Contains(t, f.target.questions, 7)
}

func TestRunHoldsSourceWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)

	done := make(chan error, 1)
	finishedEarly := false
	f.target.onImport = func() {
		go func() {
			done <- f.source.CreateUser(ctx, types.User{Username: "bob", PasswordHash: digest, Role: types.RoleOperator, CreatedAt: time.Now()})
		}()
		select {
		case <-done:
			finishedEarly = true
		case <-time.After(50 * time.Millisecond):
		}
	}

	report, err := f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)
	require.False(t, finishedEarly, "source write finished during the run")
	assert.NotContains(t, f.target.users, "bob")
	assert.EqualValues(t, 1, report.Entities[0].Source)

	require.NoError(t, <-done)
	users, err := f.source.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, "bob")
}

func TestMigrateSkipsOrphanedScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.write(t, filestore.ScoresFile, []any{
		map[string]any{"id": "s1", "username": "alice", "score": 8, "max_score": 10},
		map[string]any{"id": "s2", "username": "ghost", "score": 1, "max_score": 10},
	})

	report, err := f.engine.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Len(t, f.target.scores, 1)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "s2", report.Skipped[0].Key)
}

func TestMigrateWithoutSourceFailsBeforeWriting(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.Run(context.Background(), Options{})
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
	assert.Equal(t, PhaseBackingUp, report.FailedPhase)
	assert.Empty(t, f.backup.objects)
}

func TestMigrateVerificationMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)
	f.target.lose = 1

	report, err := f.engine.Run(ctx, Options{})
	require.ErrorIs(t, err, store.ErrVerificationMismatch)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, PhaseVerifying, report.FailedPhase)
	assert.Contains(t, report.Error, "scores: expected 1, found 0")

	assert.Len(t, f.target.users, 1, "transferred rows are not rolled back")
}

func TestVerifyWithoutTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeAlice(t)

	report, err := f.engine.Verify(ctx)
	require.ErrorIs(t, err, store.ErrVerificationMismatch)
	assert.Equal(t, KindVerification, report.Kind)
	assert.Empty(t, f.target.users)

	_, err = f.engine.Run(ctx, Options{NoBackup: true})
	require.NoError(t, err)

	report, err = f.engine.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
}

func TestRunRefusesConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	f.engine.running.Store(true)

	_, err := f.engine.Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrInProgress)
	_, err = f.engine.Verify(context.Background())
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestBackupCopiesDocumentBytes(t *testing.T) {
	f := newFixture(t)
	f.writeAlice(t)

	_, err := f.engine.Run(context.Background(), Options{})
	require.NoError(t, err)

	original, err := os.ReadFile(filepath.Join(f.source.Dir(), filestore.UsersFile))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(original, f.backup.objects["migration_backup_20240501120000/users.json"]))
}
