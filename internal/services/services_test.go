package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/quizdesk/quizstore/internal/migration"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/internal/store/filestore"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newFacade(t *testing.T) *store.Facade {
	t.Helper()
	fs, err := filestore.New(t.TempDir(), filestore.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return store.New(fs, store.Options{Logger: zerolog.Nop()})
}

func TestCheckPassword(t *testing.T) {
	hashed, err := HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, types.IsPasswordHash(hashed))

	ok, legacy := CheckPassword(hashed, "secret")
	assert.True(t, ok)
	assert.False(t, legacy)
	ok, _ = CheckPassword(hashed, "wrong")
	assert.False(t, ok)

	digest := LegacyDigest("password")
	assert.Equal(t, "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8", digest)
	ok, legacy = CheckPassword(digest, "password")
	assert.True(t, ok)
	assert.True(t, legacy)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	users := NewUserService(f, bcrypt.MinCost, zerolog.Nop())

	user, err := users.Register(ctx, Registration{Username: " alice ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, types.RoleOperator, user.Role)

	_, err = users.Register(ctx, Registration{Username: "alice", Password: "secret1"})
	assert.ErrorIs(t, err, store.ErrConstraintViolation)

	_, err = users.Authenticate(ctx, "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "ghost", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	user, err = users.Authenticate(ctx, "alice", "secret1")
	require.NoError(t, err)
	require.NotNil(t, user.LastLogin)
}

func TestRegisterValidatesInput(t *testing.T) {
	users := NewUserService(newFacade(t), bcrypt.MinCost, zerolog.Nop())

	_, err := users.Register(context.Background(), Registration{Username: "bob", Password: "123"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, types.TranslateErrors(err), "password")
}

func TestRegisterHonoursSetting(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	_, err := f.SetSetting(ctx, types.SettingSelfRegistration, false)
	require.NoError(t, err)
	users := NewUserService(f, bcrypt.MinCost, zerolog.Nop())

	_, err = users.Register(ctx, Registration{Username: "bob", Password: "secret1"})
	assert.ErrorIs(t, err, ErrRegistrationClosed)

	admin, err := users.CreateAdmin(ctx, Registration{Username: "root", Password: "secret1"})
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
}

func TestAuthenticateUpgradesLegacyDigest(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	_, err := f.CreateUser(ctx, types.User{Username: "alice", PasswordHash: LegacyDigest("password")})
	require.NoError(t, err)
	users := NewUserService(f, bcrypt.MinCost, zerolog.Nop())

	user, err := users.Authenticate(ctx, "alice", "password")
	require.NoError(t, err)
	_, legacy := CheckPassword(user.PasswordHash, "password")
	assert.False(t, legacy)

	require.NoError(t, users.ChangePassword(ctx, "alice", "password", "another1"))
	_, err = users.Authenticate(ctx, "alice", "password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "alice", "another1")
	assert.NoError(t, err)
}

type recordingPublisher struct {
	channel string
	data    [][]byte
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.channel = channel
	p.data = append(p.data, data)
	return "1", p.err
}

func TestRecordScorePublishesEvent(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	_, err := f.CreateUser(ctx, types.User{Username: "alice", PasswordHash: LegacyDigest("password")})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	quiz := NewQuizService(f, pub, "quiz.completed", zerolog.Nop())

	score, err := quiz.RecordScore(ctx, store.QuizResult{Username: "alice", Correct: 4, Total: 4})
	require.NoError(t, err)
	assert.True(t, score.Passed)

	require.Len(t, pub.data, 1)
	assert.Equal(t, "quiz.completed", pub.channel)
	var event ScoreEvent
	require.NoError(t, json.Unmarshal(pub.data[0], &event))
	assert.Equal(t, EventQuizCompleted, event.Type)
	assert.Equal(t, score.ID, event.Score.ID)

	pub.err = errors.New("broker down")
	_, err = quiz.RecordScore(ctx, store.QuizResult{Username: "alice", Correct: 1, Total: 4})
	require.NoError(t, err)

	n, err := quiz.ClearScores(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = quiz.RecordScore(ctx, store.QuizResult{Username: "ghost", Correct: 1, Total: 4})
	assert.ErrorIs(t, err, store.ErrConstraintViolation)
	assert.Len(t, pub.data, 2)
}

func TestQuestionsFilter(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	quiz := NewQuizService(f, nil, "", zerolog.Nop())
	require.NoError(t, quiz.ReplaceQuestions(ctx, store.DefaultQuestions()))

	all, err := quiz.Questions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ops, err := quiz.Questions(ctx, " Operation ")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].ID)
}

type stubMigrator struct {
	report *migration.Report
	err    error
	runs   int
}

func (m *stubMigrator) Run(ctx context.Context, opts migration.Options) (*migration.Report, error) {
	m.runs++
	return m.report, m.err
}

func (m *stubMigrator) Verify(ctx context.Context) (*migration.Report, error) {
	return m.report, m.err
}

func (m *stubMigrator) LastReport() *migration.Report { return m.report }

func TestAdminWithoutMigrator(t *testing.T) {
	ctx := context.Background()
	admin := NewAdminService(newFacade(t), nil, zerolog.Nop())

	_, err := admin.Migrate(ctx, migration.Options{})
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	assert.ErrorIs(t, err, ErrNoMigrator)
	assert.Nil(t, admin.LastMigration())

	report, err := admin.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, store.ModeFile, report.Mode)
}

func TestAdminVerifyIncludesMigrationReport(t *testing.T) {
	ctx := context.Background()
	failed := &migration.Report{Kind: migration.KindVerification, Phase: migration.PhaseFailed}
	m := &stubMigrator{report: failed, err: store.E(store.ModeRelational, "verify", store.ErrVerificationMismatch, nil)}
	admin := NewAdminService(newFacade(t), m, zerolog.Nop())

	report, err := admin.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Same(t, failed, report.Verification)
	assert.False(t, report.OK())

	_, err = admin.Migrate(ctx, migration.Options{Force: true})
	assert.ErrorIs(t, err, store.ErrVerificationMismatch)
	assert.Equal(t, 1, m.runs)
}

// relationalRepo reports the relational mode over a file-backed facade.
type relationalRepo struct {
	*store.Facade
}

func (relationalRepo) Mode() store.Mode { return store.ModeRelational }

func TestAdminRefusesMigrationWhileServingRelational(t *testing.T) {
	m := &stubMigrator{report: &migration.Report{Phase: migration.PhaseCommitted}}
	admin := NewAdminService(relationalRepo{newFacade(t)}, m, zerolog.Nop())

	report, err := admin.Migrate(context.Background(), migration.Options{Force: true})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrServingRelational)
	assert.ErrorIs(t, err, store.ErrAlreadyMigrated)
	assert.Zero(t, m.runs)
}

func TestAdminUpdateSettings(t *testing.T) {
	ctx := context.Background()
	admin := NewAdminService(newFacade(t), nil, zerolog.Nop())

	updated, err := admin.UpdateSettings(ctx, map[string]json.RawMessage{
		types.SettingPassingScore: json.RawMessage(`75`),
		types.SettingCompanyName:  json.RawMessage(`"Acme"`),
	})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	settings, err := admin.Settings(ctx)
	require.NoError(t, err)
	var threshold float64
	require.NoError(t, settings[types.SettingPassingScore].Decode(&threshold))
	assert.Equal(t, 75.0, threshold)

	_, err = admin.UpdateSettings(ctx, map[string]json.RawMessage{"broken": json.RawMessage(`{`)})
	assert.ErrorIs(t, err, store.ErrConversion)
}

func TestAdminVerifySkipsUnreachableTarget(t *testing.T) {
	m := &stubMigrator{err: store.E(store.ModeRelational, "open", store.ErrStorageUnavailable, errors.New("connection refused"))}
	admin := NewAdminService(newFacade(t), m, zerolog.Nop())

	report, err := admin.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Verification)
	assert.True(t, report.OK())
}
