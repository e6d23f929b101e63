package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/quizdesk/quizstore/internal/migration"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoMigrator is returned when no relational target is configured.
	ErrNoMigrator = errors.New("relational store is not configured")
	// ErrServingRelational is returned when a migration is requested from
	// a server that already writes to the relational store.
	ErrServingRelational = errors.New("server is serving from the relational store; run the migration offline")
)

// AdminRepository defines the administrative operations on the active store.
type AdminRepository interface {
	Mode() store.Mode
	Counts(ctx context.Context) (store.Counts, error)
	Statistics(ctx context.Context) (store.Stats, error)
	CheckIntegrity(ctx context.Context) ([]store.Issue, error)
	LoadSettings(ctx context.Context) (map[string]types.Setting, error)
	SetSetting(ctx context.Context, key string, value any) (types.Setting, error)
}

// Migrator runs file-to-relational migrations.
type Migrator interface {
	Run(ctx context.Context, opts migration.Options) (*migration.Report, error)
	Verify(ctx context.Context) (*migration.Report, error)
	LastReport() *migration.Report
}

// IntegrityReport is the result of verify-integrity.
type IntegrityReport struct {
	Mode   store.Mode    `json:"mode"`
	Issues []store.Issue `json:"issues"`
	// Verification compares the file documents with the relational
	// tables; it is nil when no relational store is configured.
	Verification *migration.Report `json:"verification,omitempty"`
}

// OK reports whether no problem was found.
func (r IntegrityReport) OK() bool {
	return len(r.Issues) == 0 && (r.Verification == nil || r.Verification.Succeeded())
}

// AdminService encapsulates the admin-facing operations.
type AdminService struct {
	repo     AdminRepository
	migrator Migrator
	log      zerolog.Logger
}

// NewAdminService constructs an AdminService. migrator may be nil.
func NewAdminService(repo AdminRepository, migrator Migrator, log zerolog.Logger) *AdminService {
	return &AdminService{
		repo:     repo,
		migrator: migrator,
		log:      log.With().Str("component", "admin").Logger(),
	}
}

// Statistics reports row counts and approximate size of the active store.
func (s *AdminService) Statistics(ctx context.Context) (store.Stats, error) {
	return s.repo.Statistics(ctx)
}

// Migrate triggers a migration into the relational store. Only a server
// running on the file store may start one, since the run replaces the
// relational tables.
func (s *AdminService) Migrate(ctx context.Context, opts migration.Options) (*migration.Report, error) {
	if s.repo.Mode() == store.ModeRelational {
		return nil, store.E(store.ModeRelational, "migrate", store.ErrAlreadyMigrated, ErrServingRelational)
	}
	if s.migrator == nil {
		return nil, store.E(s.repo.Mode(), "migrate", store.ErrStorageUnavailable, ErrNoMigrator)
	}
	report, err := s.migrator.Run(ctx, opts)
	if err == nil && s.repo.Mode() == store.ModeFile {
		s.log.Warn().Msg("migration committed; restart with STORAGE_BACKEND=relational to serve from the database")
	}
	return report, err
}

// LastMigration returns the most recent migration or verification report.
func (s *AdminService) LastMigration() *migration.Report {
	if s.migrator == nil {
		return nil
	}
	return s.migrator.LastReport()
}

// VerifyIntegrity checks the active store and, when possible, compares the
// file documents with the relational tables without transferring anything.
func (s *AdminService) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	issues, err := s.repo.CheckIntegrity(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Mode: s.repo.Mode(), Issues: issues}
	if report.Issues == nil {
		report.Issues = []store.Issue{}
	}
	if s.migrator == nil {
		return report, nil
	}

	verification, err := s.migrator.Verify(ctx)
	switch {
	case verification != nil:
		if err != nil {
			s.log.Warn().Err(err).Msg("verification found differences")
		}
		report.Verification = verification
	case errors.Is(err, store.ErrStorageUnavailable):
		s.log.Warn().Err(err).Msg("relational store unreachable, verification skipped")
	default:
		return IntegrityReport{}, err
	}
	return report, nil
}

// Settings returns every setting.
func (s *AdminService) Settings(ctx context.Context) (map[string]types.Setting, error) {
	return s.repo.LoadSettings(ctx)
}

// UpdateSettings stores each value under its key in key order.
func (s *AdminService) UpdateSettings(ctx context.Context, values map[string]json.RawMessage) (map[string]types.Setting, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]types.Setting, len(values))
	for _, key := range keys {
		setting, err := s.repo.SetSetting(ctx, key, values[key])
		if err != nil {
			return nil, err
		}
		out[key] = setting
	}
	return out, nil
}
