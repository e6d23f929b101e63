package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/internal/store/filestore"
	"github.com/quizdesk/quizstore/types"
	"github.com/rs/zerolog"
)

// ErrInProgress is returned when a run is requested while another one
// still owns the stores.
var ErrInProgress = errors.New("migration already in progress")

// BackupPrefix starts the key prefix of every migration backup.
const BackupPrefix = "migration_backup_"

// Source is the file-backed store being migrated from. Freeze holds its
// writers off until release is called.
type Source interface {
	Snapshot(ctx context.Context) (*filestore.Snapshot, error)
	DocumentPaths() ([]string, error)
	Freeze() (release func())
}

// Target is the relational store being migrated into.
type Target interface {
	InitSchema(ctx context.Context) error
	Counts(ctx context.Context) (store.Counts, error)
	Reset(ctx context.Context) error
	ImportUsers(ctx context.Context, users []types.User) error
	ImportQuestions(ctx context.Context, questions []types.Question) error
	ImportScores(ctx context.Context, scores []types.Score) error
	ImportSettings(ctx context.Context, settings []types.Setting) error
	CheckIntegrity(ctx context.Context) ([]store.Issue, error)
}

// Backup receives copies of the source documents.
type Backup interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Bucket() string
}

// Publisher announces finished reports.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Options controls a migration run.
type Options struct {
	// NoBackup skips copying the source documents before the transfer.
	NoBackup bool
	// Force overwrites a target that already holds users or scores and
	// makes any skipped record abort the run. The target is only cleared
	// once the transfer plan is known to be complete.
	Force bool
}

// Config wires an Engine.
type Config struct {
	Source    Source
	Target    Target
	Backup    Backup
	Publisher Publisher
	Channel   string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Engine moves data one way from the file store into the relational store.
// Only one run, migration or verification, may be active at a time, and
// the source accepts no writes while it lasts.
type Engine struct {
	source    Source
	target    Target
	backup    Backup
	publisher Publisher
	channel   string
	log       zerolog.Logger
	now       func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *Report
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		source:    cfg.Source,
		target:    cfg.Target,
		backup:    cfg.Backup,
		publisher: cfg.Publisher,
		channel:   cfg.Channel,
		log:       cfg.Logger.With().Str("component", "migration").Logger(),
		now:       cfg.Now,
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastReport returns the report of the most recent finished run, or nil.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Run executes the full state machine. The returned report is always
// non-nil unless another run is in progress; err carries the store error
// kind of the failure.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer e.running.Store(false)
	release := e.source.Freeze()
	defer release()

	r := e.newReport(KindMigration)
	r.NoBackup = opts.NoBackup
	r.Force = opts.Force

	err := e.migrate(ctx, r, opts)
	e.finish(ctx, r, err)
	return r, err
}

// Verify re-runs the verification phase against the current source and
// target without transferring anything.
func (e *Engine) Verify(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer e.running.Store(false)
	release := e.source.Freeze()
	defer release()

	r := e.newReport(KindVerification)
	r.enter(PhaseVerifying)

	snap, err := e.source.Snapshot(ctx)
	if err == nil {
		p := e.plan(snap, r)
		err = e.verify(ctx, r, p)
	}
	e.finish(ctx, r, err)
	return r, err
}

func (e *Engine) newReport(kind string) *Report {
	r := &Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: e.now(),
	}
	r.enter(PhaseIdle)
	return r
}

func (e *Engine) migrate(ctx context.Context, r *Report, opts Options) error {
	e.transition(r, PhaseBackingUp)
	snap, err := e.backUp(ctx, r, opts)
	if err != nil {
		return err
	}

	e.transition(r, PhaseInitializingSchema)
	existing, err := e.initSchema(ctx, opts)
	if err != nil {
		return err
	}

	e.transition(r, PhaseTransferring)
	p := e.plan(snap, r)
	if opts.Force && len(r.Skipped) > 0 {
		first := r.Skipped[0]
		return fail(store.ErrConversion, "transfer",
			&store.ConversionError{Entity: first.Entity, Key: first.Key, Reason: first.Reason})
	}
	if existing.Total() > 0 {
		e.log.Warn().Str("run", r.ID).Interface("counts", existing).Msg("clearing target before transfer")
		if err := e.target.Reset(ctx); err != nil {
			return err
		}
	}
	if err := e.transfer(ctx, r, p); err != nil {
		return err
	}

	e.transition(r, PhaseVerifying)
	return e.verify(ctx, r, p)
}

func (e *Engine) transition(r *Report, p Phase) {
	r.enter(p)
	e.log.Info().Str("run", r.ID).Str("phase", string(p)).Msg("migration phase")
}

// backUp copies every existing source document under a timestamped prefix
// and takes the snapshot the transfer works from. Nothing is written to the
// target before this phase succeeds.
func (e *Engine) backUp(ctx context.Context, r *Report, opts Options) (*filestore.Snapshot, error) {
	paths, err := e.source.DocumentPaths()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fail(store.ErrStorageUnavailable, "backup", errors.New("no source documents found"))
	}

	if opts.NoBackup {
		e.log.Warn().Str("run", r.ID).Msg("backup skipped")
	} else {
		if e.backup == nil {
			return nil, fail(store.ErrStorageUnavailable, "backup", errors.New("no backup storage configured"))
		}
		prefix := BackupPrefix + e.now().Format("20060102150405")
		for _, p := range paths {
			if err := e.copyDocument(ctx, prefix, p); err != nil {
				return nil, fail(store.ErrStorageUnavailable, "backup", err)
			}
		}
		r.BackupLocation = path.Join(e.backup.Bucket(), prefix)
		e.log.Info().Str("run", r.ID).Str("location", r.BackupLocation).Int("documents", len(paths)).Msg("source backed up")
	}

	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *Engine) copyDocument(ctx context.Context, prefix, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := path.Join(prefix, filepath.Base(p))
	if err := e.backup.Put(ctx, key, f, info.Size(), "application/json"); err != nil {
		return fmt.Errorf("backup %s: %w", key, err)
	}
	return nil
}

// initSchema creates the tables and returns what the target already holds.
// A target with users or scores counts as migrated and is refused unless
// forced. Rows of other entities alone are seed data and get replaced.
// Nothing is deleted here.
func (e *Engine) initSchema(ctx context.Context, opts Options) (store.Counts, error) {
	if err := e.target.InitSchema(ctx); err != nil {
		return store.Counts{}, err
	}
	counts, err := e.target.Counts(ctx)
	if err != nil {
		return store.Counts{}, err
	}
	if counts.Migrated() && !opts.Force {
		return counts, fail(store.ErrAlreadyMigrated, "init_schema",
			fmt.Errorf("target holds %d users, %d questions, %d scores, %d settings",
				counts.Users, counts.Questions, counts.Scores, counts.Settings))
	}
	return counts, nil
}

// plan holds the converted records selected for transfer.
type plan struct {
	users     []types.User
	questions []types.Question
	scores    []types.Score
	settings  []types.Setting
}

// plan selects the records to transfer and records every skip in r.
// Scores whose owner is not transferred and repeated ids are skipped as
// conversion failures so no key constraint rejects a batch. The first
// record with a given id wins.
func (e *Engine) plan(snap *filestore.Snapshot, r *Report) plan {
	var p plan
	for _, f := range snap.Failures {
		e.skip(r, f.Entity, f.Key, f.Reason)
	}

	for _, name := range sortedKeys(snap.Users) {
		p.users = append(p.users, snap.Users[name])
	}
	questionIDs := make(map[int]bool, len(snap.Questions))
	for _, q := range snap.Questions {
		if questionIDs[q.ID] {
			e.skip(r, store.EntityQuestions, strconv.Itoa(q.ID), "duplicate id")
			continue
		}
		questionIDs[q.ID] = true
		p.questions = append(p.questions, q)
	}
	scoreIDs := make(map[string]bool, len(snap.Scores))
	for _, sc := range snap.Scores {
		if _, ok := snap.Users[sc.Username]; !ok {
			e.skip(r, store.EntityScores, sc.ID, fmt.Sprintf("references missing user %q", sc.Username))
			continue
		}
		if scoreIDs[sc.ID] {
			e.skip(r, store.EntityScores, sc.ID, "duplicate id")
			continue
		}
		scoreIDs[sc.ID] = true
		p.scores = append(p.scores, sc)
	}
	for _, key := range sortedKeys(snap.Settings) {
		p.settings = append(p.settings, snap.Settings[key])
	}

	for _, entity := range store.Entities {
		er := r.entity(entity)
		er.Source = snap.Counts.Get(entity)
		er.Transferred = int64(p.count(entity))
		er.Skipped = 0
	}
	for _, s := range r.Skipped {
		r.entity(s.Entity).Skipped++
	}
	return p
}

func (p plan) count(entity string) int {
	switch entity {
	case store.EntityUsers:
		return len(p.users)
	case store.EntityQuestions:
		return len(p.questions)
	case store.EntityScores:
		return len(p.scores)
	case store.EntitySettings:
		return len(p.settings)
	}
	return 0
}

func (e *Engine) skip(r *Report, entity, key, reason string) {
	r.Skipped = append(r.Skipped, Skip{Entity: entity, Key: key, Reason: reason})
	e.log.Warn().Str("run", r.ID).Str("entity", entity).Str("key", key).Str("reason", reason).Msg("record skipped")
}

// transfer inserts each entity in its own transaction, referents first.
func (e *Engine) transfer(ctx context.Context, r *Report, p plan) error {
	steps := []struct {
		entity string
		run    func() error
	}{
		{store.EntityUsers, func() error { return e.target.ImportUsers(ctx, p.users) }},
		{store.EntityQuestions, func() error { return e.target.ImportQuestions(ctx, p.questions) }},
		{store.EntityScores, func() error { return e.target.ImportScores(ctx, p.scores) }},
		{store.EntitySettings, func() error { return e.target.ImportSettings(ctx, p.settings) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return err
		}
		e.log.Info().Str("run", r.ID).Str("entity", step.entity).Int("rows", p.count(step.entity)).Msg("entity transferred")
	}
	return nil
}

// verify compares destination row counts with the planned transfer and
// runs the target's integrity checks. A mismatch is reported, never
// corrected.
func (e *Engine) verify(ctx context.Context, r *Report, p plan) error {
	counts, err := e.target.Counts(ctx)
	if err != nil {
		return err
	}
	var mismatched []string
	for _, entity := range store.Entities {
		er := r.entity(entity)
		er.Destination = counts.Get(entity)
		if !er.Matches() {
			mismatched = append(mismatched, fmt.Sprintf("%s: expected %d, found %d", entity, er.Transferred, er.Destination))
		}
	}

	issues, err := e.target.CheckIntegrity(ctx)
	if err != nil {
		return err
	}
	r.Issues = issues
	for _, issue := range issues {
		mismatched = append(mismatched, fmt.Sprintf("%s %s: %s", issue.Entity, issue.Key, issue.Problem))
	}

	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return fail(store.ErrVerificationMismatch, "verify", errors.New(strings.Join(mismatched, "; ")))
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, r *Report, err error) {
	r.FinishedAt = e.now()
	if err != nil {
		r.FailedPhase = r.current
		r.Phase = PhaseFailed
		r.Error = err.Error()
	} else {
		r.Phase = PhaseCommitted
	}
	r.Phases = append(r.Phases, r.Phase)

	event := e.log.Info()
	if err != nil {
		event = e.log.Error().Err(err).Str("failed_phase", string(r.FailedPhase))
	}
	event.Str("run", r.ID).
		Str("kind", r.Kind).
		Str("phase", string(r.Phase)).
		Dur("duration", r.Duration()).
		Int("skipped", len(r.Skipped)).
		Msg("migration finished")

	e.mu.Lock()
	e.last = r
	e.mu.Unlock()

	e.publish(ctx, r)
}

func (e *Engine) publish(ctx context.Context, r *Report) {
	if e.publisher == nil || e.channel == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		e.log.Warn().Err(err).Msg("encode migration report")
		return
	}
	attrs := map[string]string{
		"kind":  r.Kind,
		"phase": string(r.Phase),
	}
	if _, err := e.publisher.Publish(ctx, e.channel, data, attrs); err != nil {
		e.log.Warn().Err(err).Str("channel", e.channel).Msg("publish migration report")
	}
}

// fail builds a typed migration error.
func fail(kind error, op string, err error) error {
	return &store.Error{Kind: kind, Mode: store.ModeRelational, Op: "migrate_" + op, Err: err}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
