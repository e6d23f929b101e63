package app

import (
	"context"
	"sync"

	"github.com/quizdesk/quizstore/config"
	"github.com/quizdesk/quizstore/internal/db"
	"github.com/quizdesk/quizstore/internal/migration"
	"github.com/quizdesk/quizstore/internal/mq"
	"github.com/quizdesk/quizstore/internal/storage"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/internal/store/filestore"
	"github.com/quizdesk/quizstore/internal/store/pgstore"
	"github.com/rs/zerolog"
)

// Migrator connects to the relational target on first use, so a process
// started without a reachable database can still migrate later.
type Migrator struct {
	cfg    config.Config
	source *filestore.Store
	backup migration.Backup
	events migration.Publisher
	log    zerolog.Logger

	mu     sync.Mutex
	target *pgstore.Store
	engine *migration.Engine
}

// NewMigrator prepares a Migrator. backups and events may be nil.
func NewMigrator(cfg config.Config, source *filestore.Store, backups *storage.Storage, events *mq.MQ, log zerolog.Logger) *Migrator {
	m := &Migrator{cfg: cfg, source: source, log: log}
	if backups != nil {
		m.backup = backups
	}
	if events != nil {
		m.events = events
	}
	return m
}

func (m *Migrator) load(ctx context.Context) (*migration.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != nil {
		return m.engine, nil
	}

	if b, ok := m.backup.(*storage.Storage); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, store.E(store.ModeRelational, "migrate_backup", store.ErrStorageUnavailable, err)
		}
	}

	conn, err := db.Open(ctx, m.cfg.Database)
	if err != nil {
		return nil, store.E(store.ModeRelational, "open", store.ErrStorageUnavailable, err)
	}
	m.target = pgstore.New(conn, pgstore.Options{DSN: db.DSN(m.cfg.Database), Logger: m.log})
	m.engine = migration.New(migration.Config{
		Source:    m.source,
		Target:    m.target,
		Backup:    m.backup,
		Publisher: m.events,
		Channel:   m.cfg.MQ.MigrationChannel,
		Logger:    m.log,
	})
	return m.engine, nil
}

// Run executes a migration.
func (m *Migrator) Run(ctx context.Context, opts migration.Options) (*migration.Report, error) {
	engine, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, opts)
}

// Verify compares the source documents with the relational tables.
func (m *Migrator) Verify(ctx context.Context) (*migration.Report, error) {
	engine, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return engine.Verify(ctx)
}

// LastReport returns the latest finished report, or nil.
func (m *Migrator) LastReport() *migration.Report {
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.LastReport()
}

// Close releases the target connection.
func (m *Migrator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return nil
	}
	err := m.target.Close()
	m.target, m.engine = nil, nil
	return err
}
