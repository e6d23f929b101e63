package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quizdesk/quizstore/config"
	"github.com/quizdesk/quizstore/internal/db"
	"github.com/quizdesk/quizstore/internal/mq"
	"github.com/quizdesk/quizstore/internal/storage"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/internal/store/filestore"
	"github.com/quizdesk/quizstore/internal/store/pgstore"
	"github.com/rs/zerolog"
)

// App holds the long-lived dependencies shared by the commands and the
// HTTP server. The storage backend is chosen once in Open.
type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Facade   *store.Facade
	Files    *filestore.Store
	Backups  *storage.Storage
	Events   *mq.MQ
	Migrator *Migrator
	// MigrationPending is set when the relational store is served while
	// the file documents have not been migrated into it yet.
	MigrationPending bool
}

// Open selects the backend and builds every dependency. Optional
// integrations (backup storage, event broker) that fail to start are
// logged and left disabled.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	files, err := OpenFileStore(cfg, log)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg, files, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Log:    log,
		Facade: NewFacade(backend, cfg, log),
		Files:  files,
	}
	if pg, ok := backend.(*pgstore.Store); ok {
		if a.MigrationPending, err = MigrationPending(ctx, pg, files); err != nil {
			_ = backend.Close()
			return nil, err
		}
		if a.MigrationPending {
			log.Warn().Str("dir", files.Dir()).Msg("file documents have not been migrated into the relational store")
		}
	}
	a.openIntegrations(ctx)
	return a, nil
}

// OpenMigration builds only what a migration needs: the file store, backup
// storage, the event publisher and the Migrator. Facade is nil.
func OpenMigration(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	files, err := OpenFileStore(cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Files: files}
	a.openIntegrations(ctx)
	return a, nil
}

func (a *App) openIntegrations(ctx context.Context) {
	var err error
	if a.Backups, err = storage.Open(ctx, a.Config.Backup); err != nil {
		a.Log.Warn().Err(err).Str("backend", a.Config.Backup.Backend).Msg("backup storage disabled")
		a.Backups = nil
	}
	if a.Events, err = mq.Open(ctx, a.Config.MQ); err != nil {
		a.Log.Warn().Err(err).Str("backend", a.Config.MQ.Backend).Msg("event publishing disabled")
		a.Events = mq.New(mq.Noop{})
	}
	a.Migrator = NewMigrator(a.Config, a.Files, a.Backups, a.Events, a.Log)
}

// Close releases every dependency.
func (a *App) Close() error {
	var errs []error
	if a.Migrator != nil {
		errs = append(errs, a.Migrator.Close())
	}
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	if a.Backups != nil {
		errs = append(errs, a.Backups.Close())
	}
	if a.Facade != nil {
		errs = append(errs, a.Facade.Close())
	}
	return errors.Join(errs...)
}

// OpenFileStore opens the document store under the configured data directory.
func OpenFileStore(cfg config.Config, log zerolog.Logger) (*filestore.Store, error) {
	return filestore.New(cfg.Storage.DataDir, filestore.Options{
		PassingScore: cfg.Quiz.PassingScore,
		Logger:       log,
	})
}

// OpenRelational connects to PostgreSQL and checks that the schema has been
// applied and is clean.
func OpenRelational(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgstore.Store, error) {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, store.E(store.ModeRelational, "open", store.ErrStorageUnavailable, err)
	}
	dsn := db.DSN(cfg)
	if _, err := db.Version(dsn); err != nil {
		_ = conn.Close()
		return nil, store.E(store.ModeRelational, "open", store.ErrStorageUnavailable, err)
	}
	return pgstore.New(conn, pgstore.Options{DSN: dsn, Logger: log}), nil
}

// OpenBackend picks the backend named by STORAGE_BACKEND. In auto mode an
// unreachable or unmigrated-schema database degrades to the file store,
// and so does a relational store that has not received the file documents
// yet.
func OpenBackend(ctx context.Context, cfg config.Config, files *filestore.Store, log zerolog.Logger) (store.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case config.StorageFile:
		log.Info().Str("dir", files.Dir()).Msg("using file store")
		return files, nil
	case config.StorageRelational:
		pg, err := OpenRelational(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.DBName).Msg("using relational store")
		return pg, nil
	case "", config.StorageAuto:
		pg, err := OpenRelational(ctx, cfg.Database, log)
		if err != nil {
			log.Warn().Err(err).Str("dir", files.Dir()).Msg("relational store unavailable, running in degraded mode on the file store")
			return files, nil
		}
		pending, err := MigrationPending(ctx, pg, files)
		if err != nil || pending {
			_ = pg.Close()
			log.Warn().Err(err).Str("dir", files.Dir()).Msg("relational store awaits migration, using file store")
			return files, nil
		}
		log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.DBName).Msg("using relational store")
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// MigrationState tells whether a relational store already holds migrated data.
type MigrationState interface {
	Migrated(ctx context.Context) (bool, error)
}

// MigrationPending reports whether files holds documents that target has
// not received yet. Seed rows alone do not count as a migration.
func MigrationPending(ctx context.Context, target MigrationState, files *filestore.Store) (bool, error) {
	migrated, err := target.Migrated(ctx)
	if err != nil || migrated {
		return false, err
	}
	paths, err := files.DocumentPaths()
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// NewFacade wraps backend with the configured defaults.
func NewFacade(backend store.Backend, cfg config.Config, log zerolog.Logger) *store.Facade {
	return store.New(backend, store.Options{
		PassingScore: cfg.Quiz.PassingScore,
		Logger:       log,
	})
}
