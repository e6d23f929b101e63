package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
	"github.com/quizdesk/quizstore/internal/db"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/rs/zerolog"
)

// Store persists the quiz collections in PostgreSQL.
type Store struct {
	db  *sql.DB
	dsn string
	log zerolog.Logger
}

// Options configures a relational store.
type Options struct {
	// DSN is used for schema management, which runs on its own connection.
	DSN    string
	Logger zerolog.Logger
}

// New wraps an open database handle. The store owns the handle and
// closes it in Close.
func New(conn *sql.DB, opts Options) *Store {
	return &Store{
		db:  conn,
		dsn: opts.DSN,
		log: opts.Logger.With().Str("component", "pgstore").Logger(),
	}
}

// Mode implements store.Backend.
func (s *Store) Mode() store.Mode {
	return store.ModeRelational
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema applies the bundled schema migrations.
func (s *Store) InitSchema(ctx context.Context) error {
	if err := db.MigrateUp(s.dsn); err != nil {
		return mapError("init_schema", err)
	}
	return nil
}

// Reset deletes every row of every table in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, "reset", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `TRUNCATE scores, users, questions, settings`)
		return err
	})
}

// withTx runs fn in a transaction, rolling back on every error path.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return mapError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(op, err)
	}
	return nil
}

// mapError converts driver errors into typed storage errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return store.E(store.ModeRelational, op, classify(err), err)
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			return store.ErrConstraintViolation
		case "08", "53", "57":
			return store.ErrStorageUnavailable
		case "22":
			return store.ErrConversion
		}
		return store.ErrStorage
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.As(err, &netErr):
		return store.ErrStorageUnavailable
	}
	return store.ErrStorage
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func rowsAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if affected == 0 {
		return store.E(store.ModeRelational, op, store.ErrNotFound, nil)
	}
	return nil
}

var _ store.Backend = (*Store)(nil)
