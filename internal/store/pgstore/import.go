package pgstore

import (
	"context"
	"database/sql"

	"github.com/quizdesk/quizstore/types"
)

// ImportUsers inserts users in one transaction. Existing usernames fail
// the whole batch.
func (s *Store) ImportUsers(ctx context.Context, users []types.User) error {
	return s.withTx(ctx, "import_users", func(tx *sql.Tx) error {
		const query = `
			INSERT INTO users (username, password, name, role, created_at, last_login)
			VALUES ($1, $2, $3, $4, $5, $6)`
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range users {
			if _, err := stmt.ExecContext(ctx, u.Username, u.PasswordHash, u.Name, u.Role, u.CreatedAt, nullTime(u.LastLogin)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportQuestions inserts questions in one transaction.
func (s *Store) ImportQuestions(ctx context.Context, questions []types.Question) error {
	return s.withTx(ctx, "import_questions", func(tx *sql.Tx) error {
		return insertQuestions(ctx, tx, questions)
	})
}

// ImportScores inserts scores in one transaction.
func (s *Store) ImportScores(ctx context.Context, scores []types.Score) error {
	return s.withTx(ctx, "import_scores", func(tx *sql.Tx) error {
		return insertScores(ctx, tx, scores)
	})
}

// ImportSettings inserts settings in one transaction.
func (s *Store) ImportSettings(ctx context.Context, settings []types.Setting) error {
	return s.withTx(ctx, "import_settings", func(tx *sql.Tx) error {
		for _, setting := range settings {
			if err := upsertSetting(ctx, tx, setting); err != nil {
				return err
			}
		}
		return nil
	})
}
