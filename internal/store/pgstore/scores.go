package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

const scoreColumns = `id, username, score, max_score, percentage, passed, "timestamp", time_taken, categories`

func scanScore(row scanner) (types.Score, error) {
	var (
		sc             types.Score
		timeTaken      sql.NullFloat64
		categoriesJSON []byte
	)
	if err := row.Scan(
		&sc.ID,
		&sc.Username,
		&sc.Score,
		&sc.MaxScore,
		&sc.Percentage,
		&sc.Passed,
		&sc.Timestamp,
		&timeTaken,
		&categoriesJSON,
	); err != nil {
		return types.Score{}, err
	}
	if timeTaken.Valid {
		v := timeTaken.Float64
		sc.TimeTaken = &v
	}
	if len(categoriesJSON) > 0 {
		if err := json.Unmarshal(categoriesJSON, &sc.Categories); err != nil {
			return types.Score{}, store.E(store.ModeRelational, "scan_score", store.ErrConversion, err)
		}
	}
	if len(sc.Categories) == 0 {
		sc.Categories = nil
	}
	return sc, nil
}

func (s *Store) queryScores(ctx context.Context, op, query string, args ...any) ([]types.Score, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	scores := make([]types.Score, 0)
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		scores = append(scores, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return scores, nil
}

func (s *Store) LoadScores(ctx context.Context) ([]types.Score, error) {
	return s.queryScores(ctx, "load_scores",
		`SELECT `+scoreColumns+` FROM scores ORDER BY "timestamp" DESC, id`)
}

// UserScores passes a NULL limit for "all", which postgres reads as LIMIT ALL.
func (s *Store) UserScores(ctx context.Context, username string, limit int) ([]types.Score, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	return s.queryScores(ctx, "user_scores",
		`SELECT `+scoreColumns+` FROM scores WHERE username = $1 ORDER BY "timestamp" DESC, id LIMIT $2`,
		username, lim)
}

// SaveScores replaces every score in one transaction. A score that
// references a missing user rolls the whole batch back.
func (s *Store) SaveScores(ctx context.Context, scores []types.Score) error {
	return s.withTx(ctx, "save_scores", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scores`); err != nil {
			return err
		}
		return insertScores(ctx, tx, scores)
	})
}

func (s *Store) AddScore(ctx context.Context, score types.Score) error {
	return s.withTx(ctx, "add_score", func(tx *sql.Tx) error {
		return insertScores(ctx, tx, []types.Score{score})
	})
}

func insertScores(ctx context.Context, tx *sql.Tx, scores []types.Score) error {
	const query = `
		INSERT INTO scores (id, username, score, max_score, percentage, passed, "timestamp", time_taken, categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sc := range scores {
		categories := sc.Categories
		if categories == nil {
			categories = map[string]types.CategoryScore{}
		}
		categoriesJSON, err := json.Marshal(categories)
		if err != nil {
			return store.E(store.ModeRelational, "insert_score", store.ErrConversion, err)
		}
		var timeTaken sql.NullFloat64
		if sc.TimeTaken != nil {
			timeTaken = sql.NullFloat64{Float64: *sc.TimeTaken, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			sc.ID,
			sc.Username,
			sc.Score,
			sc.MaxScore,
			sc.Percentage,
			sc.Passed,
			sc.Timestamp,
			timeTaken,
			string(categoriesJSON),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ClearScores(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, "clear_scores", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM scores`)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

func (s *Store) ClearUserScores(ctx context.Context, username string) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, "clear_user_scores", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM scores WHERE username = $1`, username)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
