package pgstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	const query = `
		SELECT
			(SELECT COUNT(1) FROM users),
			(SELECT COUNT(1) FROM questions),
			(SELECT COUNT(1) FROM scores),
			(SELECT COUNT(1) FROM settings)`
	var c store.Counts
	if err := s.db.QueryRowContext(ctx, query).Scan(&c.Users, &c.Questions, &c.Scores, &c.Settings); err != nil {
		return store.Counts{}, mapError("counts", err)
	}
	return c, nil
}

// Migrated reports whether the tables hold users or scores.
func (s *Store) Migrated(ctx context.Context) (bool, error) {
	c, err := s.Counts(ctx)
	if err != nil {
		return false, err
	}
	return c.Migrated(), nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return store.Stats{}, err
	}

	stats := store.Stats{Mode: store.ModeRelational}
	if err := s.db.QueryRowContext(ctx,
		`SELECT current_database(), pg_database_size(current_database())`,
	).Scan(&stats.Location, &stats.SizeBytes); err != nil {
		return store.Stats{}, mapError("stats", err)
	}

	for _, entity := range store.Entities {
		table := store.TableStats{Name: entity, Rows: counts.Get(entity)}
		if err := s.db.QueryRowContext(ctx,
			`SELECT pg_total_relation_size($1::regclass)`, entity,
		).Scan(&table.SizeBytes); err != nil {
			return store.Stats{}, mapError("stats", err)
		}
		columns, err := s.columns(ctx, entity)
		if err != nil {
			return store.Stats{}, err
		}
		table.Columns = columns
		stats.Tables = append(stats.Tables, table)
	}
	return stats, nil
}

func (s *Store) columns(ctx context.Context, table string) ([]string, error) {
	const query = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, mapError("stats", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError("stats", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("stats", err)
	}
	return columns, nil
}

// CheckIntegrity looks for rows breaking invariants the schema cannot
// express: percentages that disagree with their raw score and digests
// that are not password hashes. Orphaned scores and out-of-range answers
// are checked too in case constraints were disabled.
func (s *Store) CheckIntegrity(ctx context.Context) ([]store.Issue, error) {
	var issues []store.Issue

	orphans, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.username
		FROM scores s
		LEFT JOIN users u ON u.username = s.username
		WHERE u.username IS NULL`)
	if err != nil {
		return nil, mapError("check_integrity", err)
	}
	defer orphans.Close()
	for orphans.Next() {
		var id, username string
		if err := orphans.Scan(&id, &username); err != nil {
			return nil, mapError("check_integrity", err)
		}
		issues = append(issues, store.Issue{
			Entity:  store.EntityScores,
			Key:     id,
			Problem: fmt.Sprintf("references missing user %q", username),
		})
	}
	if err := orphans.Err(); err != nil {
		return nil, mapError("check_integrity", err)
	}

	mismatched, err := s.db.QueryContext(ctx, `
		SELECT id, percentage, score, max_score
		FROM scores
		WHERE abs(percentage - CASE WHEN max_score > 0 THEN score::float8 / max_score * 100 ELSE 0 END) > $1`,
		types.PercentageTolerance)
	if err != nil {
		return nil, mapError("check_integrity", err)
	}
	defer mismatched.Close()
	for mismatched.Next() {
		var (
			id              string
			pct             float64
			score, maxScore int
		)
		if err := mismatched.Scan(&id, &pct, &score, &maxScore); err != nil {
			return nil, mapError("check_integrity", err)
		}
		issues = append(issues, store.Issue{
			Entity:  store.EntityScores,
			Key:     id,
			Problem: fmt.Sprintf("percentage %.2f does not match %d/%d", pct, score, maxScore),
		})
	}
	if err := mismatched.Err(); err != nil {
		return nil, mapError("check_integrity", err)
	}

	badAnswers, err := s.db.QueryContext(ctx, `
		SELECT id, answer, jsonb_array_length(options)
		FROM questions
		WHERE answer < 0 OR answer >= jsonb_array_length(options)`)
	if err != nil {
		return nil, mapError("check_integrity", err)
	}
	defer badAnswers.Close()
	for badAnswers.Next() {
		var id, answer, options int
		if err := badAnswers.Scan(&id, &answer, &options); err != nil {
			return nil, mapError("check_integrity", err)
		}
		issues = append(issues, store.Issue{
			Entity:  store.EntityQuestions,
			Key:     strconv.Itoa(id),
			Problem: fmt.Sprintf("answer %d outside %d options", answer, options),
		})
	}
	if err := badAnswers.Err(); err != nil {
		return nil, mapError("check_integrity", err)
	}

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for name, u := range users {
		if !types.IsPasswordHash(u.PasswordHash) {
			issues = append(issues, store.Issue{Entity: store.EntityUsers, Key: name, Problem: "password is not a hash"})
		}
	}
	return issues, nil
}
