package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

const questionColumns = `id, question, options, answer, explanation, category, difficulty`

func scanQuestion(row scanner) (types.Question, error) {
	var (
		q           types.Question
		optionsJSON []byte
	)
	if err := row.Scan(
		&q.ID,
		&q.Question,
		&optionsJSON,
		&q.Answer,
		&q.Explanation,
		&q.Category,
		&q.Difficulty,
	); err != nil {
		return types.Question{}, err
	}
	if err := json.Unmarshal(optionsJSON, &q.Options); err != nil {
		return types.Question{}, store.E(store.ModeRelational, "scan_question", store.ErrConversion, err)
	}
	return q, nil
}

func (s *Store) queryQuestions(ctx context.Context, op, query string, args ...any) ([]types.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	questions := make([]types.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return questions, nil
}

func (s *Store) LoadQuestions(ctx context.Context) ([]types.Question, error) {
	return s.queryQuestions(ctx, "load_questions", `SELECT `+questionColumns+` FROM questions ORDER BY id`)
}

func (s *Store) QuestionsByCategory(ctx context.Context, category string) ([]types.Question, error) {
	return s.queryQuestions(ctx, "questions_by_category",
		`SELECT `+questionColumns+` FROM questions WHERE category = $1 ORDER BY id`, category)
}

// SaveQuestions replaces the question bank in one transaction.
func (s *Store) SaveQuestions(ctx context.Context, questions []types.Question) error {
	return s.withTx(ctx, "save_questions", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions`); err != nil {
			return err
		}
		return insertQuestions(ctx, tx, questions)
	})
}

func insertQuestions(ctx context.Context, tx *sql.Tx, questions []types.Question) error {
	const query = `
		INSERT INTO questions (id, question, options, answer, explanation, category, difficulty)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, q := range questions {
		optionsJSON, err := json.Marshal(q.Options)
		if err != nil {
			return store.E(store.ModeRelational, "insert_question", store.ErrConversion, err)
		}
		if _, err := stmt.ExecContext(ctx, q.ID, q.Question, string(optionsJSON), q.Answer, q.Explanation, q.Category, q.Difficulty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id int) (types.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		return types.Question{}, mapError("get_question", err)
	}
	return q, nil
}

// AddQuestion assigns max(id)+1 in the insert itself. A concurrent insert
// that picks the same id fails with a constraint violation.
func (s *Store) AddQuestion(ctx context.Context, question types.Question) (types.Question, error) {
	optionsJSON, err := json.Marshal(question.Options)
	if err != nil {
		return types.Question{}, store.E(store.ModeRelational, "add_question", store.ErrConversion, err)
	}

	const query = `
		INSERT INTO questions (id, question, options, answer, explanation, category, difficulty)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, $5, $6 FROM questions
		RETURNING id`
	if err := s.db.QueryRowContext(ctx, query,
		question.Question,
		string(optionsJSON),
		question.Answer,
		question.Explanation,
		question.Category,
		question.Difficulty,
	).Scan(&question.ID); err != nil {
		return types.Question{}, mapError("add_question", err)
	}
	return question, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, question types.Question) error {
	optionsJSON, err := json.Marshal(question.Options)
	if err != nil {
		return store.E(store.ModeRelational, "update_question", store.ErrConversion, err)
	}

	const query = `
		UPDATE questions
		SET question = $1,
			options = $2,
			answer = $3,
			explanation = $4,
			category = $5,
			difficulty = $6
		WHERE id = $7`
	result, err := s.db.ExecContext(ctx, query,
		question.Question,
		string(optionsJSON),
		question.Answer,
		question.Explanation,
		question.Category,
		question.Difficulty,
		question.ID,
	)
	if err != nil {
		return mapError("update_question", err)
	}
	return rowsAffected("update_question", result)
}

func (s *Store) DeleteQuestion(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return mapError("delete_question", err)
	}
	return rowsAffected("delete_question", result)
}
