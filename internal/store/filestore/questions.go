package filestore

import (
	"context"
	"fmt"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

func (s *Store) LoadQuestions(ctx context.Context) ([]types.Question, error) {
	doc, err := s.readQuestions("load_questions")
	if err != nil {
		return nil, err
	}
	return doc.strict("load_questions")
}

func (s *Store) SaveQuestions(ctx context.Context, questions []types.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeQuestions("save_questions", questions)
}

func (s *Store) GetQuestion(ctx context.Context, id int) (types.Question, error) {
	questions, err := s.LoadQuestions(ctx)
	if err != nil {
		return types.Question{}, err
	}
	for _, q := range questions {
		if q.ID == id {
			return q, nil
		}
	}
	return types.Question{}, store.E(store.ModeFile, "get_question", store.ErrNotFound, nil)
}

// AddQuestion assigns max(id)+1.
func (s *Store) AddQuestion(ctx context.Context, question types.Question) (types.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.LoadQuestions(ctx)
	if err != nil {
		return types.Question{}, err
	}
	next := 1
	for _, q := range questions {
		next = max(next, q.ID+1)
	}
	question.ID = next
	if err := s.writeQuestions("add_question", append(questions, question)); err != nil {
		return types.Question{}, err
	}
	return question, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, question types.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.LoadQuestions(ctx)
	if err != nil {
		return err
	}
	for i, q := range questions {
		if q.ID == question.ID {
			questions[i] = question
			return s.writeQuestions("update_question", questions)
		}
	}
	return store.E(store.ModeFile, "update_question", store.ErrNotFound,
		fmt.Errorf("question %d", question.ID))
}

func (s *Store) DeleteQuestion(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	questions, err := s.LoadQuestions(ctx)
	if err != nil {
		return err
	}
	for i, q := range questions {
		if q.ID == id {
			questions = append(questions[:i], questions[i+1:]...)
			return s.writeQuestions("delete_question", questions)
		}
	}
	return store.E(store.ModeFile, "delete_question", store.ErrNotFound, fmt.Errorf("question %d", id))
}

func (s *Store) QuestionsByCategory(ctx context.Context, category string) ([]types.Question, error) {
	questions, err := s.LoadQuestions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Question, 0)
	for _, q := range questions {
		if q.Category == category {
			out = append(out, q)
		}
	}
	return out, nil
}
