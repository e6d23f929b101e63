package filestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// LoadScores returns every score, newest first.
func (s *Store) LoadScores(ctx context.Context) ([]types.Score, error) {
	doc, err := s.readScores("load_scores")
	if err != nil {
		return nil, err
	}
	scores, err := doc.strict("load_scores")
	if err != nil {
		return nil, err
	}
	newestFirst(scores)
	return scores, nil
}

// SaveScores replaces the scores document. Every score must reference an
// existing user and carry a unique id; otherwise nothing is written.
func (s *Store) SaveScores(ctx context.Context, scores []types.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	ids := make(map[string]bool, len(scores))
	for _, sc := range scores {
		if err := checkScore("save_scores", users, ids, sc); err != nil {
			return err
		}
	}
	return s.writeScores("save_scores", scores)
}

func (s *Store) AddScore(ctx context.Context, score types.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.LoadUsers(ctx)
	if err != nil {
		return err
	}
	doc, err := s.readScores("add_score")
	if err != nil {
		return err
	}
	scores, err := doc.strict("add_score")
	if err != nil {
		return err
	}
	ids := make(map[string]bool, len(scores))
	for _, sc := range scores {
		ids[sc.ID] = true
	}
	if err := checkScore("add_score", users, ids, score); err != nil {
		return err
	}
	return s.writeScores("add_score", append(scores, score))
}

func checkScore(op string, users map[string]types.User, ids map[string]bool, score types.Score) error {
	if _, ok := users[score.Username]; !ok {
		return store.E(store.ModeFile, op, store.ErrConstraintViolation,
			fmt.Errorf("score %s references unknown user %q", score.ID, score.Username))
	}
	if ids[score.ID] {
		return store.E(store.ModeFile, op, store.ErrConstraintViolation,
			fmt.Errorf("duplicate score id %s", score.ID))
	}
	ids[score.ID] = true
	return nil
}

func (s *Store) UserScores(ctx context.Context, username string, limit int) ([]types.Score, error) {
	scores, err := s.LoadScores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Score, 0)
	for _, sc := range scores {
		if sc.Username == username {
			out = append(out, sc)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClearScores(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readScores("clear_scores")
	if err != nil {
		return 0, err
	}
	if err := s.writeScores("clear_scores", nil); err != nil {
		return 0, err
	}
	return int64(doc.entries), nil
}

func (s *Store) ClearUserScores(ctx context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.readScores("clear_user_scores")
	if err != nil {
		return 0, err
	}
	if err := s.dropScores("clear_user_scores", func(sc types.Score) bool {
		return sc.Username == username
	}); err != nil {
		return 0, err
	}
	removed := 0
	for _, sc := range before.records {
		if sc.Username == username {
			removed++
		}
	}
	return int64(removed), nil
}

// dropScores rewrites the scores document without the scores matching drop.
// The caller holds s.mu.
func (s *Store) dropScores(op string, drop func(types.Score) bool) error {
	doc, err := s.readScores(op)
	if err != nil {
		return err
	}
	if !doc.exists {
		return nil
	}
	scores, err := doc.strict(op)
	if err != nil {
		return err
	}
	kept := make([]types.Score, 0, len(scores))
	for _, sc := range scores {
		if !drop(sc) {
			kept = append(kept, sc)
		}
	}
	if len(kept) == len(scores) {
		return nil
	}
	return s.writeScores(op, kept)
}

func newestFirst(scores []types.Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Timestamp.After(scores[j].Timestamp)
	})
}
