package filestore

import (
	"context"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// Snapshot is a point-in-time read of every document. Records that fail
// conversion are listed in Failures instead of aborting the read.
type Snapshot struct {
	Users     map[string]types.User
	Questions []types.Question
	// Scores are in document order, oldest first.
	Scores   []types.Score
	Settings map[string]types.Setting

	// Counts holds the raw number of entries per document.
	Counts   store.Counts
	Failures []*store.ConversionError
	// Present lists the documents that exist on disk.
	Present []string
	TakenAt time.Time
}

// Empty reports whether no source document exists.
func (s *Snapshot) Empty() bool {
	return len(s.Present) == 0
}

// Snapshot reads all four documents.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	const op = "snapshot"
	snap := &Snapshot{TakenAt: time.Now()}

	users, err := s.readUsers(op)
	if err != nil {
		return nil, err
	}
	questions, err := s.readQuestions(op)
	if err != nil {
		return nil, err
	}
	scores, err := s.readScores(op)
	if err != nil {
		return nil, err
	}
	settings, err := s.readSettings(op)
	if err != nil {
		return nil, err
	}

	snap.Users = users.records
	snap.Questions = questions.records
	snap.Scores = scores.records
	snap.Settings = settings.records
	snap.Counts = store.Counts{
		Users:     int64(users.entries),
		Questions: int64(questions.entries),
		Scores:    int64(scores.entries),
		Settings:  int64(settings.entries),
	}

	exists := map[string]bool{
		UsersFile:     users.exists,
		QuestionsFile: questions.exists,
		ScoresFile:    scores.exists,
		SettingsFile:  settings.exists,
	}
	for _, doc := range Documents {
		if exists[doc.File] {
			snap.Present = append(snap.Present, doc.File)
		}
	}

	for _, failures := range [][]*store.ConversionError{users.failures, questions.failures, scores.failures, settings.failures} {
		snap.Failures = append(snap.Failures, failures...)
	}
	return snap, nil
}

var _ store.Backend = (*Store)(nil)
