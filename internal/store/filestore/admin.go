package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/quizdesk/quizstore/internal/store"
)

var documentColumns = map[string][]string{
	store.EntityUsers:     {"username", "password", "name", "role", "created_at", "last_login"},
	store.EntityQuestions: {"id", "question", "options", "answer", "explanation", "category", "difficulty"},
	store.EntityScores:    {"id", "username", "score", "max_score", "percentage", "passed", "timestamp", "time_taken", "categories"},
	store.EntitySettings:  {"key", "value", "updated_at"},
}

// Counts returns the number of entries in each document, including
// entries that would fail conversion.
func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return store.Counts{}, err
	}
	return snap.Counts, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	stats := store.Stats{Mode: store.ModeFile, Location: s.dir}
	for _, doc := range Documents {
		table := store.TableStats{
			Name:    doc.Entity,
			Rows:    counts.Get(doc.Entity),
			Columns: documentColumns[doc.Entity],
		}
		info, err := os.Stat(s.path(doc.File))
		switch {
		case err == nil:
			table.SizeBytes = info.Size()
		case !errors.Is(err, fs.ErrNotExist):
			return store.Stats{}, store.E(store.ModeFile, "stats", store.ErrStorageUnavailable, err)
		}
		stats.SizeBytes += table.SizeBytes
		stats.Tables = append(stats.Tables, table)
	}
	return stats, nil
}

// CheckIntegrity reports records that fail conversion as well as
// cross-document problems such as scores owned by missing users.
func (s *Store) CheckIntegrity(ctx context.Context) ([]store.Issue, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	issues := store.Inspect(snap.Users, snap.Questions, snap.Scores)
	for _, f := range snap.Failures {
		issues = append(issues, store.Issue{Entity: f.Entity, Key: f.Key, Problem: f.Reason})
	}
	return issues, nil
}
