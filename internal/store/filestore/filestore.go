package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/rs/zerolog"
)

// Document file names inside the data directory.
const (
	UsersFile     = "users.json"
	QuestionsFile = "questions.json"
	ScoresFile    = "scores.json"
	SettingsFile  = "settings.json"
)

// Documents maps each entity to its document, in foreign-key order.
var Documents = []struct {
	Entity string
	File   string
}{
	{store.EntityUsers, UsersFile},
	{store.EntityQuestions, QuestionsFile},
	{store.EntityScores, ScoresFile},
	{store.EntitySettings, SettingsFile},
}

const defaultPassingScore = 80

// Store keeps each collection as one JSON document in a directory.
// Reads parse the whole document; writes replace it atomically. The mutex
// serializes read-modify-write cycles within this process only.
type Store struct {
	dir          string
	passingScore float64
	log          zerolog.Logger
	mu           sync.Mutex
}

// Options configures a file store.
type Options struct {
	// PassingScore derives the pass flag of legacy scores that lack one
	// when settings.json has no passing_score.
	PassingScore float64
	Logger       zerolog.Logger
}

// New opens a file store rooted at dir, creating the directory if needed.
func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, store.E(store.ModeFile, "open", store.ErrStorageUnavailable, errors.New("data directory is required"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.E(store.ModeFile, "open", store.ErrStorageUnavailable, err)
	}
	if opts.PassingScore <= 0 {
		opts.PassingScore = defaultPassingScore
	}
	return &Store{
		dir:          dir,
		passingScore: opts.PassingScore,
		log:          opts.Logger.With().Str("component", "filestore").Str("dir", dir).Logger(),
	}, nil
}

// Mode implements store.Backend.
func (s *Store) Mode() store.Mode {
	return store.ModeFile
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close implements store.Backend. Documents hold no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readDoc returns the raw document. A missing document reads as nil data
// with exists=false.
func (s *Store) readDoc(op, name string) (data []byte, modTime time.Time, exists bool, err error) {
	p := s.path(name)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, store.E(store.ModeFile, op, store.ErrStorageUnavailable, err)
	}
	data, err = os.ReadFile(p)
	if err != nil {
		return nil, time.Time{}, false, store.E(store.ModeFile, op, store.ErrStorageUnavailable, err)
	}
	return data, info.ModTime(), true, nil
}

// writeDoc replaces the document with v. The new content is written to a
// temporary file in the same directory, synced and renamed over the target
// so readers never observe a partial document.
func (s *Store) writeDoc(op, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return store.E(store.ModeFile, op, store.ErrConversion, err)
	}
	if err := s.replace(name, data); err != nil {
		return store.E(store.ModeFile, op, store.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) replace(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(name))
}

// Freeze blocks every write through this store until the returned release
// func is called. Reads are not affected.
func (s *Store) Freeze() (release func()) {
	s.mu.Lock()
	var once sync.Once
	return func() { once.Do(s.mu.Unlock) }
}

// DocumentPaths returns the paths of the documents that currently exist.
func (s *Store) DocumentPaths() ([]string, error) {
	var paths []string
	for _, doc := range Documents {
		p := s.path(doc.File)
		_, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, store.E(store.ModeFile, "list_documents", store.ErrStorageUnavailable, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// RestoreDocument atomically replaces a document with the content of r.
// The content must be valid JSON.
func (s *Store) RestoreDocument(name string, r io.Reader) error {
	known := false
	for _, doc := range Documents {
		if doc.File == name {
			known = true
		}
	}
	if !known {
		return store.E(store.ModeFile, "restore", store.ErrNotFound, fmt.Errorf("unknown document %q", name))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return store.E(store.ModeFile, "restore", store.ErrStorageUnavailable, err)
	}
	if !json.Valid(data) {
		return store.E(store.ModeFile, "restore", store.ErrConversion, fmt.Errorf("%s is not valid JSON", name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replace(name, data); err != nil {
		return store.E(store.ModeFile, "restore", store.ErrStorageUnavailable, err)
	}
	s.log.Info().Str("document", name).Msg("document restored")
	return nil
}
