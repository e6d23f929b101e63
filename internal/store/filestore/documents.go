package filestore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// decoded holds the converted records of one document together with the
// records that failed conversion.
type decoded[T any] struct {
	records  T
	failures []*store.ConversionError
	entries  int
	exists   bool
}

// strict returns the records, or the first conversion failure as a typed error.
func (d decoded[T]) strict(op string) (T, error) {
	if len(d.failures) > 0 {
		var zero T
		return zero, store.E(store.ModeFile, op, store.ErrConversion, d.failures[0])
	}
	return d.records, nil
}

func (s *Store) readMap(op, name string) (map[string]json.RawMessage, time.Time, bool, error) {
	data, modTime, exists, err := s.readDoc(op, name)
	if err != nil || !exists {
		return map[string]json.RawMessage{}, modTime, exists, err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, modTime, exists, store.E(store.ModeFile, op, store.ErrConversion,
			convErr(name, name, "document is not a JSON object: %v", err))
	}
	return raw, modTime, true, nil
}

func (s *Store) readList(op, name string) ([]json.RawMessage, time.Time, bool, error) {
	data, modTime, exists, err := s.readDoc(op, name)
	if err != nil || !exists {
		return nil, modTime, exists, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, modTime, exists, store.E(store.ModeFile, op, store.ErrConversion,
			convErr(name, name, "document is not a JSON array: %v", err))
	}
	return raw, modTime, true, nil
}

func (s *Store) readUsers(op string) (decoded[map[string]types.User], error) {
	raw, modTime, exists, err := s.readMap(op, UsersFile)
	if err != nil {
		return decoded[map[string]types.User]{}, err
	}
	out := decoded[map[string]types.User]{
		records: make(map[string]types.User, len(raw)),
		entries: len(raw),
		exists:  exists,
	}
	for _, username := range sortedKeys(raw) {
		user, cerr := userFromRecord(username, raw[username], modTime)
		if cerr != nil {
			out.failures = append(out.failures, cerr)
			continue
		}
		out.records[username] = user
	}
	return out, nil
}

func (s *Store) readQuestions(op string) (decoded[[]types.Question], error) {
	raw, _, exists, err := s.readList(op, QuestionsFile)
	if err != nil {
		return decoded[[]types.Question]{}, err
	}
	out := decoded[[]types.Question]{
		records: make([]types.Question, 0, len(raw)),
		entries: len(raw),
		exists:  exists,
	}
	for i, r := range raw {
		q, cerr := questionFromRecord(i, r)
		if cerr != nil {
			out.failures = append(out.failures, cerr)
			continue
		}
		out.records = append(out.records, q)
	}
	sort.SliceStable(out.records, func(i, j int) bool {
		return out.records[i].ID < out.records[j].ID
	})
	return out, nil
}

// readScores returns scores in document order, which is oldest first.
func (s *Store) readScores(op string) (decoded[[]types.Score], error) {
	threshold := s.threshold(op)
	raw, modTime, exists, err := s.readList(op, ScoresFile)
	if err != nil {
		return decoded[[]types.Score]{}, err
	}
	out := decoded[[]types.Score]{
		records: make([]types.Score, 0, len(raw)),
		entries: len(raw),
		exists:  exists,
	}
	for i, r := range raw {
		score, cerr := scoreFromRecord(i, r, threshold, modTime)
		if cerr != nil {
			out.failures = append(out.failures, cerr)
			continue
		}
		out.records = append(out.records, score)
	}
	return out, nil
}

func (s *Store) readSettings(op string) (decoded[map[string]types.Setting], error) {
	raw, modTime, exists, err := s.readMap(op, SettingsFile)
	if err != nil {
		return decoded[map[string]types.Setting]{}, err
	}

	updated := modTime
	if legacy, ok := raw[legacyUpdatedKey]; ok {
		var value string
		if json.Unmarshal(legacy, &value) == nil {
			if t, err := ParseTime(value); err == nil {
				updated = t
			}
		}
		delete(raw, legacyUpdatedKey)
	}

	out := decoded[map[string]types.Setting]{
		records: make(map[string]types.Setting, len(raw)),
		entries: len(raw),
		exists:  exists,
	}
	for _, key := range sortedKeys(raw) {
		setting, cerr := settingFromRecord(key, raw[key], updated)
		if cerr != nil {
			out.failures = append(out.failures, cerr)
			continue
		}
		out.records[key] = setting
	}
	return out, nil
}

// threshold returns the passing score used to derive missing pass flags.
func (s *Store) threshold(op string) float64 {
	settings, err := s.readSettings(op)
	if err != nil {
		return s.passingScore
	}
	setting, ok := settings.records[types.SettingPassingScore]
	if !ok {
		return s.passingScore
	}
	var v float64
	if err := setting.Decode(&v); err != nil {
		return s.passingScore
	}
	return v
}

func (s *Store) writeUsers(op string, users map[string]types.User) error {
	doc := make(map[string]userRecord, len(users))
	for name, u := range users {
		doc[name] = userToRecord(u)
	}
	return s.writeDoc(op, UsersFile, doc)
}

func (s *Store) writeQuestions(op string, questions []types.Question) error {
	sorted := append([]types.Question(nil), questions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	if sorted == nil {
		sorted = []types.Question{}
	}
	return s.writeDoc(op, QuestionsFile, sorted)
}

// writeScores stores scores oldest first so appends keep the file diffable.
func (s *Store) writeScores(op string, scores []types.Score) error {
	sorted := append([]types.Score(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	doc := make([]scoreRecord, 0, len(sorted))
	for _, sc := range sorted {
		doc = append(doc, scoreToRecord(sc))
	}
	return s.writeDoc(op, ScoresFile, doc)
}

func (s *Store) writeSettings(op string, settings map[string]types.Setting) error {
	doc := make(map[string]settingRecord, len(settings))
	for key, setting := range settings {
		doc[key] = settingToRecord(setting)
	}
	return s.writeDoc(op, SettingsFile, doc)
}
