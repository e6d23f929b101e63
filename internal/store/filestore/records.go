package filestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizstore/internal/store"
	"github.com/quizdesk/quizstore/types"
)

// TimeLayout is the timestamp format used inside documents.
const TimeLayout = "2006-01-02 15:04:05"

// legacyUpdatedKey holds the shared update time in flat settings documents.
const legacyUpdatedKey = "last_updated"

var timeLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// scoreIDNamespace derives stable ids for legacy scores stored without one.
var scoreIDNamespace = uuid.MustParse("7c1d7a1e-3f0b-4c55-9a36-1f8f0f4b6f21")

// ParseTime parses a document timestamp. Naive layouts are read in local time.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// FormatTime renders t in the document timestamp layout.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(TimeLayout)
}

func convErr(entity, key, format string, args ...any) *store.ConversionError {
	return &store.ConversionError{Entity: entity, Key: key, Reason: fmt.Sprintf(format, args...)}
}

func validated(entity, key string, v any) *store.ConversionError {
	if err := types.Validate(v); err != nil {
		return convErr(entity, key, "%s", types.ValidationMessage(err))
	}
	return nil
}

// Users

type userRecord struct {
	Password  string  `json:"password"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"created_at"`
	LastLogin *string `json:"last_login"`
}

func userFromRecord(username string, raw json.RawMessage, fallback time.Time) (types.User, *store.ConversionError) {
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.User{}, convErr(store.EntityUsers, username, "%v", err)
	}

	user := types.User{
		Username:     username,
		PasswordHash: rec.Password,
		Name:         rec.Name,
		Role:         rec.Role,
		CreatedAt:    fallback,
	}
	if rec.CreatedAt != "" {
		t, err := ParseTime(rec.CreatedAt)
		if err != nil {
			return types.User{}, convErr(store.EntityUsers, username, "created_at: %v", err)
		}
		user.CreatedAt = t
	}
	if rec.LastLogin != nil && *rec.LastLogin != "" {
		t, err := ParseTime(*rec.LastLogin)
		if err != nil {
			return types.User{}, convErr(store.EntityUsers, username, "last_login: %v", err)
		}
		user.LastLogin = &t
	}

	if cerr := validated(store.EntityUsers, username, user); cerr != nil {
		return types.User{}, cerr
	}
	return user, nil
}

func userToRecord(u types.User) userRecord {
	rec := userRecord{
		Password:  u.PasswordHash,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: FormatTime(u.CreatedAt),
	}
	if u.LastLogin != nil {
		v := FormatTime(*u.LastLogin)
		rec.LastLogin = &v
	}
	return rec
}

// Questions

func questionFromRecord(index int, raw json.RawMessage) (types.Question, *store.ConversionError) {
	var q types.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return types.Question{}, convErr(store.EntityQuestions, fmt.Sprintf("#%d", index), "%v", err)
	}
	q = q.WithDefaults()
	if cerr := validated(store.EntityQuestions, strconv.Itoa(q.ID), q); cerr != nil {
		return types.Question{}, cerr
	}
	return q, nil
}

// Scores

type scoreRecord struct {
	ID         string                         `json:"id"`
	Username   string                         `json:"username"`
	Score      int                            `json:"score"`
	MaxScore   int                            `json:"max_score"`
	Percentage *float64                       `json:"percentage"`
	Passed     *bool                          `json:"passed"`
	Timestamp  string                         `json:"timestamp"`
	TimeTaken  *float64                       `json:"time_taken"`
	Categories map[string]types.CategoryScore `json:"categories,omitempty"`
}

// scoreFromRecord converts a stored score. A missing percentage or pass flag
// is derived; a missing id is derived from username and timestamp.
func scoreFromRecord(index int, raw json.RawMessage, threshold float64, fallback time.Time) (types.Score, *store.ConversionError) {
	var rec scoreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.Score{}, convErr(store.EntityScores, fmt.Sprintf("#%d", index), "%v", err)
	}

	score := types.Score{
		ID:         rec.ID,
		Username:   rec.Username,
		Score:      rec.Score,
		MaxScore:   rec.MaxScore,
		Percentage: types.Percentage(rec.Score, rec.MaxScore),
		Timestamp:  fallback,
		TimeTaken:  rec.TimeTaken,
		Categories: rec.Categories,
	}
	if score.ID == "" {
		score.ID = uuid.NewSHA1(scoreIDNamespace, []byte(rec.Username+"_"+rec.Timestamp)).String()
	}
	if rec.Timestamp != "" {
		t, err := ParseTime(rec.Timestamp)
		if err != nil {
			return types.Score{}, convErr(store.EntityScores, score.ID, "timestamp: %v", err)
		}
		score.Timestamp = t
	}
	if rec.Percentage != nil {
		score.Percentage = *rec.Percentage
	}
	score.Passed = types.Passing(score.Percentage, threshold)
	if rec.Passed != nil {
		score.Passed = *rec.Passed
	}

	if cerr := validated(store.EntityScores, score.ID, score); cerr != nil {
		return types.Score{}, cerr
	}
	return score, nil
}

func scoreToRecord(s types.Score) scoreRecord {
	pct := s.Percentage
	passed := s.Passed
	return scoreRecord{
		ID:         s.ID,
		Username:   s.Username,
		Score:      s.Score,
		MaxScore:   s.MaxScore,
		Percentage: &pct,
		Passed:     &passed,
		Timestamp:  FormatTime(s.Timestamp),
		TimeTaken:  s.TimeTaken,
		Categories: s.Categories,
	}
}

// Settings

type settingRecord struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

// settingFromRecord accepts both {"value": ..., "updated_at": ...} records
// and the legacy flat form where the raw JSON is the value itself.
func settingFromRecord(key string, raw json.RawMessage, fallback time.Time) (types.Setting, *store.ConversionError) {
	setting := types.Setting{Key: key, Value: raw, UpdatedAt: fallback}

	if rec, ok := asSettingRecord(raw); ok {
		setting.Value = rec.Value
		if rec.UpdatedAt != "" {
			t, err := ParseTime(rec.UpdatedAt)
			if err != nil {
				return types.Setting{}, convErr(store.EntitySettings, key, "updated_at: %v", err)
			}
			setting.UpdatedAt = t
		}
	}

	if cerr := validated(store.EntitySettings, key, setting); cerr != nil {
		return types.Setting{}, cerr
	}
	return setting, nil
}

func asSettingRecord(raw json.RawMessage) (settingRecord, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return settingRecord{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return settingRecord{}, false
	}
	if _, ok := fields["value"]; !ok || len(fields) > 2 {
		return settingRecord{}, false
	}
	if _, ok := fields["updated_at"]; len(fields) == 2 && !ok {
		return settingRecord{}, false
	}
	var rec settingRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return settingRecord{}, false
	}
	return rec, true
}

func settingToRecord(s types.Setting) settingRecord {
	return settingRecord{Value: s.Value, UpdatedAt: FormatTime(s.UpdatedAt)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
