package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDigest = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

func TestValidateUser(t *testing.T) {
	user := User{
		Username:     "alice",
		PasswordHash: sampleDigest,
		Role:         RoleOperator,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, Validate(user))

	t.Run("plaintext password", func(t *testing.T) {
		u := user
		u.PasswordHash = "password"
		err := Validate(u)
		require.Error(t, err)
		fields := TranslateErrors(err)
		assert.Contains(t, fields["password"], "password hash")
	})

	t.Run("unknown role", func(t *testing.T) {
		u := user
		u.Role = "superuser"
		err := Validate(u)
		require.Error(t, err)
		assert.Contains(t, TranslateErrors(err), "role")
	})

	t.Run("bcrypt hash accepted", func(t *testing.T) {
		u := user
		u.PasswordHash = "$2a$10$" + strings.Repeat("a", 53)
		assert.NoError(t, Validate(u))
	})
}

func TestValidateQuestionAnswerIndex(t *testing.T) {
	q := Question{
		ID:       1,
		Question: "What is the maximum load?",
		Options:  []string{"1t", "2t", "3t", "4t"},
		Answer:   3,
	}
	require.NoError(t, Validate(q))

	q.Answer = 4
	err := Validate(q)
	require.Error(t, err)
	assert.Equal(t, "answer must reference one of the options", TranslateErrors(err)["answer"])

	q.Answer = -1
	assert.Error(t, Validate(q))

	q.Answer = 0
	q.Options = []string{"only"}
	assert.Error(t, Validate(q))
}

func TestQuestionWithDefaults(t *testing.T) {
	q := Question{}.WithDefaults()
	assert.Equal(t, DefaultCategory, q.Category)
	assert.Equal(t, DefaultDifficulty, q.Difficulty)

	q = Question{Category: "Safety", Difficulty: "Advanced"}.WithDefaults()
	assert.Equal(t, "Safety", q.Category)
	assert.Equal(t, "Advanced", q.Difficulty)
}

func TestValidateScorePercentage(t *testing.T) {
	s := Score{
		ID:         "s1",
		Username:   "alice",
		Score:      8,
		MaxScore:   10,
		Percentage: 80,
		Passed:     true,
		Timestamp:  time.Now(),
		Categories: map[string]CategoryScore{"Safety": {Correct: 3, Total: 4}},
	}
	require.NoError(t, Validate(s))

	s.Percentage = 75
	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, TranslateErrors(err), "percentage")

	s.Percentage = 80
	s.Categories = map[string]CategoryScore{"Safety": {Correct: 5, Total: 4}}
	assert.Error(t, Validate(s))
}

func TestPercentage(t *testing.T) {
	assert.InDelta(t, 80.0, Percentage(8, 10), 0.0001)
	assert.InDelta(t, 66.6667, Percentage(2, 3), 0.001)
	assert.Zero(t, Percentage(3, 0))
	assert.True(t, Passing(80, 80))
	assert.False(t, Passing(79.99, 80))
}

func TestSettingRoundTrip(t *testing.T) {
	s, err := NewSetting(SettingPassingScore, 75, time.Now())
	require.NoError(t, err)

	var v float64
	require.NoError(t, s.Decode(&v))
	assert.Equal(t, 75.0, v)
	assert.NoError(t, Validate(s))
}

func TestValidationMessage(t *testing.T) {
	err := Validate(Question{Options: []string{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, ValidationMessage(err), "question is a required field")
}
