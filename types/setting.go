package types

import (
	"encoding/json"
	"time"
)

// Well-known setting keys.
const (
	SettingCompanyName          = "company_name"
	SettingPassingScore         = "passing_score"
	SettingCertificateValidity  = "certificate_validity_days"
	SettingSelfRegistration     = "enable_self_registration"
	SettingDefaultQuizTimeLimit = "default_quiz_time_limit"
	SettingDefaultQuizQuestions = "default_quiz_questions"
	SettingTrackCategories      = "track_categories"
	SettingRequireResetPassword = "require_reset_password"
	SettingPasswordExpiryDays   = "password_expiry_days"
)

// Setting is a single global configuration entry.
type Setting struct {
	// Key is the unique setting name.
	Key string `json:"key" db:"key" validate:"required,max=128"`

	// Value is an arbitrary JSON value: string, number, boolean or object.
	Value json.RawMessage `json:"value" db:"value" validate:"required"`

	// UpdatedAt is when the value was last changed.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewSetting marshals value into a Setting stamped with at.
func NewSetting(key string, value any, at time.Time) (Setting, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Setting{}, err
	}
	return Setting{Key: key, Value: raw, UpdatedAt: at}, nil
}

// Decode unmarshals the setting value into dst.
func (s Setting) Decode(dst any) error {
	return json.Unmarshal(s.Value, dst)
}
