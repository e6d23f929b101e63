package types

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	trans        ut.Translator

	sha256Hex  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	bcryptHash = regexp.MustCompile(`^\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}$`)
)

// IsPasswordHash reports whether s looks like a stored password digest:
// a bcrypt hash or a legacy hex-encoded SHA-256 digest.
func IsPasswordHash(s string) bool {
	return bcryptHash.MatchString(s) || sha256Hex.MatchString(s)
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Use JSON tag names in error messages, db names for hidden fields.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Tag.Get("db")
			}
			return name
		})

		_ = v.RegisterValidation("passwordhash", func(fl validator.FieldLevel) bool {
			return IsPasswordHash(fl.Field().String())
		})
		v.RegisterStructValidation(questionStructLevel, Question{})
		v.RegisterStructValidation(scoreStructLevel, Score{})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerMessage(v, "passwordhash", "{0} must be a password hash, not plaintext")
		registerMessage(v, "answerindex", "{0} must reference one of the options")
		registerMessage(v, "percentage", "{0} does not match score / max_score")

		validate = v
	})
	return validate
}

func registerMessage(v *validator.Validate, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T(tag, fe.Field())
			return msg
		},
	)
}

func questionStructLevel(sl validator.StructLevel) {
	q := sl.Current().Interface().(Question)
	if len(q.Options) > 0 && !q.AnswerInRange() {
		sl.ReportError(q.Answer, "answer", "Answer", "answerindex", "")
	}
}

func scoreStructLevel(sl validator.StructLevel) {
	s := sl.Current().Interface().(Score)
	if !s.PercentageConsistent() {
		sl.ReportError(s.Percentage, "percentage", "Percentage", "percentage", "")
	}
}

// Validate checks a domain record against its validation tags and
// cross-field invariants.
func Validate(v any) error {
	return validatorInstance().Struct(v)
}

// TranslateErrors turns a validation error into a map of field name to
// human-readable message. Other errors are returned under "detail".
func TranslateErrors(err error) map[string]string {
	validatorInstance()
	fields := make(map[string]string)

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// ValidationMessage flattens TranslateErrors into a single line.
func ValidationMessage(err error) string {
	fields := TranslateErrors(err)
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
