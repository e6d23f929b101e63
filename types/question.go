package types

// Defaults applied to questions that omit a category or difficulty.
const (
	DefaultCategory   = "General"
	DefaultDifficulty = "Intermediate"
)

// Question represents a single multiple-choice quiz question.
type Question struct {
	// ID is the unique, monotonically assigned identifier of the question.
	ID int `json:"id" db:"id" validate:"gte=0"`

	// Question is the prompt text shown to the operator.
	Question string `json:"question" db:"question" validate:"required"`

	// Options is the ordered list of answer choices.
	Options []string `json:"options" db:"options" validate:"min=2,dive,required"`

	// Answer is the zero-based index of the correct option.
	Answer int `json:"answer" db:"answer" validate:"gte=0"`

	// Explanation is shown after the question has been answered.
	Explanation string `json:"explanation" db:"explanation"`

	// Category groups questions for statistics, e.g. "Safety".
	Category string `json:"category" db:"category"`

	// Difficulty is a free-form label such as "Beginner" or "Advanced".
	Difficulty string `json:"difficulty" db:"difficulty"`
}

// WithDefaults fills in the category and difficulty when they are empty.
func (q Question) WithDefaults() Question {
	if q.Category == "" {
		q.Category = DefaultCategory
	}
	if q.Difficulty == "" {
		q.Difficulty = DefaultDifficulty
	}
	return q
}

// AnswerInRange reports whether Answer points at one of the options.
func (q Question) AnswerInRange() bool {
	return q.Answer >= 0 && q.Answer < len(q.Options)
}
