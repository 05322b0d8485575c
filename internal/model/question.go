package model

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
)

// Question is a single exam question as presented to the student.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Stem    string       `json:"stem"`
	Options []Option     `json:"options,omitempty"`
	Score   float64      `json:"score"`
}

// Option is one selectable choice, keyed by letter ("A", "B", ...).
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}
