package model

import (
	"errors"
	"time"
)

// ErrExamNotFound is returned when an exam does not exist or the student
// has no access to it.
var ErrExamNotFound = errors.New("exam not found")

// Exam represents exam metadata as served to a student. EndTime is the
// server-issued absolute deadline; the client never computes its own.
type Exam struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CourseTitle string    `json:"course_title"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// ExamPayload is the exam plus its ordered question list, as returned by
// GET /exams/:id. Questions never carry correct answers.
type ExamPayload struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}

// AnswerSubmission is one {questionId, answer} pair on the wire. Questions
// the student never touched are omitted from the submission entirely.
type AnswerSubmission struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SubmitExamRequest is the payload for POST /exams/:id/submit.
type SubmitExamRequest struct {
	Answers []AnswerSubmission `json:"answers"`
}

// SubmitResult is the server acknowledgement of a submission.
type SubmitResult struct {
	SubmissionID string  `json:"submission_id"`
	TotalScore   float64 `json:"total_score"`
}
