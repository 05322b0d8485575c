// Package exam drives a student through a timed attempt: load questions,
// collect answers locally, and guarantee that exactly one submission
// reaches the server whether the student clicks submit or the deadline
// expires first.
package exam

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/api"
	"github.com/stemsi/exstem-portal/internal/model"
)

// ErrNoAttempt is returned when Submit is called before a successful Load.
var ErrNoAttempt = errors.New("no exam attempt loaded")

// Runner owns one exam attempt. It is created per exam-taking view and
// discarded when the view unmounts.
type Runner struct {
	client *api.Client
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	exam      *model.Exam
	questions []model.Question
	answers   map[string]string
	inFlight  bool
	submitted bool
	result    *model.SubmitResult
	timer     *time.Timer
	stopped   bool

	// onDeadline receives the outcome of a countdown-triggered submission.
	onDeadline func(*model.SubmitResult, error)
}

// NewRunner creates a runner for the exam-taking view.
func NewRunner(client *api.Client, log zerolog.Logger) *Runner {
	return &Runner{
		client:  client,
		log:     log.With().Str("component", "exam_runner").Logger(),
		now:     time.Now,
		answers: make(map[string]string),
	}
}

// Load fetches exam metadata (including the authoritative end time) and the
// ordered question list, resetting any previous local state. Load failures
// are fatal to the attempt and are not retried here.
func (r *Runner) Load(ctx context.Context, examID string) error {
	payload, err := r.client.GetExam(ctx, examID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.exam = &payload.Exam
	r.questions = payload.Questions
	r.answers = make(map[string]string)
	r.inFlight = false
	r.submitted = false
	r.result = nil
	r.mu.Unlock()

	r.log.Info().
		Str("exam_id", payload.Exam.ID).
		Int("questions", len(payload.Questions)).
		Time("end_time", payload.Exam.EndTime).
		Msg("Exam loaded")
	return nil
}

// SetAnswer records the student's answer for a question, overwriting any
// prior value. Purely local; nothing is sent until Submit.
func (r *Runner) SetAnswer(questionID, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[questionID] = value
}

// EncodeChoices encodes a multi-select answer as comma-joined option
// letters in stable order.
func EncodeChoices(keys []string) string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// EncodeBool encodes a TRUE_FALSE answer.
func EncodeBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Submit sends the collected answers exactly once. If a submission is
// already in flight or has succeeded, the call is a no-op returning the
// prior result (nil while the first call is still pending). On failure the
// guard is released so the student can retry.
func (r *Runner) Submit(ctx context.Context) (*model.SubmitResult, error) {
	r.mu.Lock()
	if r.exam == nil {
		r.mu.Unlock()
		return nil, ErrNoAttempt
	}
	if r.submitted || r.inFlight {
		res := r.result
		r.mu.Unlock()
		return res, nil
	}

	// The guard must be taken in the same synchronous step as the decision
	// to submit, so a deadline callback and a user click in the same tick
	// cannot both reach the network.
	r.inFlight = true
	examID := r.exam.ID
	payload := r.payloadLocked()
	r.mu.Unlock()

	result, err := r.client.SubmitExam(ctx, examID, payload)
	if err != nil {
		r.mu.Lock()
		r.inFlight = false // Release the guard: retry is allowed.
		r.mu.Unlock()

		r.log.Warn().Err(err).Str("exam_id", examID).Msg("Submission failed")
		return nil, err
	}

	r.mu.Lock()
	r.submitted = true
	r.inFlight = false
	r.result = result
	r.mu.Unlock()

	r.StopCountdown()

	r.log.Info().
		Str("exam_id", examID).
		Str("submission_id", result.SubmissionID).
		Float64("score", result.TotalScore).
		Msg("Exam submitted")
	return result, nil
}

// payloadLocked converts the answer map to wire format, preserving question
// order and omitting untouched questions. Caller holds r.mu.
func (r *Runner) payloadLocked() []model.AnswerSubmission {
	payload := make([]model.AnswerSubmission, 0, len(r.answers))
	for _, q := range r.questions {
		if ans, ok := r.answers[q.ID]; ok {
			payload = append(payload, model.AnswerSubmission{QuestionID: q.ID, Answer: ans})
		}
	}
	return payload
}

// StartCountdown arms the deadline timer. When the countdown reaches zero
// the runner submits through the same guarded path as a manual submit; the
// outcome goes to the handler installed with OnDeadline.
func (r *Runner) StartCountdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exam == nil || r.timer != nil {
		return
	}

	remaining := r.exam.EndTime.Sub(r.now())
	if remaining < 0 {
		remaining = 0
	}
	r.stopped = false
	r.timer = time.AfterFunc(remaining, r.deadlineExpired)

	r.log.Info().Dur("remaining", remaining).Msg("Countdown started")
}

// StopCountdown cancels the deadline timer. Called when the view unmounts
// or after a successful submission; a late deadline callback after Stop is
// dropped.
func (r *Runner) StopCountdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// OnDeadline installs the handler for countdown-triggered submissions.
func (r *Runner) OnDeadline(fn func(*model.SubmitResult, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDeadline = fn
}

func (r *Runner) deadlineExpired() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	fn := r.onDeadline
	r.mu.Unlock()

	r.log.Info().Msg("Deadline reached, auto-submitting")

	// An empty answer list is still submitted; the server scores untouched
	// questions as zero, the client never fabricates answers.
	result, err := r.Submit(context.Background())
	if fn != nil {
		fn(result, err)
	}
}

// Remaining returns the time left until the deadline, floored at zero.
func (r *Runner) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exam == nil {
		return 0
	}
	remaining := r.exam.EndTime.Sub(r.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Exam returns the loaded exam metadata, or nil before Load.
func (r *Runner) Exam() *model.Exam {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exam == nil {
		return nil
	}
	examCopy := *r.exam
	return &examCopy
}

// Questions returns the ordered question list.
func (r *Runner) Questions() []model.Question {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Question, len(r.questions))
	copy(out, r.questions)
	return out
}

// Answer returns the recorded answer for a question, if any.
func (r *Runner) Answer(questionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ans, ok := r.answers[questionID]
	return ans, ok
}

// AnsweredCount reports how many questions have been touched. The view uses
// it to ask for confirmation before a partial manual submit.
func (r *Runner) AnsweredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.answers)
}

// Submitted reports whether a submission has been accepted by the server.
func (r *Runner) Submitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted
}

// Result returns the accepted submission result, or nil.
func (r *Runner) Result() *model.SubmitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result == nil {
		return nil
	}
	resCopy := *r.result
	return &resCopy
}
