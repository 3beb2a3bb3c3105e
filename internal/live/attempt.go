// Package live hosts an in-progress quiz attempt on the server: the answer
// sheet, the question timer, the countdown and the proctoring machine. Every
// path that can submit goes through the attempt's single guard.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/softrate/quizgrader/internal/grading"
	"github.com/softrate/quizgrader/internal/model"
	"github.com/softrate/quizgrader/internal/proctor"
	"github.com/softrate/quizgrader/internal/timing"
)

var (
	// ErrSubmitting is returned when another submission is underway or done.
	ErrSubmitting = errors.New("submission already in progress")
	// ErrClosed is returned when the attempt no longer accepts input.
	ErrClosed = errors.New("attempt is closed")
)

// Reason records which path triggered a submission.
type Reason string

const (
	ReasonManual     Reason = "manual"
	ReasonTimeout    Reason = "timeout"
	ReasonProctoring Reason = "proctoring"
)

// Grader finalizes an attempt.
type Grader interface {
	Submit(ctx context.Context, quizID, studentID string, answers []model.Answer, timings map[string]int) (*model.Submission, error)
}

// EventType classifies events pushed to the client.
type EventType string

const (
	EventSubmitted    EventType = "submitted"
	EventSubmitFailed EventType = "submit_failed"
)

// Event is a server-initiated notification about the attempt.
type Event struct {
	Type       EventType         `json:"type"`
	Reason     Reason            `json:"reason,omitempty"`
	Submission *model.Submission `json:"submission,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Status is a snapshot of the attempt.
type Status struct {
	State     proctor.State  `json:"state"`
	Warnings  int            `json:"warnings"`
	Current   int            `json:"current"`
	Answered  int            `json:"answered"`
	Remaining int            `json:"remainingSeconds"`
	Submitted bool           `json:"submitted"`
	Timings   map[string]int `json:"timings"`
}

// Option configures an Attempt.
type Option func(*Attempt)

// WithClock overrides time.Now for the tracker and the countdown.
func WithClock(now func() time.Time) Option { return func(a *Attempt) { a.now = now } }

// WithDuration overrides the quiz's time limit.
func WithDuration(d time.Duration) Option { return func(a *Attempt) { a.duration = d } }

// WithNotify receives events raised outside a caller's request, such as
// timer expiry.
func WithNotify(fn func(Event)) Option { return func(a *Attempt) { a.notify = fn } }

// Attempt is one student's live run through a quiz.
type Attempt struct {
	quiz      model.Quiz
	studentID string
	grader    Grader
	guard     *proctor.Guard
	machine   *proctor.Machine
	tracker   *timing.Tracker
	now       func() time.Time
	duration  time.Duration

	mu       sync.Mutex
	notify   func(Event)
	keys     []string
	answers  map[string]string
	deadline time.Time
	timer    *time.Timer
	result   *model.Submission
}

// New creates an attempt. Call Start to begin the countdown.
func New(quiz model.Quiz, studentID string, grader Grader, counter proctor.WarningCounter, opts ...Option) *Attempt {
	a := &Attempt{
		quiz:      quiz,
		studentID: studentID,
		grader:    grader,
		guard:     &proctor.Guard{},
		now:       time.Now,
		duration:  quiz.Duration(),
		notify:    func(Event) {},
		answers:   make(map[string]string),
	}
	for _, o := range opts {
		o(a)
	}
	a.keys = make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		a.keys[i] = grading.QuestionKey(q, i)
	}
	a.tracker = timing.New(a.keys, a.now)
	a.machine = proctor.NewMachine(quiz.ID, studentID, counter, a.guard, a.forcedSubmit)
	return a
}

// SetNotify replaces the event listener.
func (a *Attempt) SetNotify(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notify = fn
}

func (a *Attempt) emit(ev Event) {
	a.mu.Lock()
	fn := a.notify
	a.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Start begins the countdown from the quiz duration.
func (a *Attempt) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		return
	}
	a.deadline = a.now().Add(a.duration)
	a.timer = time.AfterFunc(a.duration, a.expire)
}

// Close stops the countdown without submitting.
func (a *Attempt) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
}

// Navigate moves to the question at index.
func (a *Attempt) Navigate(index int) error {
	if a.guard.Busy() {
		return ErrClosed
	}
	return a.tracker.Navigate(index)
}

// Answer records the answer for the question at index, replacing any
// earlier one.
func (a *Attempt) Answer(index int, value string) error {
	if a.guard.Busy() {
		return ErrClosed
	}
	if index < 0 || index >= len(a.keys) {
		return fmt.Errorf("question index %d out of range", index)
	}
	a.mu.Lock()
	a.answers[a.keys[index]] = value
	a.mu.Unlock()
	return nil
}

// Deviation forwards a proctoring signal to the state machine.
func (a *Attempt) Deviation(ctx context.Context, sig proctor.Signal) (proctor.Transition, error) {
	return a.machine.Deviation(ctx, sig)
}

// Acknowledge dismisses a proctoring warning.
func (a *Attempt) Acknowledge() proctor.State {
	return a.machine.Acknowledge()
}

// Submit submits the attempt voluntarily.
func (a *Attempt) Submit(ctx context.Context) (*model.Submission, error) {
	if !a.guard.TryAcquire() {
		return nil, ErrSubmitting
	}
	return a.submitHeld(ctx, ReasonManual)
}

// Result returns the finalized submission, or nil.
func (a *Attempt) Result() *model.Submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Status returns a snapshot of the attempt.
func (a *Attempt) Status() Status {
	a.mu.Lock()
	answered := len(a.answers)
	remaining := 0
	if !a.deadline.IsZero() {
		remaining = int(a.deadline.Sub(a.now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
	}
	submitted := a.result != nil
	a.mu.Unlock()

	return Status{
		State:     a.machine.State(),
		Warnings:  a.machine.Warnings(),
		Current:   a.tracker.Current(),
		Answered:  answered,
		Remaining: remaining,
		Submitted: submitted,
		Timings:   a.tracker.Snapshot(),
	}
}

func (a *Attempt) expire() {
	if !a.guard.TryAcquire() {
		return
	}
	slog.Info("attempt timed out", "quiz_id", a.quiz.ID, "student_id", a.studentID)
	// The outcome reaches the client through notify.
	_, _ = a.submitHeld(context.Background(), ReasonTimeout)
}

// forcedSubmit is the proctoring machine's submit path; the machine holds
// the guard.
func (a *Attempt) forcedSubmit(ctx context.Context) error {
	_, err := a.submitHeld(ctx, ReasonProctoring)
	return err
}

// submitHeld grades the answers recorded so far. The caller holds the
// guard; it is released only if grading fails and may be retried.
func (a *Attempt) submitHeld(ctx context.Context, reason Reason) (*model.Submission, error) {
	timings := a.tracker.Flush()
	answers := a.collect()

	sub, err := a.grader.Submit(ctx, a.quiz.ID, a.studentID, answers, timings)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrAlreadySubmitted):
		// Submitted through another path; this attempt is over.
		a.stopTimer()
		a.machine.Complete()
		a.emit(Event{Type: EventSubmitFailed, Reason: reason, Error: err.Error()})
		return nil, err
	default:
		a.guard.Release()
		slog.Error("attempt submission failed", "quiz_id", a.quiz.ID, "student_id", a.studentID, "reason", reason, "error", err)
		a.emit(Event{Type: EventSubmitFailed, Reason: reason, Error: err.Error()})
		return nil, err
	}

	a.mu.Lock()
	a.result = sub
	a.mu.Unlock()
	a.stopTimer()
	if reason != ReasonProctoring {
		a.machine.Complete()
	}
	a.emit(Event{Type: EventSubmitted, Reason: reason, Submission: sub})
	return sub, nil
}

func (a *Attempt) stopTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
}

// collect returns the recorded answers in question order.
func (a *Attempt) collect() []model.Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Answer, 0, len(a.answers))
	for _, key := range a.keys {
		if v, ok := a.answers[key]; ok {
			out = append(out, model.Answer{QuestionID: key, Answer: v})
		}
	}
	return out
}
