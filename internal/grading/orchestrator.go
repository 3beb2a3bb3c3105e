package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/model"
)

// RemotePointsPerQuestion is the fixed scale the scoring engine grades on.
const RemotePointsPerQuestion = 10

// DefaultTimeout bounds a remote scoring call.
const DefaultTimeout = 10 * time.Second

// ErrMalformedResult is returned by authorities when the response is not a success envelope.
var ErrMalformedResult = errors.New("malformed scoring result")

// RemoteRequest is what a scoring authority receives. Quiz is not sent over
// the wire; authorities that grade themselves may read the questions from it.
type RemoteRequest struct {
	StudentID string         `json:"user_id"`
	QuizID    string         `json:"quiz_id"`
	QuizTitle string         `json:"quiz_title"`
	Answers   []model.Answer `json:"answers"`
	Quiz      model.Quiz     `json:"-"`
}

// RemoteResult is a successful scoring envelope.
type RemoteResult struct {
	Score      float64
	Percentage float64
	ReportID   string
	Report     *model.DetailedReport
}

// Authority is a remote scoring service. Any error means the caller grades locally.
type Authority interface {
	Score(ctx context.Context, req RemoteRequest) (*RemoteResult, error)
}

// Catalog is the read-only source of quizzes.
type Catalog interface {
	GetQuiz(ctx context.Context, id string) (model.Quiz, error)
}

// Ledger persists finalized submissions together with their completion event.
type Ledger interface {
	HasSubmission(ctx context.Context, quizID, studentID string) (bool, error)
	FinalizeSubmission(ctx context.Context, sub *model.Submission, event model.Activity) error
}

// ReportSink stores detailed reports returned alongside a remote score.
type ReportSink interface {
	SaveReport(ctx context.Context, r model.DetailedReport) error
}

// Option configures a Grader.
type Option func(*Grader)

// WithTimeout sets the remote scoring timeout.
func WithTimeout(d time.Duration) Option { return func(g *Grader) { g.timeout = d } }

// WithReportSink stores reports returned by the authority.
func WithReportSink(r ReportSink) Option { return func(g *Grader) { g.reports = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(g *Grader) { g.now = now } }

// Grader turns raw answers into a finalized submission.
type Grader struct {
	catalog   Catalog
	ledger    Ledger
	authority Authority
	reports   ReportSink
	timeout   time.Duration
	now       func() time.Time
	flight    singleflight.Group
}

// NewGrader creates a Grader. authority may be nil, in which case every
// submission is graded locally.
func NewGrader(catalog Catalog, ledger Ledger, authority Authority, opts ...Option) *Grader {
	g := &Grader{
		catalog:   catalog,
		ledger:    ledger,
		authority: authority,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Submit loads the quiz and grades the answers. Concurrent calls for the same
// (quiz, student) share a single grading run.
func (g *Grader) Submit(ctx context.Context, quizID, studentID string, answers []model.Answer, timings map[string]int) (*model.Submission, error) {
	key := quizID + "\x00" + studentID
	v, err, shared := g.flight.Do(key, func() (any, error) {
		quiz, err := g.catalog.GetQuiz(ctx, quizID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("quiz %s: %w", quizID, model.ErrNotFound)
			}
			return nil, fmt.Errorf("load quiz %s: %w", quizID, err)
		}
		return g.Grade(ctx, quiz, studentID, answers, timings)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("collapsed duplicate submission", "quiz_id", quizID, "student_id", studentID)
	}
	return v.(*model.Submission), nil
}

// Grade produces and persists exactly one submission for the attempt. Remote
// scoring failures are recovered locally and never returned.
func (g *Grader) Grade(ctx context.Context, quiz model.Quiz, studentID string, answers []model.Answer, timings map[string]int) (*model.Submission, error) {
	// The HTTP request may go away; finalization still runs to completion.
	ctx = context.WithoutCancel(ctx)

	exists, err := g.ledger.HasSubmission(ctx, quiz.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check existing submission: %w", err)
	}
	if exists {
		return nil, model.ErrAlreadySubmitted
	}

	answers = withTimings(answers, timings)
	if timings == nil {
		timings = map[string]int{}
	}

	sub := &model.Submission{
		ID:              uuid.NewString(),
		QuizID:          quiz.ID,
		StudentID:       studentID,
		Answers:         answers,
		QuestionTimings: timings,
		SubmittedAt:     g.now(),
	}

	remote := g.scoreRemote(ctx, quiz, studentID, answers)
	if remote != nil {
		applyRemote(sub, quiz, remote)
	} else {
		applyLocal(sub, ScoreLocally(quiz, answers))
	}

	event := completionEvent(ctx, quiz, sub, g.now())
	if err := g.ledger.FinalizeSubmission(ctx, sub, event); err != nil {
		if errors.Is(err, model.ErrAlreadySubmitted) {
			return nil, err
		}
		slog.Error("failed to finalize submission",
			"quiz_id", quiz.ID, "student_id", studentID, "provenance", sub.Provenance, "error", err)
		return nil, fmt.Errorf("finalize submission: %w", err)
	}
	if remote != nil {
		g.saveReport(ctx, quiz.ID, remote)
	}

	submissionsTotal.WithLabelValues(string(sub.Provenance)).Inc()
	slog.Info("submission finalized",
		"quiz_id", quiz.ID,
		"student_id", studentID,
		"provenance", sub.Provenance,
		"score", sub.Score,
		"total_points", sub.TotalPoints,
		"percentage", sub.Percentage,
	)
	return sub, nil
}

// scoreRemote returns nil whenever local grading must take over.
func (g *Grader) scoreRemote(ctx context.Context, quiz model.Quiz, studentID string, answers []model.Answer) *RemoteResult {
	if g.authority == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.authority.Score(ctx, RemoteRequest{
		StudentID: studentID,
		QuizID:    quiz.ID,
		QuizTitle: quiz.Title,
		Answers:   answers,
		Quiz:      quiz,
	})
	authorityDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && validRemote(res):
		return res
	case err == nil:
		err = ErrMalformedResult
	}

	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, ErrMalformedResult):
		reason = "malformed"
	}
	authorityFailures.WithLabelValues(reason).Inc()
	slog.Warn("remote scoring unavailable, grading locally",
		"quiz_id", quiz.ID, "student_id", studentID, "reason", reason, "error", err)
	return nil
}

func validRemote(res *RemoteResult) bool {
	if res == nil {
		return false
	}
	for _, v := range []float64{res.Score, res.Percentage} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return res.Percentage <= 100
}

// saveReport runs only after the submission is finalized, so a report is
// never left behind for an attempt that was not recorded.
func (g *Grader) saveReport(ctx context.Context, quizID string, res *RemoteResult) {
	if g.reports == nil || res.Report == nil {
		return
	}
	if res.Report.QuizID == "" {
		res.Report.QuizID = quizID
	}
	if err := g.reports.SaveReport(ctx, *res.Report); err != nil {
		slog.Warn("failed to store detailed report", "report_id", res.Report.ID, "error", err)
	}
}

// applyRemote trusts the aggregate score. Correct/incorrect counts are
// approximated from the percentage since no per-question map is returned.
func applyRemote(sub *model.Submission, quiz model.Quiz, res *RemoteResult) {
	n := len(quiz.Questions)
	correct := int(math.Round(res.Percentage / 100 * float64(n)))
	sub.Score = res.Score
	sub.TotalPoints = n * RemotePointsPerQuestion
	sub.Percentage = res.Percentage
	sub.Passed = model.Passed(res.Percentage)
	sub.CorrectAnswers = correct
	sub.IncorrectAnswers = n - correct
	sub.Provenance = model.ProvenanceRemote
	sub.ReportID = res.ReportID
	if sub.ReportID == "" && res.Report != nil {
		sub.ReportID = res.Report.ID
	}
}

func applyLocal(sub *model.Submission, res LocalResult) {
	sub.Score = res.Score
	sub.TotalPoints = res.TotalPoints
	sub.Percentage = res.Percentage
	sub.Passed = res.Passed
	sub.CorrectAnswers = res.Correct
	sub.IncorrectAnswers = res.Incorrect
	sub.Provenance = model.ProvenanceLocal
}

func withTimings(answers []model.Answer, timings map[string]int) []model.Answer {
	out := make([]model.Answer, len(answers))
	for i, a := range answers {
		if a.TimeSpent == 0 {
			a.TimeSpent = timings[a.QuestionID]
		}
		out[i] = a
	}
	return out
}

func completionEvent(ctx context.Context, quiz model.Quiz, sub *model.Submission, at time.Time) model.Activity {
	var details string
	if sub.Provenance == model.ProvenanceRemote {
		details = appI18n.Td(ctx, "ActivityDetailsRemote", map[string]any{
			"Score":      formatScore(sub.Score),
			"Percentage": fmt.Sprintf("%.1f", sub.Percentage),
		})
	} else {
		details = appI18n.Td(ctx, "ActivityDetailsLocal", map[string]any{
			"Score":       formatScore(sub.Score),
			"TotalPoints": sub.TotalPoints,
			"Percentage":  fmt.Sprintf("%.1f", sub.Percentage),
		})
	}
	return model.Activity{
		ID:        uuid.NewString(),
		UserID:    sub.StudentID,
		QuizID:    quiz.ID,
		Type:      model.ActivityQuizCompleted,
		Title:     appI18n.Td(ctx, "ActivityTitleCompleted", map[string]any{"Title": quiz.Title}),
		Details:   details,
		Timestamp: at,
	}
}

func formatScore(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
