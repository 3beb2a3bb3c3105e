package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a quiz, submission or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySubmitted is returned when a (quiz, student) pair already has a submission.
	ErrAlreadySubmitted = errors.New("quiz already submitted")
)

// QuestionKind identifies how an answer is matched.
type QuestionKind string

const (
	// KindMultipleChoice selects one of the listed options.
	KindMultipleChoice QuestionKind = "multiple_choice"
	// KindShortAnswer is an "aptitude" question matched exactly, ignoring case and surrounding space.
	KindShortAnswer QuestionKind = "short_answer"
	// KindFreeText is a "descriptive" question matched by containment.
	KindFreeText QuestionKind = "free_text"
)

// Kinds lists the question kinds in section order.
var Kinds = []QuestionKind{KindMultipleChoice, KindShortAnswer, KindFreeText}

// ParseKind accepts the canonical kind names and the authoring aliases (mcq, aptitude, descriptive).
func ParseKind(s string) (QuestionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multiple_choice", "mcq":
		return KindMultipleChoice, nil
	case "short_answer", "aptitude":
		return KindShortAnswer, nil
	case "free_text", "descriptive":
		return KindFreeText, nil
	}
	return "", fmt.Errorf("unknown question kind %q", s)
}

// Provenance records which path produced a submission's score.
type Provenance string

const (
	ProvenanceRemote Provenance = "remote"
	ProvenanceLocal  Provenance = "local"
)

// PassThreshold is the minimum percentage for a passing submission.
const PassThreshold = 60.0

// Question is a single quiz question as stored in the catalog.
type Question struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	Kind          QuestionKind `json:"kind"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Points        int          `json:"points"`
	Topic         string       `json:"topic,omitempty"`
}

// LetterTokens are the canonical letter references for multiple-choice options.
var LetterTokens = []string{"A", "B", "C", "D"}

// LetterIndex returns the option index a letter token refers to, or -1.
func LetterIndex(ref string) int {
	for i, l := range LetterTokens {
		if ref == l {
			return i
		}
	}
	return -1
}

// Validate checks that a question can be graded.
func (q Question) Validate() error {
	if q.Points <= 0 {
		return fmt.Errorf("question %q: points must be positive", q.ID)
	}
	if q.Kind != KindMultipleChoice {
		return nil
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("question %q: multiple choice requires at least one option", q.ID)
	}
	if idx := LetterIndex(q.CorrectAnswer); idx >= 0 {
		if idx >= len(q.Options) {
			return fmt.Errorf("question %q: correct answer %s has no option", q.ID, q.CorrectAnswer)
		}
		return nil
	}
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == strings.TrimSpace(q.CorrectAnswer) {
			return nil
		}
	}
	return fmt.Errorf("question %q: correct answer does not match any option", q.ID)
}

// Quiz is a timed assessment.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TotalPoints sums the point values of all questions.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, qq := range q.Questions {
		total += qq.Points
	}
	return total
}

// Duration returns the attempt time limit (30 minutes when unset).
func (q Quiz) Duration() time.Duration {
	if q.DurationMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(q.DurationMinutes) * time.Minute
}

// StudentView returns a copy without correctness references.
func (q Quiz) StudentView() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, qq := range q.Questions {
		qq.CorrectAnswer = ""
		out.Questions[i] = qq
	}
	return out
}

// Answer is one submitted answer.
type Answer struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	TimeSpent  int    `json:"timeSpent,omitempty"`
}

// Submission is the finalized, immutable record of one attempt.
type Submission struct {
	ID               string         `json:"id"`
	QuizID           string         `json:"quizId"`
	StudentID        string         `json:"studentId"`
	Answers          []Answer       `json:"answers"`
	Score            float64        `json:"score"`
	TotalPoints      int            `json:"totalPoints"`
	Percentage       float64        `json:"percentage"`
	Passed           bool           `json:"passed"`
	CorrectAnswers   int            `json:"correctAnswers"`
	IncorrectAnswers int            `json:"incorrectAnswers"`
	QuestionTimings  map[string]int `json:"questionTimings"`
	Provenance       Provenance     `json:"provenance"`
	ReportID         string         `json:"reportId,omitempty"`
	SubmittedAt      time.Time      `json:"submittedAt"`
}

// Percentage computes score/total*100, returning 0 when total is not positive.
func Percentage(score float64, total int) float64 {
	if total <= 0 {
		return 0
	}
	return score / float64(total) * 100
}

// Passed reports whether a percentage meets the pass threshold.
func Passed(percentage float64) bool {
	return percentage >= PassThreshold
}

// ProctoringRecord tracks strikes for one (quiz, student) attempt.
type ProctoringRecord struct {
	QuizID        string    `json:"quizId"`
	StudentID     string    `json:"studentId"`
	Warnings      int       `json:"warnings"`
	LastWarningAt time.Time `json:"lastWarningAt"`
}

// ActivityType classifies activity log entries.
type ActivityType string

// ActivityQuizCompleted is written once per finalized submission.
const ActivityQuizCompleted ActivityType = "quiz_completed"

// Activity is a human-readable event in the activity log.
type Activity struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	QuizID    string       `json:"quizId,omitempty"`
	Type      ActivityType `json:"type"`
	Title     string       `json:"title"`
	Details   string       `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type studentCtxKey struct{}

// ContextWithStudent stores the authenticated student id in the request context.
func ContextWithStudent(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, studentCtxKey{}, studentID)
}

// StudentFromContext returns the student id from context, or "".
func StudentFromContext(ctx context.Context) string {
	s, _ := ctx.Value(studentCtxKey{}).(string)
	return s
}

// QuizImport is the JSON shape accepted for quiz uploads.
type QuizImport struct {
	ID              string           `json:"id" validate:"omitempty,max=128"`
	Title           string           `json:"title" validate:"required"`
	Description     string           `json:"description"`
	DurationMinutes int              `json:"duration_minutes" validate:"gte=0"`
	Questions       []QuestionImport `json:"questions" validate:"required,min=1,dive"`
}

// QuestionImport is one question within a QuizImport.
type QuestionImport struct {
	ID            string   `json:"id" validate:"omitempty,max=128"`
	Text          string   `json:"text" validate:"required"`
	Type          string   `json:"type" validate:"required,oneof=multiple_choice short_answer free_text mcq aptitude descriptive"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points" validate:"gt=0"`
	Topic         string   `json:"topic"`
}
