package grading

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/model"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeCatalog map[string]model.Quiz

func (c fakeCatalog) GetQuiz(_ context.Context, id string) (model.Quiz, error) {
	q, ok := c[id]
	if !ok {
		return model.Quiz{}, model.ErrNotFound
	}
	return q, nil
}

type fakeLedger struct {
	mu          sync.Mutex
	submissions []model.Submission
	events      []model.Activity
	finalizeErr error
	finalized   atomic.Int32
}

func (l *fakeLedger) HasSubmission(_ context.Context, quizID, studentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.submissions {
		if s.QuizID == quizID && s.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) FinalizeSubmission(_ context.Context, sub *model.Submission, ev model.Activity) error {
	l.finalized.Add(1)
	if l.finalizeErr != nil {
		return l.finalizeErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions = append(l.submissions, *sub)
	l.events = append(l.events, ev)
	return nil
}

type authorityFunc func(ctx context.Context, req RemoteRequest) (*RemoteResult, error)

func (f authorityFunc) Score(ctx context.Context, req RemoteRequest) (*RemoteResult, error) {
	return f(ctx, req)
}

type reportRecorder struct{ reports []model.DetailedReport }

func (r *reportRecorder) SaveReport(_ context.Context, rep model.DetailedReport) error {
	r.reports = append(r.reports, rep)
	return nil
}

// fourQuestionQuiz is a 4-question multiple-choice quiz worth 2 points each.
func fourQuestionQuiz() model.Quiz {
	q := func(id, ref string) model.Question {
		return model.Question{
			ID:            id,
			Text:          "Question " + id,
			Kind:          model.KindMultipleChoice,
			Options:       []string{"one", "two", "three", "four"},
			CorrectAnswer: ref,
			Points:        2,
		}
	}
	return model.Quiz{
		ID:        "quiz-1",
		Title:     "Go Basics",
		Questions: []model.Question{q("a", "A"), q("b", "two"), q("c", "C"), q("d", "four")},
	}
}

func threeRightOneWrong() []model.Answer {
	return []model.Answer{
		{QuestionID: "a", Answer: "one"},
		{QuestionID: "b", Answer: "B"},
		{QuestionID: "c", Answer: "three"},
		{QuestionID: "d", Answer: "one"},
	}
}

func TestGradeEndToEndAuthorityUnavailable(t *testing.T) {
	quiz := fourQuestionQuiz()
	ledger := &fakeLedger{}
	down := authorityFunc(func(ctx context.Context, _ RemoteRequest) (*RemoteResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, ledger, down, WithTimeout(20*time.Millisecond))

	sub, err := g.Submit(context.Background(), quiz.ID, "student-1", threeRightOneWrong(), map[string]int{"a": 5})
	require.NoError(t, err)

	assert.Equal(t, 6.0, sub.Score)
	assert.Equal(t, 8, sub.TotalPoints)
	assert.InDelta(t, 75.0, sub.Percentage, 1e-9)
	assert.True(t, sub.Passed)
	assert.Equal(t, model.ProvenanceLocal, sub.Provenance)
	assert.Equal(t, 3, sub.CorrectAnswers)
	assert.Equal(t, 1, sub.IncorrectAnswers)
	assert.Equal(t, 5, sub.Answers[0].TimeSpent)

	require.Len(t, ledger.submissions, 1)
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "Completed quiz: Go Basics", ledger.events[0].Title)
	assert.Equal(t, "Score: 6/8 (75.0%)", ledger.events[0].Details)
}

func TestGradeFallbackMatchesMatcher(t *testing.T) {
	quiz := fourQuestionQuiz()
	answers := threeRightOneWrong()
	failing := authorityFunc(func(context.Context, RemoteRequest) (*RemoteResult, error) {
		return nil, errors.New("connection refused")
	})
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, &fakeLedger{}, failing)

	sub, err := g.Grade(context.Background(), quiz, "s", answers, nil)
	require.NoError(t, err)

	want := ScoreLocally(quiz, answers)
	assert.Equal(t, model.ProvenanceLocal, sub.Provenance)
	assert.Equal(t, want.Score, sub.Score)
	assert.Equal(t, want.Percentage, sub.Percentage)
	assert.NotNil(t, sub.QuestionTimings)
}

func TestGradeRemoteSuccess(t *testing.T) {
	quiz := fourQuestionQuiz()
	ledger := &fakeLedger{}
	reports := &reportRecorder{}
	var got RemoteRequest
	ok := authorityFunc(func(_ context.Context, req RemoteRequest) (*RemoteResult, error) {
		got = req
		return &RemoteResult{
			Score:      27.5,
			Percentage: 68.75,
			Report:     &model.DetailedReport{ID: "report-9", StudentID: req.StudentID},
		}, nil
	})
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, ledger, ok, WithReportSink(reports))

	sub, err := g.Submit(context.Background(), quiz.ID, "student-2", threeRightOneWrong(), nil)
	require.NoError(t, err)

	assert.Equal(t, "student-2", got.StudentID)
	assert.Equal(t, "Go Basics", got.QuizTitle)
	assert.Len(t, got.Answers, 4)

	assert.Equal(t, model.ProvenanceRemote, sub.Provenance)
	assert.Equal(t, 27.5, sub.Score)
	assert.Equal(t, 40, sub.TotalPoints)
	assert.Equal(t, 68.75, sub.Percentage)
	assert.True(t, sub.Passed)
	assert.Equal(t, 3, sub.CorrectAnswers, "round(0.6875*4)")
	assert.Equal(t, 1, sub.IncorrectAnswers)
	assert.Equal(t, "report-9", sub.ReportID)

	require.Len(t, reports.reports, 1)
	assert.Equal(t, "quiz-1", reports.reports[0].QuizID)
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "Score: 27.5 (68.8%) - remote scored", ledger.events[0].Details)
}

func TestGradeMalformedRemoteFallsBack(t *testing.T) {
	quiz := fourQuestionQuiz()
	results := []*RemoteResult{
		nil,
		{Score: 10, Percentage: 140},
		{Score: -1, Percentage: 50},
	}
	for _, res := range results {
		res := res
		auth := authorityFunc(func(context.Context, RemoteRequest) (*RemoteResult, error) { return res, nil })
		g := NewGrader(fakeCatalog{}, &fakeLedger{}, auth)
		sub, err := g.Grade(context.Background(), quiz, "s", threeRightOneWrong(), nil)
		require.NoError(t, err)
		assert.Equal(t, model.ProvenanceLocal, sub.Provenance)
		assert.Equal(t, 6.0, sub.Score)
	}
}

func TestGradePersistenceFailureDoesNotRegrade(t *testing.T) {
	quiz := fourQuestionQuiz()
	ledger := &fakeLedger{finalizeErr: errors.New("disk full")}
	reports := &reportRecorder{}
	var calls atomic.Int32
	auth := authorityFunc(func(context.Context, RemoteRequest) (*RemoteResult, error) {
		calls.Add(1)
		return &RemoteResult{Score: 40, Percentage: 100, Report: &model.DetailedReport{ID: "r-1"}}, nil
	})
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, ledger, auth, WithReportSink(reports))

	_, err := g.Submit(context.Background(), quiz.ID, "s", threeRightOneWrong(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalize submission")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), ledger.finalized.Load())
	assert.Empty(t, reports.reports, "no report without a recorded submission")
}

func TestGradeRepeatedAndExtraAnswersLocally(t *testing.T) {
	quiz := fourQuestionQuiz()
	tests := []struct {
		name      string
		answers   []model.Answer
		score     float64
		correct   int
		incorrect int
	}{
		{
			name: "duplicate question ids",
			answers: []model.Answer{
				{QuestionID: "a", Answer: "one"},
				{QuestionID: "a", Answer: "one"},
				{QuestionID: "a", Answer: "one"},
				{QuestionID: "a", Answer: "one"},
				{QuestionID: "a", Answer: "one"},
			},
			score: 2, correct: 1, incorrect: 4,
		},
		{
			name: "more answers than questions",
			answers: append(threeRightOneWrong(),
				model.Answer{QuestionID: "e", Answer: "one"},
				model.Answer{QuestionID: "q1", Answer: "two"},
			),
			score: 6, correct: 3, incorrect: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGrader(fakeCatalog{}, &fakeLedger{}, nil)
			sub, err := g.Grade(context.Background(), quiz, "s", tt.answers, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.score, sub.Score)
			assert.Equal(t, 8, sub.TotalPoints)
			assert.Equal(t, tt.correct, sub.CorrectAnswers)
			assert.Equal(t, tt.incorrect, sub.IncorrectAnswers)
			assert.LessOrEqual(t, sub.Percentage, 100.0)
			assert.Equal(t, model.Passed(sub.Percentage), sub.Passed)
		})
	}
}

func TestSubmitQuizNotFound(t *testing.T) {
	g := NewGrader(fakeCatalog{}, &fakeLedger{}, nil)
	_, err := g.Submit(context.Background(), "missing", "s", nil, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmitRejectsResubmission(t *testing.T) {
	quiz := fourQuestionQuiz()
	ledger := &fakeLedger{}
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, ledger, nil)

	_, err := g.Submit(context.Background(), quiz.ID, "s", threeRightOneWrong(), nil)
	require.NoError(t, err)
	_, err = g.Submit(context.Background(), quiz.ID, "s", threeRightOneWrong(), nil)
	assert.ErrorIs(t, err, model.ErrAlreadySubmitted)
	assert.Len(t, ledger.submissions, 1)
}

func TestSubmitConcurrentDuplicatesFinalizeOnce(t *testing.T) {
	quiz := fourQuestionQuiz()
	ledger := &fakeLedger{}
	release := make(chan struct{})
	auth := authorityFunc(func(context.Context, RemoteRequest) (*RemoteResult, error) {
		<-release
		return nil, errors.New("unavailable")
	})
	g := NewGrader(fakeCatalog{quiz.ID: quiz}, ledger, auth)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Submit(context.Background(), quiz.ID, "s", threeRightOneWrong(), nil)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, ledger.submissions, 1)
	assert.Len(t, ledger.events, 1)
}

func TestGradeZeroPointQuiz(t *testing.T) {
	g := NewGrader(fakeCatalog{}, &fakeLedger{}, nil)
	sub, err := g.Grade(context.Background(), model.Quiz{ID: "empty", Title: "Empty"}, "s", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sub.Percentage)
	assert.False(t, sub.Passed)
}
