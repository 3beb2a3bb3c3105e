package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/softrate/quizgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testQuiz(id string) model.Quiz {
	return model.Quiz{
		ID:              id,
		Title:           "Quiz " + id,
		DurationMinutes: 15,
		Questions: []model.Question{
			{ID: "m1", Text: "Pick one", Kind: model.KindMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: "A", Points: 2},
			{Text: "Six times seven", Kind: model.KindShortAnswer, CorrectAnswer: "42", Points: 1, Topic: "math"},
		},
	}
}

func putTestQuiz(t *testing.T, s *Store, id string) model.Quiz {
	t.Helper()
	q := testQuiz(id)
	if err := s.PutQuiz(context.Background(), q); err != nil {
		t.Fatalf("PutQuiz: %v", err)
	}
	return q
}

func testSubmission(quizID, studentID string) *model.Submission {
	return &model.Submission{
		ID:               "sub-" + quizID + "-" + studentID,
		QuizID:           quizID,
		StudentID:        studentID,
		Answers:          []model.Answer{{QuestionID: "m1", Answer: "a", TimeSpent: 4}, {QuestionID: "q1", Answer: "41"}},
		Score:            2,
		TotalPoints:      3,
		Percentage:       66.67,
		Passed:           true,
		CorrectAnswers:   1,
		IncorrectAnswers: 1,
		QuestionTimings:  map[string]int{"m1": 4, "q1": 0},
		Provenance:       model.ProvenanceLocal,
		SubmittedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func testEvent(sub *model.Submission) model.Activity {
	return model.Activity{
		ID:        "act-" + sub.ID,
		UserID:    sub.StudentID,
		QuizID:    sub.QuizID,
		Type:      model.ActivityQuizCompleted,
		Title:     "Completed quiz",
		Details:   "Score: 2/3 (66.7%)",
		Timestamp: sub.SubmittedAt,
	}
}

func TestQuizRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetQuiz(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetQuiz missing: err = %v, want ErrNotFound", err)
	}

	want := putTestQuiz(t, s, "go-101")
	got, err := s.GetQuiz(ctx, "go-101")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if got.Title != want.Title || got.DurationMinutes != 15 {
		t.Errorf("quiz = %+v", got)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	if got.Questions[0].Options[1] != "b" || got.Questions[0].CorrectAnswer != "A" {
		t.Errorf("first question = %+v", got.Questions[0])
	}
	if got.Questions[1].ID != "" || got.Questions[1].Topic != "math" {
		t.Errorf("second question = %+v", got.Questions[1])
	}

	// Replacing the quiz replaces its questions.
	want.Questions = want.Questions[:1]
	want.Title = "Renamed"
	if err := s.PutQuiz(ctx, want); err != nil {
		t.Fatalf("PutQuiz replace: %v", err)
	}
	got, err = s.GetQuiz(ctx, "go-101")
	if err != nil {
		t.Fatalf("GetQuiz: %v", err)
	}
	if got.Title != "Renamed" || len(got.Questions) != 1 {
		t.Errorf("after replace: title %q, %d questions", got.Title, len(got.Questions))
	}

	putTestQuiz(t, s, "go-102")
	list, err := s.ListQuizzes(ctx)
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 quizzes, got %d", len(list))
	}
	for _, q := range list {
		if len(q.Questions) == 0 {
			t.Errorf("quiz %s listed without questions", q.ID)
		}
	}
}

func TestFinalizeSubmission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestQuiz(t, s, "go-101")

	has, err := s.HasSubmission(ctx, "go-101", "alice")
	if err != nil || has {
		t.Fatalf("HasSubmission before = %v, %v", has, err)
	}

	sub := testSubmission("go-101", "alice")
	if err := s.FinalizeSubmission(ctx, sub, testEvent(sub)); err != nil {
		t.Fatalf("FinalizeSubmission: %v", err)
	}

	has, err = s.HasSubmission(ctx, "go-101", "alice")
	if err != nil || !has {
		t.Fatalf("HasSubmission after = %v, %v", has, err)
	}

	got, err := s.GetSubmission(ctx, "go-101", "alice")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Score != 2 || !got.Passed || got.Provenance != model.ProvenanceLocal {
		t.Errorf("submission = %+v", got)
	}
	if len(got.Answers) != 2 || got.Answers[0].TimeSpent != 4 {
		t.Errorf("answers = %+v", got.Answers)
	}
	if got.QuestionTimings["m1"] != 4 {
		t.Errorf("timings = %v", got.QuestionTimings)
	}
	if !got.SubmittedAt.Equal(sub.SubmittedAt) {
		t.Errorf("SubmittedAt = %v, want %v", got.SubmittedAt, sub.SubmittedAt)
	}

	byID, err := s.GetSubmissionByID(ctx, sub.ID)
	if err != nil || byID.StudentID != "alice" {
		t.Errorf("GetSubmissionByID = %+v, %v", byID, err)
	}

	acts, err := s.ListActivities(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 || acts[0].Details != "Score: 2/3 (66.7%)" || acts[0].Type != model.ActivityQuizCompleted {
		t.Errorf("activities = %+v", acts)
	}
}

func TestFinalizeSubmissionRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testSubmission("go-101", "alice")
	if err := s.FinalizeSubmission(ctx, first, testEvent(first)); err != nil {
		t.Fatalf("first FinalizeSubmission: %v", err)
	}

	second := testSubmission("go-101", "alice")
	second.ID = "another-id"
	second.Score = 3
	err := s.FinalizeSubmission(ctx, second, testEvent(second))
	if !errors.Is(err, model.ErrAlreadySubmitted) {
		t.Fatalf("duplicate: err = %v, want ErrAlreadySubmitted", err)
	}

	got, err := s.GetSubmission(ctx, "go-101", "alice")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.ID != first.ID || got.Score != 2 {
		t.Errorf("stored submission changed: %+v", got)
	}

	acts, err := s.ListActivities(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Errorf("expected 1 activity after rejected duplicate, got %d", len(acts))
	}
}

func TestFinalizeSubmissionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seed an activity id so the second insert in the transaction fails.
	sub := testSubmission("go-101", "alice")
	ev := testEvent(sub)
	if err := insertActivity(ctx, s.db, ev); err != nil {
		t.Fatalf("insertActivity: %v", err)
	}

	if err := s.FinalizeSubmission(ctx, sub, ev); err == nil {
		t.Fatal("expected error for duplicate activity id")
	}
	if _, err := s.GetSubmission(ctx, "go-101", "alice"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("submission should not persist without its event: err = %v", err)
	}
}

func TestListSubmissionsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, student := range []string{"alice", "bob", "carol"} {
		sub := testSubmission("go-101", student)
		sub.SubmittedAt = sub.SubmittedAt.Add(time.Duration(i) * time.Minute)
		if student == "bob" {
			sub.Provenance = model.ProvenanceRemote
		}
		if err := s.FinalizeSubmission(ctx, sub, testEvent(sub)); err != nil {
			t.Fatalf("FinalizeSubmission(%s): %v", student, err)
		}
	}

	tests := []struct {
		name   string
		filter SubmissionFilter
		want   []string
	}{
		{"all newest first", SubmissionFilter{}, []string{"carol", "bob", "alice"}},
		{"by student", SubmissionFilter{StudentID: "alice"}, []string{"alice"}},
		{"by provenance", SubmissionFilter{Provenance: model.ProvenanceRemote}, []string{"bob"}},
		{"other quiz", SubmissionFilter{QuizID: "go-999"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, err := s.ListSubmissions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListSubmissions: %v", err)
			}
			var got []string
			for _, sub := range subs {
				got = append(got, sub.StudentID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GetOrCreateProgress(ctx, "go-101", "alice")
	if err != nil {
		t.Fatalf("GetOrCreateProgress: %v", err)
	}
	if rec.Warnings != 0 || !rec.LastWarningAt.IsZero() {
		t.Errorf("fresh record = %+v", rec)
	}

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementWarning(ctx, "go-101", "alice")
		if err != nil {
			t.Fatalf("IncrementWarning: %v", err)
		}
		if n != want {
			t.Errorf("IncrementWarning = %d, want %d", n, want)
		}
	}

	rec, err = s.GetOrCreateProgress(ctx, "go-101", "alice")
	if err != nil {
		t.Fatalf("GetOrCreateProgress: %v", err)
	}
	if rec.Warnings != 3 || rec.LastWarningAt.IsZero() {
		t.Errorf("record after strikes = %+v", rec)
	}

	// Strikes are per (quiz, student).
	n, err := s.IncrementWarning(ctx, "go-102", "alice")
	if err != nil || n != 1 {
		t.Errorf("other quiz IncrementWarning = %d, %v", n, err)
	}
}

func TestIncrementWarningConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementWarning(ctx, "go-101", "bob"); err != nil {
				t.Errorf("IncrementWarning: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.GetOrCreateProgress(ctx, "go-101", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateProgress: %v", err)
	}
	if rec.Warnings != 10 {
		t.Errorf("warnings = %d, want 10", rec.Warnings)
	}
}

func TestReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.GetReport(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetReport missing: err = %v", err)
	}

	avg := 0.8
	reports := []model.DetailedReport{
		{ID: "old", StudentID: "alice", QuizID: "go", GeneratedAt: base.Add(-time.Hour)},
		{ID: "new", StudentID: "alice", QuizID: "go", GeneratedAt: base.Add(time.Minute), QuizSummary: &model.QuizSummary{AverageScore: &avg}},
		{ID: "newer", StudentID: "alice", QuizID: "go", GeneratedAt: base.Add(2 * time.Minute)},
		{ID: "other-quiz", StudentID: "alice", QuizID: "sql", GeneratedAt: base.Add(time.Hour)},
		{ID: "no-quiz", StudentID: "alice", GeneratedAt: base.Add(2 * time.Hour)},
		{ID: "bobs", StudentID: "bob", QuizID: "go", GeneratedAt: base.Add(time.Hour)},
	}
	for _, r := range reports {
		if err := s.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport(%s): %v", r.ID, err)
		}
	}

	got, err := s.GetReport(ctx, "new")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.QuizSummary == nil || *got.QuizSummary.AverageScore != 0.8 {
		t.Errorf("report body not preserved: %+v", got)
	}

	latest, err := s.LatestReport(ctx, "alice", "go", base)
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if latest.ID != "newer" || latest.QuizID != "go" {
		t.Errorf("latest = %s (%s), want newer", latest.ID, latest.QuizID)
	}

	if _, err := s.LatestReport(ctx, "alice", "go", base.Add(3*time.Minute)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("report for another quiz or without quiz must not match: err = %v", err)
	}
	if _, err := s.LatestReport(ctx, "alice", "", base); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("empty quiz id: err = %v", err)
	}

	// Missing id is generated.
	if err := s.SaveReport(ctx, model.DetailedReport{StudentID: "carol", QuizID: "go"}); err != nil {
		t.Fatalf("SaveReport without id: %v", err)
	}
	r, err := s.LatestReport(ctx, "carol", "go", time.Time{})
	if err != nil || r.ID == "" || r.GeneratedAt.IsZero() {
		t.Errorf("generated report = %+v, %v", r, err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetImportedFileHash(ctx, "quizzes/go.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Fatalf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "quizzes/go.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "quizzes/go.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	hash, err = s.GetImportedFileHash(ctx, "quizzes/go.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "def456" {
		t.Errorf("hash = %q, want def456", hash)
	}
}

func TestExportSubmissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestQuiz(t, s, "go-101")

	a := testSubmission("go-101", "alice")
	b := testSubmission("go-101", "bob")
	b.Provenance = model.ProvenanceRemote
	b.ReportID = "r-1"
	orphan := testSubmission("deleted-quiz", "carol")
	for _, sub := range []*model.Submission{a, b, orphan} {
		if err := s.FinalizeSubmission(ctx, sub, testEvent(sub)); err != nil {
			t.Fatalf("FinalizeSubmission: %v", err)
		}
	}

	exp, err := s.ExportSubmissions(ctx)
	if err != nil {
		t.Fatalf("ExportSubmissions: %v", err)
	}
	if exp.Count != 3 || exp.Remote != 1 || exp.Local != 2 {
		t.Errorf("export totals = count %d remote %d local %d", exp.Count, exp.Remote, exp.Local)
	}
	titles := map[string]string{}
	for _, rec := range exp.Submissions {
		titles[rec.StudentID] = rec.QuizTitle
	}
	if titles["alice"] != "Quiz go-101" || titles["carol"] != "" {
		t.Errorf("titles = %v", titles)
	}
}
