package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/softrate/quizgrader/internal/model"
)

func mcq(ref string) model.Question {
	return model.Question{
		ID:            "m1",
		Kind:          model.KindMultipleChoice,
		Options:       []string{"Berlin", "Paris", "Rome", "Madrid"},
		CorrectAnswer: ref,
		Points:        2,
	}
}

func TestIsCorrectMultipleChoice(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		answer string
		want   bool
	}{
		{"letter ref, text answer", "B", "Paris", true},
		{"letter ref, letter answer", "B", "B", true},
		{"letter ref, wrong text", "B", "Rome", false},
		{"letter ref, wrong letter", "B", "C", false},
		{"text ref, text answer", "Paris", "Paris", true},
		{"text ref, letter answer", "Paris", "B", true},
		{"text ref, padded answer", "Paris", " Paris ", true},
		{"text ref, wrong letter", "Paris", "A", false},
		{"text ref, wrong text", "Paris", "Berlin", false},
		{"letter ref verbatim only", "B", "paris", false},
		{"empty answer", "B", "", false},
		{"letter beyond options", "D", "Madrid", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCorrect(mcq(tt.ref), tt.answer))
		})
	}
}

func TestIsCorrectMultipleChoiceDegenerate(t *testing.T) {
	q := model.Question{Kind: model.KindMultipleChoice, Options: []string{"x", "y"}, CorrectAnswer: "D"}
	assert.False(t, IsCorrect(q, "D"), "letter with no option behind it")

	q = model.Question{Kind: model.KindMultipleChoice, CorrectAnswer: "A"}
	assert.False(t, IsCorrect(q, "A"), "no options")

	q = model.Question{Kind: model.KindMultipleChoice, Options: []string{"x"}}
	assert.False(t, IsCorrect(q, "x"), "no reference")
}

func TestIsCorrectShortAnswer(t *testing.T) {
	q := model.Question{Kind: model.KindShortAnswer, CorrectAnswer: "paris"}
	assert.True(t, IsCorrect(q, "Paris "))
	assert.True(t, IsCorrect(q, "  PARIS"))
	assert.False(t, IsCorrect(q, "Paris, France"))
	assert.False(t, IsCorrect(q, ""))
	assert.False(t, IsCorrect(model.Question{Kind: model.KindShortAnswer}, "anything"))
}

func TestIsCorrectFreeText(t *testing.T) {
	q := model.Question{Kind: model.KindFreeText, CorrectAnswer: "Lightweight thread"}
	assert.True(t, IsCorrect(q, "A goroutine is a lightweight thread managed by the runtime"))
	assert.True(t, IsCorrect(q, "thread"), "reference contains answer")
	assert.True(t, IsCorrect(q, "  LIGHTWEIGHT THREAD  "))
	assert.False(t, IsCorrect(q, "a process"))
	assert.False(t, IsCorrect(q, "   "))
}

func TestIsCorrectUnknownKind(t *testing.T) {
	assert.False(t, IsCorrect(model.Question{Kind: "essay", CorrectAnswer: "x"}, "x"))
}

func TestResolveIndex(t *testing.T) {
	quiz := model.Quiz{Questions: []model.Question{
		{ID: "alpha", Text: "first"},
		{ID: "beta", Text: "second"},
		{ID: "", Text: "third"},
	}}

	tests := []struct {
		name     string
		id       string
		position int
		want     string
		found    bool
	}{
		{"exact id", "beta", 0, "second", true},
		{"positional id", "q2", 0, "third", true},
		{"positional id with suffix", "q2-extra", 0, "third", true},
		{"positional id must lead", "xq2", 1, "second", true},
		{"positional id out of range falls to position", "q9", 1, "second", true},
		{"array position", "unknown", 2, "third", true},
		{"nothing matches", "unknown", 5, "", false},
		{"exact wins over position", "alpha", 2, "first", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := ResolveIndex(quiz, tt.id, tt.position)
			assert.Equal(t, tt.found, idx >= 0)
			if idx >= 0 {
				assert.Equal(t, tt.want, quiz.Questions[idx].Text)
			}
		})
	}
}

func TestQuestionKey(t *testing.T) {
	assert.Equal(t, "abc", QuestionKey(model.Question{ID: "abc"}, 3))
	assert.Equal(t, "q3", QuestionKey(model.Question{}, 3))
}

func TestScoreLocally(t *testing.T) {
	quiz := model.Quiz{Questions: []model.Question{
		{ID: "1", Kind: model.KindMultipleChoice, Options: []string{"a", "b"}, CorrectAnswer: "A", Points: 3},
		{ID: "2", Kind: model.KindShortAnswer, CorrectAnswer: "42", Points: 2},
		{ID: "3", Kind: model.KindFreeText, CorrectAnswer: "gravity", Points: 5},
	}}

	res := ScoreLocally(quiz, []model.Answer{
		{QuestionID: "1", Answer: "a"},
		{QuestionID: "2", Answer: "41"},
		{QuestionID: "3", Answer: "Because of gravity"},
		{QuestionID: "zzz", Answer: "orphan"},
	})

	assert.Equal(t, 8.0, res.Score)
	assert.Equal(t, 10, res.TotalPoints)
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 2, res.Incorrect)
	assert.InDelta(t, 80.0, res.Percentage, 1e-9)
	assert.True(t, res.Passed)
}

func TestScoreLocallyCountsEachQuestionOnce(t *testing.T) {
	quiz := model.Quiz{Questions: []model.Question{
		{ID: "1", Kind: model.KindShortAnswer, CorrectAnswer: "42", Points: 2},
		{ID: "2", Kind: model.KindShortAnswer, CorrectAnswer: "7", Points: 2},
		{ID: "3", Kind: model.KindShortAnswer, CorrectAnswer: "9", Points: 2},
	}}

	tests := []struct {
		name      string
		answers   []model.Answer
		score     float64
		correct   int
		incorrect int
	}{
		{
			name: "same id repeated",
			answers: []model.Answer{
				{QuestionID: "1", Answer: "42"},
				{QuestionID: "1", Answer: "42"},
				{QuestionID: "1", Answer: "42"},
				{QuestionID: "1", Answer: "42"},
			},
			score: 2, correct: 1, incorrect: 3,
		},
		{
			name: "first answer wins",
			answers: []model.Answer{
				{QuestionID: "1", Answer: "wrong"},
				{QuestionID: "1", Answer: "42"},
			},
			score: 0, correct: 0, incorrect: 2,
		},
		{
			name: "positional id repeats a question",
			answers: []model.Answer{
				{QuestionID: "1", Answer: "42"},
				{QuestionID: "q0", Answer: "42"},
				{QuestionID: "3", Answer: "9"},
			},
			score: 4, correct: 2, incorrect: 1,
		},
		{
			name: "more answers than questions",
			answers: []model.Answer{
				{QuestionID: "a", Answer: "42"},
				{QuestionID: "b", Answer: "7"},
				{QuestionID: "c", Answer: "9"},
				{QuestionID: "d", Answer: "42"},
				{QuestionID: "e", Answer: "7"},
			},
			score: 6, correct: 3, incorrect: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ScoreLocally(quiz, tt.answers)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, 6, res.TotalPoints)
			assert.Equal(t, tt.correct, res.Correct)
			assert.Equal(t, tt.incorrect, res.Incorrect)
			assert.LessOrEqual(t, res.Percentage, 100.0)
		})
	}
}

func TestPairAnswers(t *testing.T) {
	quiz := model.Quiz{Questions: []model.Question{{ID: "a"}, {ID: "b"}}}
	pairs := PairAnswers(quiz, []model.Answer{
		{QuestionID: "b"},
		{QuestionID: "q1"},
		{QuestionID: "zzz"},
		{QuestionID: "a"},
	})
	var got []int
	for _, p := range pairs {
		got = append(got, p.Index)
	}
	assert.Equal(t, []int{1, -1, -1, 0}, got)
}

func TestScoreLocallyEmptyQuiz(t *testing.T) {
	res := ScoreLocally(model.Quiz{}, []model.Answer{{QuestionID: "x", Answer: "y"}})
	assert.Equal(t, 0.0, res.Percentage)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.Incorrect)
}

func TestPassBoundary(t *testing.T) {
	assert.False(t, model.Passed(59.999))
	assert.True(t, model.Passed(60.000))
	assert.Equal(t, 0.0, model.Percentage(5, 0))
}
