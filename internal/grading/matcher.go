package grading

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/softrate/quizgrader/internal/model"
)

var positionalID = regexp.MustCompile(`^q(\d+)`)

// IsCorrect reports whether answer is correct for q. It never panics;
// an empty answer is always incorrect.
func IsCorrect(q model.Question, answer string) bool {
	if answer == "" {
		return false
	}
	switch q.Kind {
	case model.KindMultipleChoice:
		return matchChoice(q, answer)
	case model.KindShortAnswer:
		return matchShort(q.CorrectAnswer, answer)
	case model.KindFreeText:
		return matchFreeText(q.CorrectAnswer, answer)
	}
	return false
}

// matchChoice accepts either the resolved option text or the letter token,
// whichever form the stored reference uses.
func matchChoice(q model.Question, answer string) bool {
	ref := q.CorrectAnswer
	if ref == "" || len(q.Options) == 0 {
		return false
	}

	if idx := model.LetterIndex(ref); idx >= 0 {
		if idx >= len(q.Options) {
			return false
		}
		return answer == q.Options[idx] || answer == ref
	}

	if strings.TrimSpace(ref) == strings.TrimSpace(answer) {
		return true
	}
	// Reference is option text; a letter pointing at that option is also correct.
	if idx := model.LetterIndex(answer); idx >= 0 && idx < len(q.Options) {
		return strings.TrimSpace(q.Options[idx]) == strings.TrimSpace(ref)
	}
	return false
}

func matchShort(ref, answer string) bool {
	if ref == "" {
		return false
	}
	return fold(ref) == fold(answer)
}

func matchFreeText(ref, answer string) bool {
	r, a := fold(ref), fold(answer)
	if r == "" || a == "" {
		return false
	}
	return strings.Contains(a, r) || strings.Contains(r, a)
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResolveIndex finds the position of the question an answer refers to, or
// -1. It tries the exact identifier, then a positional "q<N>" identifier,
// then the answer's own position in the submission. The order matters:
// identifiers are not stable between the authoring and quiz-taking paths.
func ResolveIndex(quiz model.Quiz, questionID string, position int) int {
	for i, q := range quiz.Questions {
		if q.ID != "" && q.ID == questionID {
			return i
		}
	}
	if m := positionalID.FindStringSubmatch(questionID); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx < len(quiz.Questions) {
			return idx
		}
	}
	if position >= 0 && position < len(quiz.Questions) {
		return position
	}
	return -1
}

// QuestionKey returns the identifier used for timings and answers: the stored
// id, or "q<index>" when the question has none.
func QuestionKey(q model.Question, index int) string {
	if q.ID != "" {
		return q.ID
	}
	return "q" + strconv.Itoa(index)
}

// PairedAnswer is a submitted answer with the question it grades. Index is -1
// when the answer resolves to nothing or to a question already answered.
type PairedAnswer struct {
	Answer model.Answer
	Index  int
}

// PairAnswers resolves every answer to a question index, keeping only the
// first answer for each question.
func PairAnswers(quiz model.Quiz, answers []model.Answer) []PairedAnswer {
	seen := make([]bool, len(quiz.Questions))
	out := make([]PairedAnswer, len(answers))
	for i, a := range answers {
		idx := ResolveIndex(quiz, a.QuestionID, i)
		if idx >= 0 && seen[idx] {
			idx = -1
		}
		if idx >= 0 {
			seen[idx] = true
		}
		out[i] = PairedAnswer{Answer: a, Index: idx}
	}
	return out
}

// LocalResult is the outcome of grading every answer with the matcher.
type LocalResult struct {
	Score       float64
	TotalPoints int
	Correct     int
	Incorrect   int
	Percentage  float64
	Passed      bool
}

// ScoreLocally grades answers against quiz with the matcher. Each question is
// scored at most once: the first answer resolving to it wins. Later answers
// for the same question and unresolvable answers count as incorrect.
func ScoreLocally(quiz model.Quiz, answers []model.Answer) LocalResult {
	res := LocalResult{TotalPoints: quiz.TotalPoints()}
	for _, pa := range PairAnswers(quiz, answers) {
		if pa.Index >= 0 && IsCorrect(quiz.Questions[pa.Index], pa.Answer.Answer) {
			res.Score += float64(quiz.Questions[pa.Index].Points)
			res.Correct++
			continue
		}
		res.Incorrect++
	}
	res.Percentage = model.Percentage(res.Score, res.TotalPoints)
	res.Passed = model.Passed(res.Percentage)
	return res
}
