// Package results composes the results view for a stored submission,
// optionally enriched by an externally generated detailed report.
package results

import (
	"context"
	"math"

	"github.com/softrate/quizgrader/internal/grading"
	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/model"
)

const (
	// StrongSectionAccuracy is the section accuracy at which a kind counts as a strength.
	StrongSectionAccuracy = 0.7
	// ReportCorrectThreshold is the per-question report value counted as correct.
	ReportCorrectThreshold = 0.6

	minConfidence = 60
	maxConfidence = 95
)

var sectionLabels = map[model.QuestionKind]struct{ section, area string }{
	model.KindMultipleChoice: {"SectionMultipleChoice", "AreaMultipleChoice"},
	model.KindShortAnswer:    {"SectionShortAnswer", "AreaShortAnswer"},
	model.KindFreeText:       {"SectionFreeText", "AreaFreeText"},
}

// Compose builds the results view. report may be nil.
func Compose(ctx context.Context, sub model.Submission, quiz model.Quiz, report *model.DetailedReport) model.ResultView {
	return Merge(ctx, Baseline(ctx, sub, quiz), report)
}

// Baseline derives the results view from the submission and the quiz alone.
func Baseline(ctx context.Context, sub model.Submission, quiz model.Quiz) model.ResultView {
	n := len(quiz.Questions)
	answered := make([]*model.Answer, n)
	for i, pa := range grading.PairAnswers(quiz, sub.Answers) {
		if pa.Index >= 0 {
			answered[pa.Index] = &sub.Answers[i]
		}
	}

	view := model.ResultView{
		QuizID:           sub.QuizID,
		StudentID:        sub.StudentID,
		Score:            sub.Score,
		TotalPoints:      sub.TotalPoints,
		Percentage:       sub.Percentage,
		CorrectAnswers:   sub.CorrectAnswers,
		IncorrectAnswers: sub.IncorrectAnswers,
		TimePerQuestion:  make([]int, n),
		Questions:        make([]model.QuestionResult, n),
		QuestionTimings:  sub.QuestionTimings,
		Provenance:       sub.Provenance,
		ReportID:         sub.ReportID,
	}
	if view.QuestionTimings == nil {
		view.QuestionTimings = map[string]int{}
	}

	type tally struct{ correct, total int }
	sections := map[model.QuestionKind]*tally{}

	for i, q := range quiz.Questions {
		key := grading.QuestionKey(q, i)
		row := model.QuestionResult{
			ID:            key,
			Text:          q.Text,
			UserAnswer:    appI18n.T(ctx, "NotAnswered"),
			CorrectAnswer: displayReference(ctx, q),
			Kind:          q.Kind,
			Points:        q.Points,
		}
		if a := answered[i]; a != nil {
			row.UserAnswer = a.Answer
			row.IsCorrect = grading.IsCorrect(q, a.Answer)
			view.TimePerQuestion[i] = a.TimeSpent
		}
		if view.TimePerQuestion[i] == 0 {
			view.TimePerQuestion[i] = sub.QuestionTimings[key]
		}
		view.Questions[i] = row

		t := sections[q.Kind]
		if t == nil {
			t = &tally{}
			sections[q.Kind] = t
		}
		t.total++
		if row.IsCorrect {
			t.correct++
		}
	}

	for _, kind := range model.Kinds {
		t := sections[kind]
		if t == nil || t.total == 0 {
			continue
		}
		labels := sectionLabels[kind]
		view.SectionBreakdown = append(view.SectionBreakdown, model.SectionResult{
			Kind:    kind,
			Name:    appI18n.T(ctx, labels.section),
			Correct: t.correct,
			Total:   t.total,
		})
		area := appI18n.T(ctx, labels.area)
		if float64(t.correct)/float64(t.total) >= StrongSectionAccuracy {
			view.Performance.StrongAreas = append(view.Performance.StrongAreas, area)
		} else {
			view.Performance.ToImprove = append(view.Performance.ToImprove, area)
		}
	}

	view.Career = careerBand(ctx, view.Percentage)
	return finalize(ctx, view)
}

// Merge overlays report onto base field by field. A report field replaces
// the baseline only when it is present and non-empty.
func Merge(ctx context.Context, base model.ResultView, report *model.DetailedReport) model.ResultView {
	if report == nil {
		return finalize(ctx, base)
	}
	out := base
	out.Questions = append([]model.QuestionResult(nil), base.Questions...)
	out.TimePerQuestion = append([]int(nil), base.TimePerQuestion...)
	if out.ReportID == "" {
		out.ReportID = report.ID
	}

	percentageChanged := false
	if s := report.QuizSummary; s != nil && s.AverageScore != nil && !math.IsNaN(*s.AverageScore) {
		pct := *s.AverageScore
		if pct <= 1 {
			pct *= 100
		}
		out.Percentage = pct
		out.Score = math.Round(pct / 100 * float64(out.TotalPoints))
		percentageChanged = true
	}

	if len(report.DetailedAnalysis) > 0 {
		correct := 0
		for _, a := range report.DetailedAnalysis {
			if a.Value() >= ReportCorrectThreshold {
				correct++
			}
		}
		out.CorrectAnswers = correct
		out.IncorrectAnswers = len(report.DetailedAnalysis) - correct

		if len(report.DetailedAnalysis) == len(out.TimePerQuestion) {
			for i, a := range report.DetailedAnalysis {
				if a.TimeTaken != nil {
					out.TimePerQuestion[i] = int(math.Round(*a.TimeTaken))
				}
			}
		}
	}

	role, salary := reportCareer(report)
	switch {
	case role != "" || salary != "":
		if percentageChanged {
			out.Career = careerBand(ctx, out.Percentage)
		}
		if role != "" {
			out.Career.Role = role
		}
		if salary != "" {
			out.Career.SalaryRange = salary
		}
	case percentageChanged:
		out.Career = careerBand(ctx, out.Percentage)
	}

	if t := report.TopicAnalysis; t != nil {
		if len(t.Strengths) > 0 {
			out.Performance.StrongAreas = append([]string(nil), t.Strengths...)
		}
		if len(t.Weaknesses) > 0 {
			out.Performance.ToImprove = append([]string(nil), t.Weaknesses...)
		}
	}

	return finalize(ctx, out)
}

// reportCareer prefers the compensation estimate over the quick-summary view.
func reportCareer(r *model.DetailedReport) (role, salary string) {
	if e := r.LPAEstimation; e != nil && (e.Role != "" || e.Range != "") {
		return e.Role, e.Range
	}
	if q := r.QuickSummary; q != nil && q.MarketValue != nil {
		return q.MarketValue.EstimatedRole, q.MarketValue.SalaryRange
	}
	return "", ""
}

func careerBand(ctx context.Context, pct float64) model.CareerPrediction {
	role, salary := "RoleJunior", "SalaryJunior"
	switch {
	case pct >= 80:
		role, salary = "RoleSenior", "SalarySenior"
	case pct >= model.PassThreshold:
		role, salary = "RoleMid", "SalaryMid"
	}
	return model.CareerPrediction{
		Role:        appI18n.T(ctx, role),
		SalaryRange: appI18n.T(ctx, salary),
	}
}

// finalize recomputes the fields that depend on the merged percentage and
// fills empty performance lists.
func finalize(ctx context.Context, v model.ResultView) model.ResultView {
	v.Passed = model.Passed(v.Percentage)
	v.Career.Confidence = int(math.Round(math.Min(maxConfidence, math.Max(minConfidence, v.Percentage))))
	if len(v.Performance.StrongAreas) == 0 {
		v.Performance.StrongAreas = []string{appI18n.T(ctx, "DefaultStrength")}
	}
	if len(v.Performance.ToImprove) == 0 {
		v.Performance.ToImprove = []string{appI18n.T(ctx, "DefaultWeakness")}
	}
	if v.SectionBreakdown == nil {
		v.SectionBreakdown = []model.SectionResult{}
	}
	return v
}

// displayReference shows the option text for letter references.
func displayReference(ctx context.Context, q model.Question) string {
	if q.CorrectAnswer == "" {
		return appI18n.T(ctx, "NotAvailable")
	}
	if q.Kind == model.KindMultipleChoice {
		if idx := model.LetterIndex(q.CorrectAnswer); idx >= 0 && idx < len(q.Options) {
			return q.Options[idx]
		}
	}
	return q.CorrectAnswer
}
