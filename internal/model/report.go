package model

import "time"

// DetailedReport is an externally produced analysis of an attempt.
// Every section is optional and must be probed before use.
type DetailedReport struct {
	ID               string             `json:"report_id"`
	StudentID        string             `json:"user_id"`
	QuizID           string             `json:"quiz_id,omitempty"`
	SessionID        string             `json:"session_id,omitempty"`
	GeneratedAt      time.Time          `json:"generated_at"`
	QuizSummary      *QuizSummary       `json:"quiz_summary,omitempty"`
	DetailedAnalysis []QuestionAnalysis `json:"detailed_analysis,omitempty"`
	TopicAnalysis    *TopicAnalysis     `json:"topic_analysis,omitempty"`
	LPAEstimation    *LPAEstimation     `json:"lpa_estimation,omitempty"`
	QuickSummary     *QuickSummary      `json:"quick_summary_view,omitempty"`
}

// QuizSummary holds aggregate figures. AverageScore is a 0..1 ratio or a 0..100 percentage.
type QuizSummary struct {
	TotalQuestions     int      `json:"total_questions,omitempty"`
	QuestionsAttempted int      `json:"questions_attempted,omitempty"`
	AverageScore       *float64 `json:"average_score,omitempty"`
	TotalDuration      float64  `json:"total_duration,omitempty"`
}

// QuestionAnalysis is the per-question part of a report.
type QuestionAnalysis struct {
	QuestionID    string   `json:"question_id,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Effectiveness *float64 `json:"effectiveness,omitempty"`
	FinalScore    *float64 `json:"final_score,omitempty"`
	TimeTaken     *float64 `json:"time_taken,omitempty"`
}

// Value returns the first populated of score, effectiveness and final score.
func (a QuestionAnalysis) Value() float64 {
	for _, v := range []*float64{a.Score, a.Effectiveness, a.FinalScore} {
		if v != nil && *v != 0 {
			return *v
		}
	}
	return 0
}

// TopicAnalysis lists topic-level strengths and weaknesses.
type TopicAnalysis struct {
	Strengths  []string `json:"strengths,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"`
}

// LPAEstimation is the compensation estimate.
type LPAEstimation struct {
	EstimatedLPA float64 `json:"estimated_lpa,omitempty"`
	Role         string  `json:"role,omitempty"`
	Range        string  `json:"range,omitempty"`
}

// QuickSummary is the condensed report view; only market value is consumed.
type QuickSummary struct {
	MarketValue *MarketValue `json:"market_value,omitempty"`
}

// MarketValue is the quick-view role estimate.
type MarketValue struct {
	EstimatedRole string `json:"estimated_role,omitempty"`
	SalaryRange   string `json:"salary_range,omitempty"`
}

// SectionResult is the per-kind breakdown of a result.
type SectionResult struct {
	Kind    QuestionKind `json:"kind"`
	Name    string       `json:"name"`
	Correct int          `json:"correct"`
	Total   int          `json:"total"`
}

// PerformanceAnalysis lists strong and weak areas.
type PerformanceAnalysis struct {
	StrongAreas []string `json:"strongAreas"`
	ToImprove   []string `json:"toImprove"`
}

// CareerPrediction is the coarse career-fit estimate.
type CareerPrediction struct {
	Role        string `json:"role"`
	SalaryRange string `json:"salaryRange"`
	Confidence  int    `json:"confidence"`
}

// QuestionResult is one row of the per-question results table.
type QuestionResult struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	UserAnswer    string       `json:"userAnswer"`
	CorrectAnswer string       `json:"correctAnswer"`
	IsCorrect     bool         `json:"isCorrect"`
	Kind          QuestionKind `json:"type"`
	Points        int          `json:"points"`
}

// ResultView is the composed results screen for a submission.
type ResultView struct {
	QuizID           string              `json:"quizId"`
	StudentID        string              `json:"studentId"`
	Score            float64             `json:"score"`
	TotalPoints      int                 `json:"totalPoints"`
	Percentage       float64             `json:"percentage"`
	Passed           bool                `json:"passed"`
	CorrectAnswers   int                 `json:"correctAnswers"`
	IncorrectAnswers int                 `json:"incorrectAnswers"`
	TimePerQuestion  []int               `json:"timePerQuestion"`
	SectionBreakdown []SectionResult     `json:"sectionBreakdown"`
	Performance      PerformanceAnalysis `json:"performanceAnalysis"`
	Questions        []QuestionResult    `json:"questions"`
	Career           CareerPrediction    `json:"careerPrediction"`
	QuestionTimings  map[string]int      `json:"questionTimings"`
	Provenance       Provenance          `json:"provenance"`
	ReportID         string              `json:"reportId,omitempty"`
}
