package models

// CompetencyScore is one graded dimension of clinical performance.
type CompetencyScore struct {
	Score    float64  `json:"score"` // 0-1
	Feedback string   `json:"feedback"`
	Evidence []string `json:"evidence"`
}

// AssessmentResult is the full rubric for a completed session.
// Deterministic given identical session history.
type AssessmentResult struct {
	Diagnostic       CompetencyScore `json:"diagnostic"`
	Procedural       CompetencyScore `json:"procedural"`
	Communication    CompetencyScore `json:"communication"`
	Professionalism  CompetencyScore `json:"professionalism"`
	CriticalThinking CompetencyScore `json:"critical_thinking"`
	Overall          float64         `json:"overall"`
	TimeEfficiency   float64         `json:"time_efficiency"`
}
