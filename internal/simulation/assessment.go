package simulation

import (
	"fmt"
	"sort"
	"strings"

	"medsim-backend/internal/models"
)

// SessionHistory is the complete record the assessor folds into scores.
type SessionHistory struct {
	Session  *models.Session
	Scenario *models.Scenario
	Actions  []*models.MedicalAction
	Turns    []*models.ConversationTurn
	Events   []*models.TimeEvent
}

// Assessor turns a completed session's history into competency scores.
// Deterministic given identical history, which reproducible grading and
// test fixtures rely on.
type Assessor struct{}

func NewAssessor() *Assessor {
	return &Assessor{}
}

// Assess produces the five-dimension rubric plus overall and
// time-efficiency scores.
func (a *Assessor) Assess(h SessionHistory) models.AssessmentResult {
	result := models.AssessmentResult{
		Diagnostic:       a.scoreDiagnostic(h),
		Procedural:       a.scoreProcedural(h),
		Communication:    a.scoreCommunication(h),
		Professionalism:  a.scoreProfessionalism(h),
		CriticalThinking: a.scoreCriticalThinking(h),
	}

	result.Overall = round3((result.Diagnostic.Score +
		result.Procedural.Score +
		result.Communication.Score +
		result.Professionalism.Score +
		result.CriticalThinking.Score) / 5)

	result.TimeEfficiency = a.timeEfficiency(h)
	return result
}

func (a *Assessor) scoreDiagnostic(h SessionHistory) models.CompetencyScore {
	expected := h.Scenario.CompletedStepsExpected
	if len(expected) == 0 {
		return models.CompetencyScore{
			Score:    0.5,
			Feedback: "Scenario defines no expected steps; neutral score assigned",
		}
	}

	done := make(map[string]bool, len(h.Session.CompletedSteps))
	for _, s := range h.Session.CompletedSteps {
		done[s] = true
	}

	var hit int
	var evidence []string
	for _, step := range expected {
		if done[step] {
			hit++
			evidence = append(evidence, "completed "+step)
		} else {
			evidence = append(evidence, "missed "+step)
		}
	}

	score := round3(float64(hit) / float64(len(expected)))
	feedback := fmt.Sprintf("Completed %d of %d expected clinical steps", hit, len(expected))
	return models.CompetencyScore{Score: score, Feedback: feedback, Evidence: evidence}
}

func (a *Assessor) scoreProcedural(h SessionHistory) models.CompetencyScore {
	var attempted, succeeded int
	var evidence []string
	for _, act := range h.Actions {
		if act.ActionType != models.ActionProcedure && act.ActionType != models.ActionMedication {
			continue
		}
		attempted++
		if act.Success != nil && *act.Success {
			succeeded++
			evidence = append(evidence, fmt.Sprintf("%s succeeded", describeAction(act)))
		} else {
			evidence = append(evidence, fmt.Sprintf("%s failed", describeAction(act)))
		}
	}
	if attempted == 0 {
		return models.CompetencyScore{
			Score:    0.5,
			Feedback: "No procedures or medications attempted",
		}
	}
	score := round3(float64(succeeded) / float64(attempted))
	return models.CompetencyScore{
		Score:    score,
		Feedback: fmt.Sprintf("%d of %d interventions executed correctly", succeeded, attempted),
		Evidence: evidence,
	}
}

func (a *Assessor) scoreCommunication(h SessionHistory) models.CompetencyScore {
	if len(h.Turns) == 0 {
		return models.CompetencyScore{
			Score:    0.2,
			Feedback: "No patient dialogue recorded; history-taking was not attempted",
		}
	}

	var accuracy, value float64
	for _, t := range h.Turns {
		accuracy += t.MedicalAccuracy
		value += t.EducationalValue
	}
	n := float64(len(h.Turns))
	base := (accuracy/n)*0.6 + (value/n)*0.4

	// A handful of questions shows engagement; cap the bonus at 5 turns.
	depth := float64(len(h.Turns))
	if depth > 5 {
		depth = 5
	}
	score := round3(base*0.8 + (depth/5)*0.2)

	return models.CompetencyScore{
		Score:    score,
		Feedback: fmt.Sprintf("Held %d patient exchanges with mean accuracy %.2f", len(h.Turns), accuracy/n),
		Evidence: []string{fmt.Sprintf("%d conversation turns", len(h.Turns))},
	}
}

func (a *Assessor) scoreProfessionalism(h SessionHistory) models.CompetencyScore {
	score := 1.0
	var evidence []string
	for _, act := range h.Actions {
		if act.Success != nil && !*act.Success && act.Feedback != nil &&
			strings.Contains(*act.Feedback, "exceeds maximum") {
			score -= 0.25
			evidence = append(evidence, "attempted overdose: "+describeAction(act))
		}
		if act.ActionType == models.ActionUnknown {
			score -= 0.1
			evidence = append(evidence, "malformed action submitted")
		}
	}
	if score < 0 {
		score = 0
	}
	feedback := "Safe practice maintained throughout"
	if len(evidence) > 0 {
		feedback = "Safety lapses recorded during the encounter"
	}
	return models.CompetencyScore{Score: round3(score), Feedback: feedback, Evidence: evidence}
}

func (a *Assessor) scoreCriticalThinking(h SessionHistory) models.CompetencyScore {
	// Every fired complication event should be answered by at least one
	// action at a later virtual time.
	var fired []*models.TimeEvent
	for _, ev := range h.Events {
		if ev.IsComplication && ev.Triggered() {
			fired = append(fired, ev)
		}
	}
	if len(fired) == 0 {
		return models.CompetencyScore{
			Score:    0.7,
			Feedback: "No complications arose; limited evidence of escalation handling",
		}
	}
	sort.Slice(fired, func(i, j int) bool {
		return fired[i].VirtualTimeScheduled.Before(fired[j].VirtualTimeScheduled)
	})

	var answered int
	var evidence []string
	for _, ev := range fired {
		responded := false
		for _, act := range h.Actions {
			if act.VirtualTimeStarted.After(ev.VirtualTimeScheduled) {
				responded = true
				break
			}
		}
		if responded {
			answered++
			evidence = append(evidence, fmt.Sprintf("responded to %s", ev.EventType))
		} else {
			evidence = append(evidence, fmt.Sprintf("no response to %s", ev.EventType))
		}
	}
	score := round3(float64(answered) / float64(len(fired)))
	return models.CompetencyScore{
		Score:    score,
		Feedback: fmt.Sprintf("Responded to %d of %d complications", answered, len(fired)),
		Evidence: evidence,
	}
}

// timeEfficiency is expectedDuration/actualDuration on the virtual
// clock, capped at 1 so finishing early is not over-rewarded.
func (a *Assessor) timeEfficiency(h SessionHistory) float64 {
	expected := h.Scenario.ExpectedDurationMinutes
	actual := h.Session.TotalVirtualTimeElapsed
	if expected <= 0 || actual <= 0 {
		return 1
	}
	eff := expected / actual
	if eff > 1 {
		eff = 1
	}
	return round3(eff)
}

func describeAction(act *models.MedicalAction) string {
	return string(act.ActionType)
}

// round3 keeps scores stable across float accumulation orders.
func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
