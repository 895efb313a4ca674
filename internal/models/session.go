package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
)

type TimeFlowMode string

const (
	FlowRealTime    TimeFlowMode = "REAL_TIME"
	FlowAccelerated TimeFlowMode = "ACCELERATED"
	FlowPaused      TimeFlowMode = "PAUSED"
)

// Session is the unit of simulation. Mutated exclusively through the
// session manager; never deleted by the core.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	ScenarioID   uuid.UUID  `json:"scenario_id"`
	StudentID    uuid.UUID  `json:"student_id"`
	SupervisorID *uuid.UUID `json:"supervisor_id,omitempty"`

	Status SessionStatus `json:"status"`

	// Clocks. CurrentVirtualTime is the patient-facing clock;
	// LastRealTimeUpdate anchors the next real-time advancement.
	StartTime               time.Time    `json:"start_time"`
	EndTime                 *time.Time   `json:"end_time,omitempty"`
	CurrentVirtualTime      time.Time    `json:"current_virtual_time"`
	LastRealTimeUpdate      time.Time    `json:"last_real_time_update"`
	TotalRealTimeElapsed    float64      `json:"total_real_time_elapsed"`    // seconds
	TotalVirtualTimeElapsed float64      `json:"total_virtual_time_elapsed"` // minutes
	TimeAccelerationRate    float64      `json:"time_acceleration_rate"`
	TimeFlowMode            TimeFlowMode `json:"time_flow_mode"`

	CurrentPatientState      PatientState   `json:"current_patient_state"`
	CurrentEmotionalState    EmotionalState `json:"current_emotional_state"`
	ComplicationsEncountered []Complication `json:"complications_encountered"`
	ActiveMedications        []string       `json:"active_medications"`
	CompletedSteps           []string       `json:"completed_steps"`

	CompetencyScores *AssessmentResult `json:"competency_scores,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartSessionRequest is the payload for POST /sessions/start.
type StartSessionRequest struct {
	ScenarioID           string  `json:"scenario_id"`
	SupervisorID         string  `json:"supervisor_id,omitempty"`
	TimeAccelerationRate float64 `json:"time_acceleration_rate,omitempty"`
}

// FastForwardRequest is the payload for POST /sessions/{id}/fast-forward.
type FastForwardRequest struct {
	VirtualMinutes float64 `json:"virtual_minutes"`
	StopOnEvents   *bool   `json:"stop_on_events,omitempty"` // default true
}

// FastForwardResult reports what a time-skip actually did.
type FastForwardResult struct {
	Session     *Session     `json:"session"`
	EventsFired []*TimeEvent `json:"events_fired"`
	Interrupted bool         `json:"interrupted"`
}
