package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType is the closed set of discrete clinical acts. Requests with
// an unrecognized type parse to ActionUnknown, which the processor
// answers with a soft failure instead of an error so a malformed client
// request does not abort the session.
type ActionType string

const (
	ActionExamination ActionType = "examination"
	ActionMedication  ActionType = "medication"
	ActionProcedure   ActionType = "procedure"
	ActionDiagnostic  ActionType = "diagnostic"
	ActionUnknown     ActionType = "unknown"
)

// ParseActionType maps free-form input onto the closed set.
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionExamination, ActionMedication, ActionProcedure, ActionDiagnostic:
		return ActionType(s)
	default:
		return ActionUnknown
	}
}

type ActionStatus string

const (
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionCompleted  ActionStatus = "COMPLETED"
)

// MedicalAction is one clinical act performed by a user during a session.
type MedicalAction struct {
	ID                   uuid.UUID       `json:"id"`
	SessionID            uuid.UUID       `json:"session_id"`
	PerformedBy          uuid.UUID       `json:"performed_by"`
	ActionType           ActionType      `json:"action_type"`
	ActionDetails        json.RawMessage `json:"action_details"`
	Status               ActionStatus    `json:"status"`
	CanBeFastForwarded   bool            `json:"can_be_fast_forwarded"`
	RealTimeStarted      time.Time       `json:"real_time_started"`
	VirtualTimeStarted   time.Time       `json:"virtual_time_started"`
	RealTimeCompleted    *time.Time      `json:"real_time_completed,omitempty"`
	VirtualTimeCompleted *time.Time      `json:"virtual_time_completed,omitempty"`
	Result               *string         `json:"result,omitempty"`
	Success              *bool           `json:"success,omitempty"`
	Feedback             *string         `json:"feedback,omitempty"`
}

// Action detail payloads, decoded from ActionDetails per ActionType.

type ExaminationDetails struct {
	BodySystem string `json:"body_system"` // "cardiovascular" | "respiratory" | ...
	Technique  string `json:"technique"`   // "auscultation" | "palpation" | ...
}

type MedicationDetails struct {
	Name  string  `json:"name"`
	Dose  float64 `json:"dose"`
	Unit  string  `json:"unit"`
	Route string  `json:"route"`
}

type ProcedureDetails struct {
	Name string `json:"name"`
	Site string `json:"site,omitempty"`
}

type DiagnosticDetails struct {
	TestName string `json:"test_name"`
	Urgency  string `json:"urgency,omitempty"` // "routine" | "stat"
}

// PerformActionRequest is the payload for POST /sessions/{id}/actions.
type PerformActionRequest struct {
	ActionType    string          `json:"action_type"`
	ActionDetails json.RawMessage `json:"action_details"`
}

// PerformActionResult is what the manager returns for one action.
type PerformActionResult struct {
	Action       *MedicalAction `json:"action"`
	Success      bool           `json:"success"`
	Result       string         `json:"result"`
	Feedback     string         `json:"feedback"`
	PatientState PatientState   `json:"patient_state"`
}
