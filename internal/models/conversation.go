package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationTurn is one persisted question/answer exchange with the
// simulated patient.
type ConversationTurn struct {
	ID               uuid.UUID      `json:"id"`
	SessionID        uuid.UUID      `json:"session_id"`
	AskedBy          uuid.UUID      `json:"asked_by"`
	Question         string         `json:"question"`
	Response         string         `json:"response"`
	EmotionalState   EmotionalState `json:"emotional_state"`
	MedicalAccuracy  float64        `json:"medical_accuracy"`  // 0-1, oracle self-assessment
	EducationalValue float64        `json:"educational_value"` // 0-1
	VirtualTime      time.Time      `json:"virtual_time"`
	CreatedAt        time.Time      `json:"created_at"`
}

// PatientReply is the structured output of the dialogue oracle.
type PatientReply struct {
	Text                string          `json:"text"`
	EmotionalState      EmotionalState  `json:"emotional_state"`
	VitalSignChanges    *VitalSignDelta `json:"vital_sign_changes,omitempty"`
	MedicalAccuracy     float64         `json:"medical_accuracy"`
	EducationalValue    float64         `json:"educational_value"`
	TriggeredEventTypes []string        `json:"triggered_event_types,omitempty"`
}

type AskQuestionRequest struct {
	Question string `json:"question"`
}

// AskQuestionResult is what the manager returns for one patient question.
type AskQuestionResult struct {
	TurnID           uuid.UUID       `json:"turn_id"`
	Response         string          `json:"response"`
	EmotionalState   EmotionalState  `json:"emotional_state"`
	VitalSignChanges *VitalSignDelta `json:"vital_sign_changes,omitempty"`
}
