package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventTemplate is the symbolic form of a scheduled event carried by a
// scenario. OffsetMinutes is relative to session start; the scheduler
// anchors it onto the session's real start date when materializing.
type EventTemplate struct {
	EventType         string          `json:"event_type"`
	OffsetMinutes     float64         `json:"offset_minutes"`
	EventData         json.RawMessage `json:"event_data"`
	RequiresAttention bool            `json:"requires_attention"`
	IsComplication    bool            `json:"is_complication"`
}

type Scenario struct {
	ID                      uuid.UUID       `json:"id"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	Specialty               string          `json:"specialty"`
	Difficulty              string          `json:"difficulty"` // "beginner" | "intermediate" | "advanced"
	DiseaseModel            string          `json:"disease_model"`
	InitialPatientState     PatientState    `json:"initial_patient_state"`
	InitialEmotionalState   EmotionalState  `json:"initial_emotional_state"`
	PatientProfileJSON      json.RawMessage `json:"patient_profile"` // persona fed to the dialogue oracle
	EventTemplates          []EventTemplate `json:"event_templates"`
	ExpectedDurationMinutes float64         `json:"expected_duration_minutes"`
	CompletedStepsExpected  []string        `json:"completed_steps_expected"`
	IsActive                bool            `json:"is_active"`
	CreatedAt               time.Time       `json:"created_at"`
}
