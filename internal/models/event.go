package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of scheduled-event kinds the simulation
// understands. Payloads arriving from scenario authors or the dialogue
// oracle with an unrecognized type parse to EventUnknown, which the
// scheduler treats as a silent no-op rather than an error.
type EventType string

const (
	EventLabResultReady       EventType = "lab_result_ready"
	EventMedicationEffect     EventType = "medication_effect"
	EventPatientDeterioration EventType = "patient_deterioration"
	EventVitalChange          EventType = "vital_change"
	EventNurseNote            EventType = "nurse_note"
	EventUnknown              EventType = "unknown"
)

// ParseEventType maps free-form input onto the closed set.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventLabResultReady, EventMedicationEffect, EventPatientDeterioration,
		EventVitalChange, EventNurseNote:
		return EventType(s)
	default:
		return EventUnknown
	}
}

// TimeEvent is a scheduled occurrence on a session's virtual timeline.
// It fires at most once: VirtualTimeTriggered transitions nil→set exactly
// once.
type TimeEvent struct {
	ID                   uuid.UUID       `json:"id"`
	SessionID            uuid.UUID       `json:"session_id"`
	EventType            EventType       `json:"event_type"`
	EventData            json.RawMessage `json:"event_data"`
	VirtualTimeScheduled time.Time       `json:"virtual_time_scheduled"`
	RequiresAttention    bool            `json:"requires_attention"`
	IsComplication       bool            `json:"is_complication"`
	VirtualTimeTriggered *time.Time      `json:"virtual_time_triggered,omitempty"`
	RealTimeTriggered    *time.Time      `json:"real_time_triggered,omitempty"`
	AcknowledgedAt       *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Triggered reports whether the event has already fired.
func (e *TimeEvent) Triggered() bool {
	return e.VirtualTimeTriggered != nil
}

// Interrupting reports whether the event must halt a fast-forward that
// reaches it.
func (e *TimeEvent) Interrupting() bool {
	return e.RequiresAttention && e.AcknowledgedAt == nil
}

// Event payloads, decoded from EventData by the consequence handlers.

type LabResultPayload struct {
	TestName   string `json:"test_name"`
	Value      string `json:"value"`
	Unit       string `json:"unit"`
	IsAbnormal bool   `json:"is_abnormal"`
}

type MedicationEffectPayload struct {
	Medication  string         `json:"medication"`
	Description string         `json:"description"`
	VitalDelta  VitalSignDelta `json:"vital_delta"`
}

type DeteriorationPayload struct {
	ComplicationType string  `json:"complication_type"`
	Severity         float64 `json:"severity"`
	Description      string  `json:"description"`
}

type VitalChangePayload struct {
	Description string         `json:"description"`
	VitalDelta  VitalSignDelta `json:"vital_delta"`
}
