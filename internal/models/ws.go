package models

import (
	"github.com/google/uuid"
)

// WebSocket message types pushed to session observers.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SessionUpdate is broadcast after every mutating session operation.
type SessionUpdate struct {
	SessionID          uuid.UUID      `json:"session_id"`
	Status             SessionStatus  `json:"status"`
	TimeFlowMode       TimeFlowMode   `json:"time_flow_mode"`
	CurrentVirtualTime string         `json:"current_virtual_time"`
	VitalSigns         VitalSigns     `json:"vital_signs"`
	EmotionalState     EmotionalState `json:"emotional_state"`
	EventsFired        int            `json:"events_fired,omitempty"`
}

// API error envelope.
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
