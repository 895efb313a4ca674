package models

import (
	"encoding/json"
	"time"
)

// EmotionalState describes the patient's presentation during dialogue.
type EmotionalState string

const (
	EmotionNeutral    EmotionalState = "neutral"
	EmotionCalm       EmotionalState = "calm"
	EmotionAnxious    EmotionalState = "anxious"
	EmotionDistressed EmotionalState = "distressed"
	EmotionCritical   EmotionalState = "critical"
)

// VitalSigns is the explicitly-fielded record the simulation mutates.
// All values are stored in conventional clinical units.
type VitalSigns struct {
	HeartRate        float64 `json:"heart_rate"`         // beats/min
	SystolicBP       float64 `json:"systolic_bp"`        // mmHg
	DiastolicBP      float64 `json:"diastolic_bp"`       // mmHg
	RespiratoryRate  float64 `json:"respiratory_rate"`   // breaths/min
	OxygenSaturation float64 `json:"oxygen_saturation"`  // percent
	Temperature      float64 `json:"temperature"`        // Celsius
	PainLevel        float64 `json:"pain_level"`         // 0-10
}

// VitalSignDelta is an additive adjustment applied to VitalSigns.
// Zero fields leave the corresponding vital untouched.
type VitalSignDelta struct {
	HeartRate        float64 `json:"heart_rate,omitempty"`
	SystolicBP       float64 `json:"systolic_bp,omitempty"`
	DiastolicBP      float64 `json:"diastolic_bp,omitempty"`
	RespiratoryRate  float64 `json:"respiratory_rate,omitempty"`
	OxygenSaturation float64 `json:"oxygen_saturation,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	PainLevel        float64 `json:"pain_level,omitempty"`
}

// IsZero reports whether the delta changes nothing.
func (d VitalSignDelta) IsZero() bool {
	return d == VitalSignDelta{}
}

type LabResult struct {
	TestName   string    `json:"test_name"`
	Value      string    `json:"value"`
	Unit       string    `json:"unit"`
	IsAbnormal bool      `json:"is_abnormal"`
	ResultedAt time.Time `json:"resulted_at"` // virtual time
}

type TreatmentResponse struct {
	Intervention string    `json:"intervention"`
	Response     string    `json:"response"`
	RecordedAt   time.Time `json:"recorded_at"` // virtual time
}

type Complication struct {
	Type       string    `json:"type"`
	Severity   float64   `json:"severity"` // 0-1
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"` // virtual time
}

// PatientState is the versioned clinical record carried by a session.
// Unknown fields from older records survive round-trips through Extra.
type PatientState struct {
	Version            int                        `json:"version"`
	VitalSigns         VitalSigns                 `json:"vital_signs"`
	Symptoms           []string                   `json:"symptoms"`
	MentalStatus       string                     `json:"mental_status"`
	PhysicalFindings   []string                   `json:"physical_findings"`
	LabResults         []LabResult                `json:"lab_results"`
	TreatmentResponses []TreatmentResponse        `json:"treatment_responses"`
	Extra              map[string]json.RawMessage `json:"extra,omitempty"`
}

// Clone returns a deep copy so engines can produce a new state without
// aliasing the slices of the old one.
func (p PatientState) Clone() PatientState {
	out := p
	out.Symptoms = append([]string(nil), p.Symptoms...)
	out.PhysicalFindings = append([]string(nil), p.PhysicalFindings...)
	out.LabResults = append([]LabResult(nil), p.LabResults...)
	out.TreatmentResponses = append([]TreatmentResponse(nil), p.TreatmentResponses...)
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HasSymptom does a case-sensitive containment check.
func (p PatientState) HasSymptom(symptom string) bool {
	for _, s := range p.Symptoms {
		if s == symptom {
			return true
		}
	}
	return false
}
