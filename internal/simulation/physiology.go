package simulation

import (
	"fmt"
	"time"

	"medsim-backend/internal/models"
)

// Physiological clamp bounds. Vitals never leave these ranges no matter
// how long a session is skipped forward.
const (
	minHeartRate  = 20.0
	maxHeartRate  = 220.0
	minSystolic   = 40.0
	maxSystolic   = 260.0
	minDiastolic  = 20.0
	maxDiastolic  = 160.0
	minRespRate   = 4.0
	maxRespRate   = 60.0
	minSpO2       = 50.0
	maxSpO2       = 100.0
	minTempC      = 30.0
	maxTempC      = 43.0
	minPain       = 0.0
	maxPain       = 10.0
)

// SymptomRule adds a symptom once a vital crosses its threshold.
type SymptomRule struct {
	Symptom string
	Check   func(models.VitalSigns) bool
}

// ComplicationRule triggers a complication once per session when a vital
// crosses its threshold. Severity is a fixed property of the rule so the
// engine stays deterministic.
type ComplicationRule struct {
	Type     string
	Severity float64
	Check    func(models.VitalSigns) bool
	Detail   string
}

// DiseaseModel describes how an untreated condition progresses per
// virtual minute and how interventions counteract it. Models are
// read-only after construction.
type DiseaseModel struct {
	Name string

	// DriftPerMinute is applied for every elapsed virtual minute while
	// no counteracting intervention is active.
	DriftPerMinute models.VitalSignDelta

	// InterventionEffects maps a medication/intervention name to the
	// per-minute delta it contributes while active.
	InterventionEffects map[string]models.VitalSignDelta

	SymptomRules      []SymptomRule
	ComplicationRules []ComplicationRule
}

// ModelRegistry is the process-wide, read-only lookup of disease models,
// constructed once at startup and passed by reference into the engine.
type ModelRegistry struct {
	models map[string]*DiseaseModel
}

// Lookup falls back to the stable model for unknown names so a scenario
// referencing a retired model still simulates.
func (r *ModelRegistry) Lookup(name string) *DiseaseModel {
	if m, ok := r.models[name]; ok {
		return m
	}
	return r.models["stable"]
}

// NewModelRegistry builds the built-in disease models.
func NewModelRegistry() *ModelRegistry {
	models_ := map[string]*DiseaseModel{
		"stable": {
			Name: "stable",
		},
		"sepsis": {
			Name: "sepsis",
			DriftPerMinute: models.VitalSignDelta{
				HeartRate:        0.5,
				SystolicBP:       -0.4,
				DiastolicBP:      -0.2,
				RespiratoryRate:  0.1,
				OxygenSaturation: -0.05,
				Temperature:      0.01,
			},
			InterventionEffects: map[string]models.VitalSignDelta{
				"iv_fluids":      {SystolicBP: 0.6, DiastolicBP: 0.3, HeartRate: -0.3},
				"antibiotics":    {Temperature: -0.02, HeartRate: -0.2},
				"norepinephrine": {SystolicBP: 1.0, DiastolicBP: 0.5},
			},
			SymptomRules: []SymptomRule{
				{Symptom: "rigors", Check: func(v models.VitalSigns) bool { return v.Temperature >= 39.0 }},
				{Symptom: "mottled skin", Check: func(v models.VitalSigns) bool { return v.SystolicBP < 90 }},
			},
			ComplicationRules: []ComplicationRule{
				{
					Type: "septic_shock", Severity: 0.8,
					Check:  func(v models.VitalSigns) bool { return v.SystolicBP < 80 },
					Detail: "Refractory hypotension despite fluid resuscitation",
				},
			},
		},
		"acute_mi": {
			Name: "acute_mi",
			DriftPerMinute: models.VitalSignDelta{
				HeartRate:        0.3,
				SystolicBP:       -0.2,
				OxygenSaturation: -0.03,
				PainLevel:        0.05,
			},
			InterventionEffects: map[string]models.VitalSignDelta{
				"aspirin":       {PainLevel: -0.02},
				"nitroglycerin": {PainLevel: -0.08, SystolicBP: -0.1},
				"morphine":      {PainLevel: -0.15, RespiratoryRate: -0.05},
				"oxygen":        {OxygenSaturation: 0.08},
			},
			SymptomRules: []SymptomRule{
				{Symptom: "diaphoresis", Check: func(v models.VitalSigns) bool { return v.PainLevel >= 7 }},
				{Symptom: "dyspnea", Check: func(v models.VitalSigns) bool { return v.OxygenSaturation < 92 }},
			},
			ComplicationRules: []ComplicationRule{
				{
					Type: "arrhythmia", Severity: 0.7,
					Check:  func(v models.VitalSigns) bool { return v.HeartRate > 150 },
					Detail: "Ventricular ectopy on continuous monitoring",
				},
			},
		},
		"asthma_exacerbation": {
			Name: "asthma_exacerbation",
			DriftPerMinute: models.VitalSignDelta{
				RespiratoryRate:  0.2,
				OxygenSaturation: -0.08,
				HeartRate:        0.2,
			},
			InterventionEffects: map[string]models.VitalSignDelta{
				"albuterol":       {RespiratoryRate: -0.3, OxygenSaturation: 0.12},
				"corticosteroids": {RespiratoryRate: -0.05, OxygenSaturation: 0.03},
				"oxygen":          {OxygenSaturation: 0.15},
			},
			SymptomRules: []SymptomRule{
				{Symptom: "accessory muscle use", Check: func(v models.VitalSigns) bool { return v.RespiratoryRate > 28 }},
				{Symptom: "cyanosis", Check: func(v models.VitalSigns) bool { return v.OxygenSaturation < 85 }},
			},
			ComplicationRules: []ComplicationRule{
				{
					Type: "respiratory_failure", Severity: 0.9,
					Check:  func(v models.VitalSigns) bool { return v.OxygenSaturation < 80 },
					Detail: "Silent chest with falling saturation",
				},
			},
		},
	}
	return &ModelRegistry{models: models_}
}

// Engine derives new clinical state from elapsed virtual time and active
// interventions. Stateless given its inputs; safe for concurrent use.
type Engine struct {
	registry *ModelRegistry
}

func NewEngine(registry *ModelRegistry) *Engine {
	return &Engine{registry: registry}
}

// Outcome is the result of one recompute pass.
type Outcome struct {
	State            models.PatientState
	NewComplications []models.Complication
}

// Recompute advances the patient state across elapsedMinutes of virtual
// time. Pure: the input state is not mutated.
func (e *Engine) Recompute(
	state models.PatientState,
	elapsedMinutes float64,
	activeInterventions []string,
	modelName string,
	at time.Time,
) Outcome {
	out := state.Clone()
	model := e.registry.Lookup(modelName)

	if elapsedMinutes > 0 {
		net := scaleDelta(model.DriftPerMinute, elapsedMinutes)
		for _, name := range activeInterventions {
			if eff, ok := model.InterventionEffects[name]; ok {
				net = addDelta(net, scaleDelta(eff, elapsedMinutes))
			}
		}
		out.VitalSigns = ApplyDelta(out.VitalSigns, net)
	}

	for _, rule := range model.SymptomRules {
		if rule.Check(out.VitalSigns) && !out.HasSymptom(rule.Symptom) {
			out.Symptoms = append(out.Symptoms, rule.Symptom)
		}
	}

	out.MentalStatus = DeriveMentalStatus(out.VitalSigns)

	var complications []models.Complication
	for _, rule := range model.ComplicationRules {
		if rule.Check(out.VitalSigns) {
			complications = append(complications, models.Complication{
				Type:       rule.Type,
				Severity:   rule.Severity,
				Detail:     rule.Detail,
				OccurredAt: at,
			})
		}
	}

	return Outcome{State: out, NewComplications: complications}
}

// DeriveMentalStatus is a priority-ordered rule chain. The order is a
// contract: severe hypoxia must win before blood pressure or heart rate
// are consulted, since the rules are not commutative.
func DeriveMentalStatus(v models.VitalSigns) string {
	switch {
	case v.OxygenSaturation < 80:
		return "Unresponsive"
	case v.OxygenSaturation < 88:
		return "Confused"
	case v.SystolicBP < 80:
		return "Lethargic"
	case v.HeartRate > 140:
		return "Agitated"
	case v.PainLevel >= 8:
		return "Distressed"
	default:
		return "Alert"
	}
}

// ApplyDelta adds a delta to vitals and clamps every field to its
// physiologically plausible range.
func ApplyDelta(v models.VitalSigns, d models.VitalSignDelta) models.VitalSigns {
	v.HeartRate = clamp(v.HeartRate+d.HeartRate, minHeartRate, maxHeartRate)
	v.SystolicBP = clamp(v.SystolicBP+d.SystolicBP, minSystolic, maxSystolic)
	v.DiastolicBP = clamp(v.DiastolicBP+d.DiastolicBP, minDiastolic, maxDiastolic)
	v.RespiratoryRate = clamp(v.RespiratoryRate+d.RespiratoryRate, minRespRate, maxRespRate)
	v.OxygenSaturation = clamp(v.OxygenSaturation+d.OxygenSaturation, minSpO2, maxSpO2)
	v.Temperature = clamp(v.Temperature+d.Temperature, minTempC, maxTempC)
	v.PainLevel = clamp(v.PainLevel+d.PainLevel, minPain, maxPain)
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scaleDelta(d models.VitalSignDelta, factor float64) models.VitalSignDelta {
	return models.VitalSignDelta{
		HeartRate:        d.HeartRate * factor,
		SystolicBP:       d.SystolicBP * factor,
		DiastolicBP:      d.DiastolicBP * factor,
		RespiratoryRate:  d.RespiratoryRate * factor,
		OxygenSaturation: d.OxygenSaturation * factor,
		Temperature:      d.Temperature * factor,
		PainLevel:        d.PainLevel * factor,
	}
}

func addDelta(a, b models.VitalSignDelta) models.VitalSignDelta {
	return models.VitalSignDelta{
		HeartRate:        a.HeartRate + b.HeartRate,
		SystolicBP:       a.SystolicBP + b.SystolicBP,
		DiastolicBP:      a.DiastolicBP + b.DiastolicBP,
		RespiratoryRate:  a.RespiratoryRate + b.RespiratoryRate,
		OxygenSaturation: a.OxygenSaturation + b.OxygenSaturation,
		Temperature:      a.Temperature + b.Temperature,
		PainLevel:        a.PainLevel + b.PainLevel,
	}
}

// ErrInvalidSeverity is returned when a complication severity falls
// outside [0,1].
var ErrInvalidSeverity = fmt.Errorf("complication severity out of range [0,1]")
