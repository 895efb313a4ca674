package simulation

import (
	"encoding/json"
	"fmt"
	"strings"

	"medsim-backend/internal/models"
)

// DrugInfo is what the external drug-knowledge source reports for one
// medication.
type DrugInfo struct {
	Name         string
	Class        string
	MaxDose      float64
	Unit         string
	Effect       models.VitalSignDelta // per administration
	Interactions []string              // drug names with known interactions
}

// DrugSource is the external drug-knowledge collaborator consumed, not
// reproduced, by action validation.
type DrugSource interface {
	Lookup(name string) (DrugInfo, bool)
}

// ErrDrugNotFound marks a medication the knowledge source has never
// heard of; the session layer surfaces it as NotFound.
var ErrDrugNotFound = fmt.Errorf("drug not found")

// StateDelta is everything an action may change on the patient record.
// The session manager applies it under the per-session lock.
type StateDelta struct {
	VitalDelta          models.VitalSignDelta
	AddMedications      []string
	AddPhysicalFindings []string
	AddTreatment        *models.TreatmentResponse
	CompletedStep       string

	// PendingLab, when set, asks the manager to schedule a
	// lab_result_ready event LabDelayMinutes of virtual time out.
	PendingLab      *models.LabResultPayload
	LabDelayMinutes float64
}

// ActionOutcome is the processor's verdict on one clinical act.
type ActionOutcome struct {
	Success  bool
	Result   string
	Feedback string
	Delta    StateDelta
}

// Processor validates and executes discrete clinical actions. Stateless
// given its inputs; safe for concurrent use.
type Processor struct {
	drugs DrugSource
}

func NewProcessor(drugs DrugSource) *Processor {
	return &Processor{drugs: drugs}
}

// nonSkippableProcedures is the fixed denylist of procedures that block
// fast-forwarding while in progress.
var nonSkippableProcedures = map[string]bool{
	"surgery":         true,
	"intubation":      true,
	"central_line":    true,
	"cpr":             true,
	"cardioversion":   true,
	"chest_tube":      true,
}

// CanBeFastForwarded is a static classification made at action creation.
// Only the procedure denylist pins virtual time; everything else may be
// skipped over.
func CanBeFastForwarded(actionType models.ActionType, details json.RawMessage) bool {
	if actionType != models.ActionProcedure {
		return true
	}
	var d models.ProcedureDetails
	if err := json.Unmarshal(details, &d); err != nil {
		return true
	}
	return !nonSkippableProcedures[strings.ToLower(d.Name)]
}

// Process dispatches on the closed action-type set. An unknown type is a
// deliberate soft failure, not an error, so a malformed client request
// cannot abort a session. The only hard error is an unknown medication,
// which the caller reports as NotFound.
func (p *Processor) Process(
	actionType models.ActionType,
	details json.RawMessage,
	state models.PatientState,
	activeMedications []string,
) (ActionOutcome, error) {
	switch actionType {
	case models.ActionExamination:
		return p.processExamination(details, state), nil
	case models.ActionMedication:
		return p.processMedication(details, activeMedications)
	case models.ActionProcedure:
		return p.processProcedure(details, state), nil
	case models.ActionDiagnostic:
		return p.processDiagnostic(details, state), nil
	default:
		return ActionOutcome{
			Success:  false,
			Feedback: "unknown action type",
		}, nil
	}
}

func (p *Processor) processExamination(details json.RawMessage, state models.PatientState) ActionOutcome {
	var d models.ExaminationDetails
	if err := json.Unmarshal(details, &d); err != nil || d.BodySystem == "" {
		return ActionOutcome{Success: false, Feedback: "examination requires a body_system"}
	}

	var finding string
	v := state.VitalSigns
	switch d.BodySystem {
	case "cardiovascular":
		switch {
		case v.HeartRate > 120:
			finding = "Tachycardic, regular rhythm, no murmurs"
		case v.HeartRate < 50:
			finding = "Bradycardic, regular rhythm"
		default:
			finding = "Regular rate and rhythm, no murmurs or gallops"
		}
	case "respiratory":
		switch {
		case state.HasSymptom("accessory muscle use"):
			finding = "Diffuse wheeze with accessory muscle use"
		case v.RespiratoryRate > 24:
			finding = "Tachypneic with diminished breath sounds at the bases"
		default:
			finding = "Clear to auscultation bilaterally"
		}
	case "abdominal":
		if v.PainLevel >= 6 {
			finding = "Tender to palpation with voluntary guarding"
		} else {
			finding = "Soft, non-tender, normoactive bowel sounds"
		}
	case "neurological":
		finding = fmt.Sprintf("Mental status: %s; pupils equal and reactive", state.MentalStatus)
	default:
		return ActionOutcome{Success: false, Feedback: fmt.Sprintf("unsupported body system %q", d.BodySystem)}
	}

	return ActionOutcome{
		Success:  true,
		Result:   finding,
		Feedback: "Examination documented",
		Delta: StateDelta{
			AddPhysicalFindings: []string{fmt.Sprintf("%s: %s", d.BodySystem, finding)},
			CompletedStep:       "examination:" + d.BodySystem,
		},
	}
}

func (p *Processor) processMedication(details json.RawMessage, activeMedications []string) (ActionOutcome, error) {
	var d models.MedicationDetails
	if err := json.Unmarshal(details, &d); err != nil || d.Name == "" {
		return ActionOutcome{Success: false, Feedback: "medication requires a name"}, nil
	}

	name := strings.ToLower(d.Name)
	info, ok := p.drugs.Lookup(name)
	if !ok {
		return ActionOutcome{}, fmt.Errorf("%w: %s", ErrDrugNotFound, d.Name)
	}

	if d.Dose > info.MaxDose {
		return ActionOutcome{
			Success:  false,
			Result:   fmt.Sprintf("%s %.1f%s withheld", info.Name, d.Dose, info.Unit),
			Feedback: fmt.Sprintf("dose exceeds maximum of %.1f%s", info.MaxDose, info.Unit),
		}, nil
	}

	var warnings []string
	for _, active := range activeMedications {
		for _, inter := range info.Interactions {
			if strings.EqualFold(active, inter) {
				warnings = append(warnings, fmt.Sprintf("known interaction with %s", active))
			}
		}
	}

	feedback := "Medication administered"
	if len(warnings) > 0 {
		feedback = "Administered with warnings: " + strings.Join(warnings, "; ")
	}

	return ActionOutcome{
		Success:  true,
		Result:   fmt.Sprintf("%s %.1f%s given via %s", info.Name, d.Dose, info.Unit, d.Route),
		Feedback: feedback,
		Delta: StateDelta{
			VitalDelta:     info.Effect,
			AddMedications: []string{name},
			AddTreatment: &models.TreatmentResponse{
				Intervention: name,
				Response:     feedback,
			},
			CompletedStep: "medication:" + name,
		},
	}, nil
}

var procedureResults = map[string]string{
	"iv_access":     "Peripheral IV placed in the left antecubital fossa",
	"oxygen":        "Supplemental oxygen started via nasal cannula",
	"intubation":    "Endotracheal tube placed, position confirmed by capnography",
	"central_line":  "Right internal jugular central line placed under ultrasound",
	"cpr":           "Chest compressions initiated per ACLS",
	"cardioversion": "Synchronized cardioversion delivered",
	"chest_tube":    "Chest tube placed in the fifth intercostal space",
	"surgery":       "Patient transferred to the operating theatre",
}

func (p *Processor) processProcedure(details json.RawMessage, state models.PatientState) ActionOutcome {
	var d models.ProcedureDetails
	if err := json.Unmarshal(details, &d); err != nil || d.Name == "" {
		return ActionOutcome{Success: false, Feedback: "procedure requires a name"}
	}

	name := strings.ToLower(d.Name)
	result, ok := procedureResults[name]
	if !ok {
		return ActionOutcome{Success: false, Feedback: fmt.Sprintf("unsupported procedure %q", d.Name)}
	}

	delta := StateDelta{
		AddTreatment:  &models.TreatmentResponse{Intervention: name, Response: result},
		CompletedStep: "procedure:" + name,
	}
	if name == "oxygen" {
		delta.VitalDelta = models.VitalSignDelta{OxygenSaturation: 3}
		delta.AddMedications = []string{"oxygen"}
	}

	return ActionOutcome{
		Success:  true,
		Result:   result,
		Feedback: "Procedure completed",
		Delta:    delta,
	}
}

// labCatalog drives turnaround times and canned results for orderable
// tests. Bedside tests resolve immediately and are handled separately.
// Abnormal predicates read the patient state at order time so results
// track the simulated condition deterministically.
type labEntry struct {
	TurnaroundMinutes float64
	NormalValue       string
	AbnormalValue     string
	Unit              string
	AbnormalIf        func(models.PatientState) bool
}

var labCatalog = map[string]labEntry{
	"cbc": {
		TurnaroundMinutes: 20, NormalValue: "WBC 7.2", AbnormalValue: "WBC 17.8", Unit: "x10^9/L",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.Temperature >= 38.0 },
	},
	"bmp": {
		TurnaroundMinutes: 25, NormalValue: "Cr 0.9", AbnormalValue: "Cr 2.1", Unit: "mg/dL",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.SystolicBP < 90 },
	},
	"troponin": {
		TurnaroundMinutes: 30, NormalValue: "0.01", AbnormalValue: "2.35", Unit: "ng/mL",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.PainLevel >= 6 },
	},
	"lactate": {
		TurnaroundMinutes: 15, NormalValue: "1.1", AbnormalValue: "4.6", Unit: "mmol/L",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.SystolicBP < 90 },
	},
	"blood_cultures": {
		TurnaroundMinutes: 120, NormalValue: "No growth at 48h", AbnormalValue: "Gram-negative rods", Unit: "",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.Temperature >= 38.5 },
	},
	"abg": {
		TurnaroundMinutes: 10, NormalValue: "pH 7.40 pCO2 40", AbnormalValue: "pH 7.28 pCO2 55", Unit: "",
		AbnormalIf: func(s models.PatientState) bool { return s.VitalSigns.OxygenSaturation < 90 },
	},
}

func (p *Processor) processDiagnostic(details json.RawMessage, state models.PatientState) ActionOutcome {
	var d models.DiagnosticDetails
	if err := json.Unmarshal(details, &d); err != nil || d.TestName == "" {
		return ActionOutcome{Success: false, Feedback: "diagnostic requires a test_name"}
	}

	test := strings.ToLower(d.TestName)
	v := state.VitalSigns

	// Bedside diagnostics result immediately.
	switch test {
	case "ecg":
		result := "Normal sinus rhythm"
		if v.HeartRate > 120 {
			result = "Sinus tachycardia"
		} else if v.HeartRate < 50 {
			result = "Sinus bradycardia"
		}
		return ActionOutcome{
			Success: true, Result: result, Feedback: "ECG recorded",
			Delta: StateDelta{CompletedStep: "diagnostic:ecg"},
		}
	case "glucose":
		return ActionOutcome{
			Success: true, Result: "Capillary glucose 6.2 mmol/L", Feedback: "Point-of-care glucose recorded",
			Delta: StateDelta{CompletedStep: "diagnostic:glucose"},
		}
	}

	entry, ok := labCatalog[test]
	if !ok {
		return ActionOutcome{Success: false, Feedback: fmt.Sprintf("unsupported test %q", d.TestName)}
	}

	delay := entry.TurnaroundMinutes
	if d.Urgency == "stat" {
		delay = delay / 2
	}

	abnormal := entry.AbnormalIf(state)
	value := entry.NormalValue
	if abnormal {
		value = entry.AbnormalValue
	}

	return ActionOutcome{
		Success:  true,
		Result:   fmt.Sprintf("%s ordered, results expected in %.0f minutes", strings.ToUpper(test), delay),
		Feedback: "Laboratory order placed",
		Delta: StateDelta{
			CompletedStep: "diagnostic:" + test,
			PendingLab: &models.LabResultPayload{
				TestName:   test,
				Value:      value,
				Unit:       entry.Unit,
				IsAbnormal: abnormal,
			},
			LabDelayMinutes: delay,
		},
	}
}
