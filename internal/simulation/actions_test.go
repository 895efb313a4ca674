package simulation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"medsim-backend/internal/models"
)

type fakeDrugSource struct {
	drugs map[string]DrugInfo
}

func (f *fakeDrugSource) Lookup(name string) (DrugInfo, bool) {
	d, ok := f.drugs[name]
	return d, ok
}

func testProcessor() *Processor {
	return NewProcessor(&fakeDrugSource{drugs: map[string]DrugInfo{
		"aspirin": {
			Name: "Aspirin", Class: "antiplatelet", MaxDose: 325, Unit: "mg",
			Effect:       models.VitalSignDelta{PainLevel: -1},
			Interactions: []string{"warfarin"},
		},
		"warfarin": {
			Name: "Warfarin", Class: "anticoagulant", MaxDose: 10, Unit: "mg",
		},
	}})
}

func TestProcess_UnknownActionTypeIsSoftFailure(t *testing.T) {
	p := testProcessor()

	out, err := p.Process(models.ActionUnknown, []byte(`{"whatever":true}`), models.PatientState{}, nil)
	if err != nil {
		t.Fatalf("unknown action type must not error: %v", err)
	}
	if out.Success {
		t.Fatalf("unknown action type must not succeed")
	}
	if out.Feedback != "unknown action type" {
		t.Fatalf("unexpected feedback %q", out.Feedback)
	}
}

func TestProcess_MedicationUnknownDrug(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.MedicationDetails{Name: "unobtanium", Dose: 5, Route: "IV"})

	_, err := p.Process(models.ActionMedication, details, models.PatientState{}, nil)
	if !errors.Is(err, ErrDrugNotFound) {
		t.Fatalf("expected ErrDrugNotFound, got %v", err)
	}
}

func TestProcess_MedicationOverdoseWithheld(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.MedicationDetails{Name: "aspirin", Dose: 1000, Route: "PO"})

	out, err := p.Process(models.ActionMedication, details, models.PatientState{}, nil)
	if err != nil {
		t.Fatalf("overdose is a soft failure, not an error: %v", err)
	}
	if out.Success {
		t.Fatalf("overdose must not succeed")
	}
	if !strings.Contains(out.Feedback, "exceeds maximum") {
		t.Fatalf("expected overdose feedback, got %q", out.Feedback)
	}
}

func TestProcess_MedicationInteractionWarning(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.MedicationDetails{Name: "aspirin", Dose: 100, Route: "PO"})

	out, err := p.Process(models.ActionMedication, details, models.PatientState{}, []string{"warfarin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success {
		t.Fatalf("interaction warns but still administers: %q", out.Feedback)
	}
	if !strings.Contains(out.Feedback, "warfarin") {
		t.Fatalf("expected interaction warning, got %q", out.Feedback)
	}
	if len(out.Delta.AddMedications) != 1 || out.Delta.AddMedications[0] != "aspirin" {
		t.Fatalf("expected aspirin added to active medications, got %v", out.Delta.AddMedications)
	}
}

func TestProcess_ExaminationTracksState(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.ExaminationDetails{BodySystem: "cardiovascular", Technique: "auscultation"})
	state := models.PatientState{VitalSigns: models.VitalSigns{HeartRate: 130}}

	out, err := p.Process(models.ActionExamination, details, state, nil)
	if err != nil || !out.Success {
		t.Fatalf("expected success, got err=%v feedback=%q", err, out.Feedback)
	}
	if !strings.Contains(out.Result, "Tachycardic") {
		t.Fatalf("finding should reflect tachycardia, got %q", out.Result)
	}
	if out.Delta.CompletedStep != "examination:cardiovascular" {
		t.Fatalf("unexpected completed step %q", out.Delta.CompletedStep)
	}
}

func TestProcess_DiagnosticSchedulesLab(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.DiagnosticDetails{TestName: "lactate"})
	state := models.PatientState{VitalSigns: models.VitalSigns{SystolicBP: 85}}

	out, err := p.Process(models.ActionDiagnostic, details, state, nil)
	if err != nil || !out.Success {
		t.Fatalf("expected success, got err=%v feedback=%q", err, out.Feedback)
	}
	if out.Delta.PendingLab == nil {
		t.Fatalf("expected a pending lab")
	}
	if !out.Delta.PendingLab.IsAbnormal {
		t.Fatalf("hypotensive patient should produce an abnormal lactate")
	}
	if out.Delta.LabDelayMinutes != 15 {
		t.Fatalf("expected 15 minute turnaround, got %v", out.Delta.LabDelayMinutes)
	}
}

func TestProcess_StatHalvesTurnaround(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.DiagnosticDetails{TestName: "troponin", Urgency: "stat"})

	out, err := p.Process(models.ActionDiagnostic, details, models.PatientState{}, nil)
	if err != nil || !out.Success {
		t.Fatalf("expected success, got err=%v feedback=%q", err, out.Feedback)
	}
	if out.Delta.LabDelayMinutes != 15 {
		t.Fatalf("stat troponin should take 15 minutes, got %v", out.Delta.LabDelayMinutes)
	}
}

func TestProcess_ECGResolvesImmediately(t *testing.T) {
	p := testProcessor()
	details, _ := json.Marshal(models.DiagnosticDetails{TestName: "ecg"})
	state := models.PatientState{VitalSigns: models.VitalSigns{HeartRate: 45}}

	out, err := p.Process(models.ActionDiagnostic, details, state, nil)
	if err != nil || !out.Success {
		t.Fatalf("expected success, got err=%v feedback=%q", err, out.Feedback)
	}
	if out.Delta.PendingLab != nil {
		t.Fatalf("bedside ECG must not schedule a lab event")
	}
	if out.Result != "Sinus bradycardia" {
		t.Fatalf("unexpected ECG read %q", out.Result)
	}
}

func TestCanBeFastForwarded_ProcedureDenylist(t *testing.T) {
	tests := []struct {
		actionType models.ActionType
		details    string
		want       bool
	}{
		{models.ActionExamination, `{}`, true},
		{models.ActionMedication, `{"name":"aspirin"}`, true},
		{models.ActionProcedure, `{"name":"iv_access"}`, true},
		{models.ActionProcedure, `{"name":"surgery"}`, false},
		{models.ActionProcedure, `{"name":"Intubation"}`, false},
		{models.ActionProcedure, `{"name":"cpr"}`, false},
		{models.ActionProcedure, `not json`, true},
	}

	for _, tt := range tests {
		got := CanBeFastForwarded(tt.actionType, json.RawMessage(tt.details))
		if got != tt.want {
			t.Fatalf("%s %s: expected %v, got %v", tt.actionType, tt.details, tt.want, got)
		}
	}
}
