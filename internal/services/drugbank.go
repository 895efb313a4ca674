package services

import (
	"strings"

	"medsim-backend/internal/models"
	"medsim-backend/internal/simulation"
)

// DrugBank is the drug-knowledge source behind action validation. The
// seed table stands in for an external formulary service; the
// simulation consumes it through simulation.DrugSource and never edits
// it.
type DrugBank struct {
	drugs map[string]simulation.DrugInfo
}

func NewDrugBank() *DrugBank {
	drugs := map[string]simulation.DrugInfo{
		"aspirin": {
			Name: "Aspirin", Class: "antiplatelet", MaxDose: 325, Unit: "mg",
			Effect:       models.VitalSignDelta{PainLevel: -0.5},
			Interactions: []string{"warfarin", "heparin"},
		},
		"nitroglycerin": {
			Name: "Nitroglycerin", Class: "nitrate", MaxDose: 0.8, Unit: "mg",
			Effect:       models.VitalSignDelta{SystolicBP: -10, DiastolicBP: -5, PainLevel: -2},
			Interactions: []string{"sildenafil"},
		},
		"morphine": {
			Name: "Morphine", Class: "opioid", MaxDose: 10, Unit: "mg",
			Effect:       models.VitalSignDelta{PainLevel: -4, RespiratoryRate: -2, SystolicBP: -5},
			Interactions: []string{"lorazepam"},
		},
		"albuterol": {
			Name: "Albuterol", Class: "beta-agonist", MaxDose: 5, Unit: "mg",
			Effect:       models.VitalSignDelta{RespiratoryRate: -4, OxygenSaturation: 3, HeartRate: 8},
			Interactions: []string{"propranolol"},
		},
		"corticosteroids": {
			Name: "Methylprednisolone", Class: "corticosteroid", MaxDose: 125, Unit: "mg",
			Effect: models.VitalSignDelta{RespiratoryRate: -1},
		},
		"antibiotics": {
			Name: "Piperacillin-tazobactam", Class: "antibiotic", MaxDose: 4500, Unit: "mg",
			Effect:       models.VitalSignDelta{Temperature: -0.2},
			Interactions: []string{"warfarin"},
		},
		"iv_fluids": {
			Name: "Normal saline bolus", Class: "crystalloid", MaxDose: 2000, Unit: "mL",
			Effect: models.VitalSignDelta{SystolicBP: 8, DiastolicBP: 4, HeartRate: -5},
		},
		"norepinephrine": {
			Name: "Norepinephrine", Class: "vasopressor", MaxDose: 30, Unit: "mcg/min",
			Effect: models.VitalSignDelta{SystolicBP: 15, DiastolicBP: 8, HeartRate: 5},
		},
		"lorazepam": {
			Name: "Lorazepam", Class: "benzodiazepine", MaxDose: 4, Unit: "mg",
			Effect:       models.VitalSignDelta{HeartRate: -5, RespiratoryRate: -1},
			Interactions: []string{"morphine"},
		},
		"warfarin": {
			Name: "Warfarin", Class: "anticoagulant", MaxDose: 10, Unit: "mg",
			Interactions: []string{"aspirin", "antibiotics"},
		},
	}
	return &DrugBank{drugs: drugs}
}

func (d *DrugBank) Lookup(name string) (simulation.DrugInfo, bool) {
	info, ok := d.drugs[strings.ToLower(name)]
	return info, ok
}
