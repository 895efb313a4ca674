package simulation

import (
	"fmt"

	"medsim-backend/internal/models"
)

// complicationTemplates maps a complication type to the vital-sign delta
// it applies at severity 1.0. Actual deltas scale linearly with
// severity, which keeps the table deterministic for grading fixtures.
var complicationTemplates = map[string]models.VitalSignDelta{
	"septic_shock": {
		HeartRate:       30,
		SystolicBP:      -35,
		DiastolicBP:     -20,
		RespiratoryRate: 8,
		Temperature:     0.8,
	},
	"arrhythmia": {
		HeartRate:  45,
		SystolicBP: -20,
	},
	"respiratory_failure": {
		RespiratoryRate:  14,
		OxygenSaturation: -15,
		HeartRate:        20,
	},
	"hemorrhage": {
		HeartRate:   35,
		SystolicBP:  -40,
		DiastolicBP: -25,
	},
	"allergic_reaction": {
		HeartRate:        25,
		SystolicBP:       -30,
		RespiratoryRate:  10,
		OxygenSaturation: -8,
	},
}

// ComplicationDelta looks up the deterministic vital-sign delta for a
// complication at the given severity. Severity outside [0,1] is an
// input error; an unknown type returns ok=false so callers can treat it
// as a no-op.
func ComplicationDelta(complicationType string, severity float64) (models.VitalSignDelta, bool, error) {
	if severity < 0 || severity > 1 {
		return models.VitalSignDelta{}, false, fmt.Errorf("%w: %v", ErrInvalidSeverity, severity)
	}
	tpl, ok := complicationTemplates[complicationType]
	if !ok {
		return models.VitalSignDelta{}, false, nil
	}
	return scaleDelta(tpl, severity), true, nil
}
