package session

import (
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
	"medsim-backend/internal/simulation"
)

// Scheduler owns the scheduled clinical events of a session: it
// materializes scenario templates, finds interrupting events inside a
// skip interval, and fires due events idempotently. It never persists
// anything itself; the manager saves fired events together with the
// session row in one transaction.
type Scheduler struct {
	// checkInterruptions can be disabled for drill scenarios where
	// skips should never be halted.
	checkInterruptions bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{checkInterruptions: true}
}

// SetInterruptionChecking toggles interrupting-event detection.
func (s *Scheduler) SetInterruptionChecking(enabled bool) {
	s.checkInterruptions = enabled
}

// Materialize expands a scenario's symbolic templates into concrete
// TimeEvents anchored onto the session's real start date.
func (s *Scheduler) Materialize(scenario *models.Scenario, sessionID uuid.UUID, sessionStart time.Time) []*models.TimeEvent {
	out := make([]*models.TimeEvent, 0, len(scenario.EventTemplates))
	for _, tpl := range scenario.EventTemplates {
		out = append(out, &models.TimeEvent{
			ID:                   uuid.New(),
			SessionID:            sessionID,
			EventType:            models.ParseEventType(tpl.EventType),
			EventData:            tpl.EventData,
			VirtualTimeScheduled: sessionStart.Add(time.Duration(tpl.OffsetMinutes * float64(time.Minute))),
			RequiresAttention:    tpl.RequiresAttention,
			IsComplication:       tpl.IsComplication,
			CreatedAt:            sessionStart,
		})
	}
	return out
}

// InterruptingEventsBetween returns unacknowledged attention-requiring
// events scheduled in (from, to], ascending. Empty when interruption
// checking is disabled.
func (s *Scheduler) InterruptingEventsBetween(events []*models.TimeEvent, from, to time.Time) []*models.TimeEvent {
	if !s.checkInterruptions {
		return nil
	}
	var out []*models.TimeEvent
	for _, ev := range events {
		if ev.Interrupting() && !ev.Triggered() && inOpenClosed(ev.VirtualTimeScheduled, from, to) {
			out = append(out, ev)
		}
	}
	sortByScheduled(out)
	return out
}

// DueEventsBetween returns all not-yet-triggered events scheduled in
// (from, to], ascending.
func (s *Scheduler) DueEventsBetween(events []*models.TimeEvent, from, to time.Time) []*models.TimeEvent {
	var out []*models.TimeEvent
	for _, ev := range events {
		if !ev.Triggered() && inOpenClosed(ev.VirtualTimeScheduled, from, to) {
			out = append(out, ev)
		}
	}
	sortByScheduled(out)
	return out
}

// Fire triggers each event at most once, stamping it and applying its
// consequences to the in-memory session. Already-triggered events are
// skipped silently; unknown event types are a no-op. The returned
// slice holds only newly-triggered events, which the caller persists
// atomically alongside the session.
func (s *Scheduler) Fire(events []*models.TimeEvent, sess *models.Session, realNow time.Time) ([]*models.TimeEvent, error) {
	var fired []*models.TimeEvent
	for _, ev := range events {
		if ev.Triggered() {
			continue
		}

		virtualAt := ev.VirtualTimeScheduled
		ev.VirtualTimeTriggered = &virtualAt
		realAt := realNow
		ev.RealTimeTriggered = &realAt

		if err := s.applyConsequence(ev, sess); err != nil {
			return fired, err
		}
		fired = append(fired, ev)
	}
	return fired, nil
}

// applyConsequence dispatches on the closed event-type set.
func (s *Scheduler) applyConsequence(ev *models.TimeEvent, sess *models.Session) error {
	switch ev.EventType {
	case models.EventLabResultReady:
		var p models.LabResultPayload
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			log.Printf("Event %s: malformed lab payload, skipping consequence", ev.ID)
			return nil
		}
		sess.CurrentPatientState.LabResults = append(sess.CurrentPatientState.LabResults, models.LabResult{
			TestName:   p.TestName,
			Value:      p.Value,
			Unit:       p.Unit,
			IsAbnormal: p.IsAbnormal,
			ResultedAt: ev.VirtualTimeScheduled,
		})

	case models.EventMedicationEffect:
		var p models.MedicationEffectPayload
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			log.Printf("Event %s: malformed medication-effect payload, skipping consequence", ev.ID)
			return nil
		}
		sess.CurrentPatientState.VitalSigns = simulation.ApplyDelta(sess.CurrentPatientState.VitalSigns, p.VitalDelta)

	case models.EventVitalChange:
		var p models.VitalChangePayload
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			log.Printf("Event %s: malformed vital-change payload, skipping consequence", ev.ID)
			return nil
		}
		sess.CurrentPatientState.VitalSigns = simulation.ApplyDelta(sess.CurrentPatientState.VitalSigns, p.VitalDelta)

	case models.EventPatientDeterioration:
		var p models.DeteriorationPayload
		if err := json.Unmarshal(ev.EventData, &p); err != nil {
			log.Printf("Event %s: malformed deterioration payload, skipping consequence", ev.ID)
			return nil
		}
		if p.ComplicationType == "" {
			log.Printf("Event %s: deterioration payload missing complication type, skipping consequence", ev.ID)
			return nil
		}
		delta, ok, err := simulation.ComplicationDelta(p.ComplicationType, p.Severity)
		if err != nil {
			return &InvalidInputError{Message: err.Error()}
		}
		if ok {
			sess.CurrentPatientState.VitalSigns = simulation.ApplyDelta(sess.CurrentPatientState.VitalSigns, delta)
		}
		sess.ComplicationsEncountered = append(sess.ComplicationsEncountered, models.Complication{
			Type:       p.ComplicationType,
			Severity:   p.Severity,
			Detail:     p.Description,
			OccurredAt: ev.VirtualTimeScheduled,
		})

	case models.EventNurseNote:
		// Informational only; the event record itself carries the note.

	default:
		// Unknown event types are tolerated, not errors.
	}
	return nil
}

func inOpenClosed(t, from, to time.Time) bool {
	return t.After(from) && !t.After(to)
}

func sortByScheduled(events []*models.TimeEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].VirtualTimeScheduled.Before(events[j].VirtualTimeScheduled)
	})
}
