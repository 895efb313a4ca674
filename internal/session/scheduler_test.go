package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
)

// fakeEventStore is the in-memory EventStore used across the package's
// tests.
type fakeEventStore struct {
	events  map[uuid.UUID]*models.TimeEvent
	updates int
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[uuid.UUID]*models.TimeEvent)}
}

func (f *fakeEventStore) CreateBatch(_ context.Context, events []*models.TimeEvent) error {
	for _, ev := range events {
		cp := *ev
		f.events[ev.ID] = &cp
	}
	return nil
}

func (f *fakeEventStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.TimeEvent, error) {
	var out []*models.TimeEvent
	for _, ev := range f.events {
		if ev.SessionID == sessionID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sortByScheduled(out)
	return out, nil
}

func (f *fakeEventStore) Update(_ context.Context, ev *models.TimeEvent) error {
	f.updates++
	cp := *ev
	f.events[ev.ID] = &cp
	return nil
}

func eventAt(sessionID uuid.UUID, start time.Time, offsetMin float64, interrupts bool) *models.TimeEvent {
	return &models.TimeEvent{
		ID:                   uuid.New(),
		SessionID:            sessionID,
		EventType:            models.EventNurseNote,
		EventData:            json.RawMessage(`{}`),
		VirtualTimeScheduled: start.Add(time.Duration(offsetMin * float64(time.Minute))),
		RequiresAttention:    interrupts,
		CreatedAt:            start,
	}
}

func TestMaterialize_AnchorsOffsetsOnSessionStart(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()

	scenario := &models.Scenario{
		EventTemplates: []models.EventTemplate{
			{EventType: "lab_result_ready", OffsetMinutes: 20, EventData: json.RawMessage(`{}`)},
			{EventType: "made_up_type", OffsetMinutes: 45, EventData: json.RawMessage(`{}`), RequiresAttention: true},
		},
	}

	events := s.Materialize(scenario, sessionID, start)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].VirtualTimeScheduled.Equal(start.Add(20 * time.Minute)) {
		t.Fatalf("offset not anchored: %v", events[0].VirtualTimeScheduled)
	}
	if events[0].EventType != models.EventLabResultReady {
		t.Fatalf("unexpected type %v", events[0].EventType)
	}
	// Unknown template types survive as EventUnknown rather than being dropped.
	if events[1].EventType != models.EventUnknown {
		t.Fatalf("unknown template type should parse to EventUnknown, got %v", events[1].EventType)
	}
}

func TestDueEventsBetween_OpenClosedInterval(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()

	atStart := eventAt(sessionID, start, 0, false)   // exactly at `from`: excluded
	inside := eventAt(sessionID, start, 30, false)   // strictly inside
	atEnd := eventAt(sessionID, start, 60, false)    // exactly at `to`: included
	outside := eventAt(sessionID, start, 61, false)  // past `to`

	due := s.DueEventsBetween([]*models.TimeEvent{outside, atEnd, inside, atStart}, start, start.Add(60*time.Minute))
	if len(due) != 2 {
		t.Fatalf("expected 2 due events, got %d", len(due))
	}
	if !due[0].VirtualTimeScheduled.Equal(inside.VirtualTimeScheduled) {
		t.Fatalf("due events must be ascending")
	}
}

func TestInterruptingEventsBetween_FiltersAcknowledgedAndTriggered(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()

	pending := eventAt(sessionID, start, 20, true)

	acked := eventAt(sessionID, start, 25, true)
	ackTime := start
	acked.AcknowledgedAt = &ackTime

	fired := eventAt(sessionID, start, 30, true)
	firedAt := fired.VirtualTimeScheduled
	fired.VirtualTimeTriggered = &firedAt

	benign := eventAt(sessionID, start, 35, false)

	got := s.InterruptingEventsBetween([]*models.TimeEvent{benign, fired, acked, pending}, start, start.Add(time.Hour))
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("expected only the pending interrupting event, got %d", len(got))
	}
}

func TestInterruptingEventsBetween_DisabledChecking(t *testing.T) {
	s := NewScheduler()
	s.SetInterruptionChecking(false)
	start := time.Now()
	sessionID := uuid.New()

	got := s.InterruptingEventsBetween([]*models.TimeEvent{eventAt(sessionID, start, 10, true)}, start, start.Add(time.Hour))
	if got != nil {
		t.Fatalf("disabled checking should yield nothing, got %d", len(got))
	}
}

func TestFire_IsIdempotent(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	sess := &models.Session{ID: sessionID}

	ev := eventAt(sessionID, start, 10, false)

	fired, err := s.Fire([]*models.TimeEvent{ev}, sess, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected one fired event, got %d", len(fired))
	}
	if !ev.Triggered() {
		t.Fatalf("event should carry its trigger stamp")
	}
	if !ev.VirtualTimeTriggered.Equal(ev.VirtualTimeScheduled) {
		t.Fatalf("virtual trigger time should be the scheduled time")
	}
	firstStamp := *ev.VirtualTimeTriggered

	// Second pass over the same event is a silent no-op.
	fired, err = s.Fire([]*models.TimeEvent{ev}, sess, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("already-triggered event must not re-fire")
	}
	if !ev.VirtualTimeTriggered.Equal(firstStamp) {
		t.Fatalf("trigger stamp must not move on a repeat pass")
	}
}

func TestFire_LabResultConsequence(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	sess := &models.Session{ID: sessionID}

	payload, _ := json.Marshal(models.LabResultPayload{
		TestName: "lactate", Value: "4.6", Unit: "mmol/L", IsAbnormal: true,
	})
	ev := &models.TimeEvent{
		ID:                   uuid.New(),
		SessionID:            sessionID,
		EventType:            models.EventLabResultReady,
		EventData:            payload,
		VirtualTimeScheduled: start.Add(15 * time.Minute),
	}

	if _, err := s.Fire([]*models.TimeEvent{ev}, sess, start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.CurrentPatientState.LabResults) != 1 {
		t.Fatalf("expected one lab result on the chart")
	}
	lab := sess.CurrentPatientState.LabResults[0]
	if lab.TestName != "lactate" || !lab.IsAbnormal {
		t.Fatalf("unexpected lab result %+v", lab)
	}
	if !lab.ResultedAt.Equal(ev.VirtualTimeScheduled) {
		t.Fatalf("lab should be stamped with its scheduled virtual time")
	}
}

func TestFire_DeteriorationAppliesDeltaAndRecordsComplication(t *testing.T) {
	s := NewScheduler()
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	sess := &models.Session{
		ID: sessionID,
		CurrentPatientState: models.PatientState{
			VitalSigns: models.VitalSigns{HeartRate: 90, SystolicBP: 110, DiastolicBP: 70, RespiratoryRate: 18, OxygenSaturation: 96, Temperature: 37.5},
		},
	}

	payload, _ := json.Marshal(models.DeteriorationPayload{
		ComplicationType: "septic_shock", Severity: 1.0, Description: "BP collapsing",
	})
	ev := &models.TimeEvent{
		ID:                   uuid.New(),
		SessionID:            sessionID,
		EventType:            models.EventPatientDeterioration,
		EventData:            payload,
		VirtualTimeScheduled: start.Add(30 * time.Minute),
		IsComplication:       true,
	}

	if _, err := s.Fire([]*models.TimeEvent{ev}, sess, start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.CurrentPatientState.VitalSigns.SystolicBP != 75 {
		t.Fatalf("expected systolic 110-35=75, got %v", sess.CurrentPatientState.VitalSigns.SystolicBP)
	}
	if len(sess.ComplicationsEncountered) != 1 || sess.ComplicationsEncountered[0].Type != "septic_shock" {
		t.Fatalf("complication not recorded: %+v", sess.ComplicationsEncountered)
	}
}

func TestFire_DeteriorationWithoutTypeRecordsNothing(t *testing.T) {
	s := NewScheduler()
	sessionID := uuid.New()
	sess := &models.Session{ID: sessionID}

	ev := &models.TimeEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		EventType: models.EventPatientDeterioration,
		EventData: json.RawMessage(`{}`),
	}

	fired, err := s.Fire([]*models.TimeEvent{ev}, sess, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("event still fires even without clinical detail")
	}
	if len(sess.ComplicationsEncountered) != 0 {
		t.Fatalf("an empty payload must not log a blank complication: %+v", sess.ComplicationsEncountered)
	}
}

func TestFire_InvalidSeverityIsInputError(t *testing.T) {
	s := NewScheduler()
	sessionID := uuid.New()
	sess := &models.Session{ID: sessionID}

	payload, _ := json.Marshal(models.DeteriorationPayload{ComplicationType: "septic_shock", Severity: 2.0})
	ev := &models.TimeEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		EventType: models.EventPatientDeterioration,
		EventData: payload,
	}

	_, err := s.Fire([]*models.TimeEvent{ev}, sess, time.Now())
	if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestFire_MalformedPayloadIsSkippedNotFatal(t *testing.T) {
	s := NewScheduler()
	sessionID := uuid.New()
	sess := &models.Session{ID: sessionID}

	ev := &models.TimeEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		EventType: models.EventLabResultReady,
		EventData: json.RawMessage(`not json`),
	}

	fired, err := s.Fire([]*models.TimeEvent{ev}, sess, time.Now())
	if err != nil {
		t.Fatalf("malformed payload must not abort the skip: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("event still fires even when its consequence is skipped")
	}
	if len(sess.CurrentPatientState.LabResults) != 0 {
		t.Fatalf("no lab should be recorded from a malformed payload")
	}
}
