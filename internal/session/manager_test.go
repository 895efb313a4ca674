package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
	"medsim-backend/internal/simulation"
)

// ─── In-memory fakes ───

type fakeSessionStore struct {
	sessions map[uuid.UUID]*models.Session
	// eventSink receives trigger stamps from UpdateWithFiredEvents,
	// mirroring the production transaction over both tables.
	eventSink *fakeEventStore
	updates   int
	failNext  bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, s *models.Session) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) Update(_ context.Context, s *models.Session) error {
	f.updates++
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

// UpdateWithFiredEvents is all-or-nothing, like the real transaction:
// on failure neither the session row nor any event stamp lands.
func (f *fakeSessionStore) UpdateWithFiredEvents(_ context.Context, s *models.Session, fired []*models.TimeEvent) error {
	if f.failNext {
		f.failNext = false
		return errors.New("storage unavailable")
	}
	f.updates++
	cp := *s
	f.sessions[s.ID] = &cp
	for _, ev := range fired {
		evc := *ev
		f.eventSink.events[ev.ID] = &evc
	}
	return nil
}

func (f *fakeSessionStore) FindActiveForStudent(_ context.Context, studentID, scenarioID uuid.UUID) (*models.Session, error) {
	for _, s := range f.sessions {
		if s.StudentID == studentID && s.ScenarioID == scenarioID &&
			(s.Status == models.SessionActive || s.Status == models.SessionPaused) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) ListActiveRealTime(_ context.Context) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range f.sessions {
		if s.Status == models.SessionActive && s.TimeFlowMode == models.FlowRealTime {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeActionStore struct {
	actions  map[uuid.UUID]*models.MedicalAction
	blocking bool
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{actions: make(map[uuid.UUID]*models.MedicalAction)}
}

func (f *fakeActionStore) Create(_ context.Context, a *models.MedicalAction) error {
	cp := *a
	f.actions[a.ID] = &cp
	return nil
}

func (f *fakeActionStore) Update(_ context.Context, a *models.MedicalAction) error {
	cp := *a
	f.actions[a.ID] = &cp
	return nil
}

func (f *fakeActionStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.MedicalAction, error) {
	var out []*models.MedicalAction
	for _, a := range f.actions {
		if a.SessionID == sessionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeActionStore) HasBlockingInProgress(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.blocking, nil
}

type fakeConversationStore struct {
	turns []*models.ConversationTurn
}

func (f *fakeConversationStore) Create(_ context.Context, t *models.ConversationTurn) error {
	cp := *t
	f.turns = append(f.turns, &cp)
	return nil
}

func (f *fakeConversationStore) ListRecent(_ context.Context, sessionID uuid.UUID, limit int) ([]*models.ConversationTurn, error) {
	all, _ := f.ListBySession(context.Background(), sessionID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (f *fakeConversationStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.ConversationTurn, error) {
	var out []*models.ConversationTurn
	for _, t := range f.turns {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeScenarioProvider struct {
	scenarios map[uuid.UUID]*models.Scenario
}

func (f *fakeScenarioProvider) GetActiveScenario(_ context.Context, id uuid.UUID) (*models.Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok || !s.IsActive {
		return nil, nil
	}
	return s, nil
}

func (f *fakeScenarioProvider) GetScenario(_ context.Context, id uuid.UUID) (*models.Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

type fakeUserDirectory struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUserDirectory) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return f.users[id], nil
}

type allowAllAccess struct{}

func (allowAllAccess) CanAccess(context.Context, *models.Session, uuid.UUID, string) bool {
	return true
}

type denyAllAccess struct{}

func (denyAllAccess) CanAccess(context.Context, *models.Session, uuid.UUID, string) bool {
	return false
}

type fakeOracle struct {
	reply *models.PatientReply
	err   error
	calls int
}

func (f *fakeOracle) GeneratePatientResponse(_ context.Context, _ string, _ DialogueContext) (*models.PatientReply, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakePublisher struct {
	updates []models.SessionUpdate
}

func (f *fakePublisher) PublishSessionUpdate(_ context.Context, u models.SessionUpdate) {
	f.updates = append(f.updates, u)
}

// ─── Test harness ───

type managerFixture struct {
	manager   *Manager
	sessions  *fakeSessionStore
	events    *fakeEventStore
	actions   *fakeActionStore
	turns     *fakeConversationStore
	scenarios *fakeScenarioProvider
	users     *fakeUserDirectory
	oracle    *fakeOracle
	publisher *fakePublisher

	scenarioID uuid.UUID
	studentID  uuid.UUID
	now        time.Time
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		sessions:   newFakeSessionStore(),
		events:     newFakeEventStore(),
		actions:    newFakeActionStore(),
		turns:      &fakeConversationStore{},
		users:      &fakeUserDirectory{users: make(map[uuid.UUID]*models.User)},
		oracle:     &fakeOracle{reply: &models.PatientReply{Text: "it hurts when I breathe", EmotionalState: models.EmotionAnxious, MedicalAccuracy: 0.8, EducationalValue: 0.7}},
		publisher:  &fakePublisher{},
		scenarioID: uuid.New(),
		studentID:  uuid.New(),
		now:        time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}

	f.scenarios = &fakeScenarioProvider{scenarios: map[uuid.UUID]*models.Scenario{
		f.scenarioID: {
			ID:           f.scenarioID,
			Title:        "Sepsis in the ED",
			DiseaseModel: "sepsis",
			InitialPatientState: models.PatientState{
				Version: 1,
				VitalSigns: models.VitalSigns{
					HeartRate: 105, SystolicBP: 100, DiastolicBP: 65,
					RespiratoryRate: 22, OxygenSaturation: 94, Temperature: 38.6, PainLevel: 4,
				},
			},
			InitialEmotionalState:   models.EmotionAnxious,
			ExpectedDurationMinutes: 60,
			IsActive:                true,
		},
	}}

	f.sessions.eventSink = f.events

	drugs := simulation.NewProcessor(staticDrugs{})
	registry := simulation.NewModelRegistry()
	f.manager = NewManager(
		f.sessions, f.events, f.actions, f.turns, f.scenarios, f.users,
		allowAllAccess{}, f.oracle, f.publisher,
		NewScheduler(),
		simulation.NewEngine(registry),
		drugs,
		simulation.NewAssessor(),
	)
	f.manager.now = func() time.Time { return f.now }
	return f
}

type staticDrugs struct{}

func (staticDrugs) Lookup(name string) (simulation.DrugInfo, bool) {
	if name == "aspirin" {
		return simulation.DrugInfo{Name: "Aspirin", MaxDose: 325, Unit: "mg"}, true
	}
	return simulation.DrugInfo{}, false
}

func (f *managerFixture) startSession(t *testing.T) *models.Session {
	t.Helper()
	sess, err := f.manager.Start(context.Background(), f.scenarioID, f.studentID, StartOptions{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess
}

func (f *managerFixture) addScheduledEvent(t *testing.T, sess *models.Session, offsetMin float64, interrupts bool) *models.TimeEvent {
	t.Helper()
	ev := &models.TimeEvent{
		ID:                   uuid.New(),
		SessionID:            sess.ID,
		EventType:            models.EventNurseNote,
		EventData:            json.RawMessage(`{}`),
		VirtualTimeScheduled: sess.StartTime.Add(time.Duration(offsetMin * float64(time.Minute))),
		RequiresAttention:    interrupts,
		CreatedAt:            sess.StartTime,
	}
	if err := f.events.CreateBatch(context.Background(), []*models.TimeEvent{ev}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return ev
}

// ─── Start ───

func TestStart_SeedsStateAndMaterializesEvents(t *testing.T) {
	f := newManagerFixture(t)
	f.scenarios.scenarios[f.scenarioID].EventTemplates = []models.EventTemplate{
		{EventType: "nurse_note", OffsetMinutes: 20, EventData: json.RawMessage(`{}`)},
		{EventType: "patient_deterioration", OffsetMinutes: 45, EventData: json.RawMessage(`{"complication_type":"septic_shock","severity":0.8}`), RequiresAttention: true, IsComplication: true},
	}

	sess := f.startSession(t)

	if sess.Status != models.SessionActive || sess.TimeFlowMode != models.FlowRealTime {
		t.Fatalf("new session should be ACTIVE/REAL_TIME, got %s/%s", sess.Status, sess.TimeFlowMode)
	}
	if !sess.CurrentVirtualTime.Equal(sess.StartTime) {
		t.Fatalf("virtual clock should start at session start")
	}
	if sess.TimeAccelerationRate != simulation.DefaultAccelerationRate {
		t.Fatalf("missing rate should default to %v", simulation.DefaultAccelerationRate)
	}
	if sess.CurrentPatientState.MentalStatus != "Alert" {
		t.Fatalf("mental status should be derived at start, got %q", sess.CurrentPatientState.MentalStatus)
	}

	events, _ := f.events.ListBySession(context.Background(), sess.ID)
	if len(events) != 2 {
		t.Fatalf("expected 2 materialized events, got %d", len(events))
	}
	if !events[0].VirtualTimeScheduled.Equal(sess.StartTime.Add(20 * time.Minute)) {
		t.Fatalf("event offset not anchored on session start")
	}
}

func TestStart_UnknownScenarioIsNotFound(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Start(context.Background(), uuid.New(), f.studentID, StartOptions{})
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestStart_DuplicateActiveSessionConflicts(t *testing.T) {
	f := newManagerFixture(t)
	f.startSession(t)

	_, err := f.manager.Start(context.Background(), f.scenarioID, f.studentID, StartOptions{})
	if _, ok := err.(*ConflictError); !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestStart_NonSupervisorySupervisorRejected(t *testing.T) {
	f := newManagerFixture(t)
	peer := uuid.New()
	f.users.users[peer] = &models.User{ID: peer, Role: models.RoleStudent}

	_, err := f.manager.Start(context.Background(), f.scenarioID, f.studentID, StartOptions{SupervisorID: &peer})
	var inputErr *InvalidInputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if inputErr.Fields["supervisor_id"] == "" {
		t.Fatalf("expected a field-level message for supervisor_id")
	}
}

// ─── Get ───

func TestGet_AccessDenied(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	f.manager.access = denyAllAccess{}
	_, err := f.manager.Get(context.Background(), sess.ID, uuid.New(), models.RoleStudent)
	if _, ok := err.(*ForbiddenError); !ok {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

// ─── FastForward ───

func TestFastForward_AdvancesBothClocks(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	res, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, f.studentID)
	if err != nil {
		t.Fatalf("fast-forward: %v", err)
	}

	got := res.Session
	if !got.CurrentVirtualTime.Equal(sess.StartTime.Add(30 * time.Minute)) {
		t.Fatalf("virtual clock should land at +30min, got %v", got.CurrentVirtualTime)
	}
	if got.TotalVirtualTimeElapsed != 30 {
		t.Fatalf("expected 30 virtual minutes elapsed, got %v", got.TotalVirtualTimeElapsed)
	}
	// Rate 1: 30 virtual minutes cost 1800 real seconds.
	if got.TotalRealTimeElapsed != 1800 {
		t.Fatalf("expected 1800 real seconds charged, got %v", got.TotalRealTimeElapsed)
	}
	if res.Interrupted {
		t.Fatalf("no interrupting events were scheduled")
	}
	if got.TimeFlowMode != models.FlowAccelerated {
		t.Fatalf("uninterrupted skip should leave the session ACCELERATED, got %s", got.TimeFlowMode)
	}
}

func TestFastForward_ClipsAtFirstInterruptingEvent(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	interrupting := f.addScheduledEvent(t, sess, 20, true)
	f.addScheduledEvent(t, sess, 40, true) // beyond the clip, must stay pending

	res, err := f.manager.FastForward(context.Background(), sess.ID, 60, true, f.studentID)
	if err != nil {
		t.Fatalf("fast-forward: %v", err)
	}

	if !res.Interrupted {
		t.Fatalf("skip should report interruption")
	}
	if !res.Session.CurrentVirtualTime.Equal(interrupting.VirtualTimeScheduled) {
		t.Fatalf("clock should clip at the event: %v vs %v", res.Session.CurrentVirtualTime, interrupting.VirtualTimeScheduled)
	}
	if res.Session.TimeFlowMode != models.FlowPaused {
		t.Fatalf("interrupted skip should pause flow, got %s", res.Session.TimeFlowMode)
	}
	if len(res.EventsFired) != 1 || res.EventsFired[0].ID != interrupting.ID {
		t.Fatalf("exactly the clipping event should fire, got %d", len(res.EventsFired))
	}

	// The later event is untouched.
	all, _ := f.events.ListBySession(context.Background(), sess.ID)
	for _, ev := range all {
		if ev.ID != interrupting.ID && ev.Triggered() {
			t.Fatalf("event past the clip must not fire")
		}
	}
}

func TestFastForward_StopOnEventsDisabledSkipsThrough(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.addScheduledEvent(t, sess, 20, true)
	f.addScheduledEvent(t, sess, 40, true)

	res, err := f.manager.FastForward(context.Background(), sess.ID, 60, false, f.studentID)
	if err != nil {
		t.Fatalf("fast-forward: %v", err)
	}
	if res.Interrupted {
		t.Fatalf("stop_on_events=false must not clip")
	}
	if !res.Session.CurrentVirtualTime.Equal(sess.StartTime.Add(60 * time.Minute)) {
		t.Fatalf("clock should reach the full target")
	}
	if len(res.EventsFired) != 2 {
		t.Fatalf("both events should fire in order, got %d", len(res.EventsFired))
	}
}

func TestFastForward_NonPositiveMinutesRejected(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	for _, vm := range []float64{0, -5} {
		_, err := f.manager.FastForward(context.Background(), sess.ID, vm, true, f.studentID)
		if _, ok := err.(*InvalidInputError); !ok {
			t.Fatalf("virtual_minutes=%v: expected InvalidInputError, got %v", vm, err)
		}
	}
}

func TestFastForward_BlockedByNonSkippableAction(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.actions.blocking = true

	_, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, f.studentID)
	if _, ok := err.(*BlockedError); !ok {
		t.Fatalf("expected BlockedError, got %v", err)
	}

	// Clocks untouched.
	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	if !stored.CurrentVirtualTime.Equal(sess.CurrentVirtualTime) {
		t.Fatalf("blocked skip must not advance the virtual clock")
	}
	if stored.TotalVirtualTimeElapsed != 0 {
		t.Fatalf("blocked skip must not charge elapsed time")
	}
}

func TestFastForward_NonParticipantForbidden(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	_, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, uuid.New())
	if _, ok := err.(*ForbiddenError); !ok {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestFastForward_PausedSessionIsInvalidState(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	if _, err := f.manager.Pause(context.Background(), sess.ID, f.studentID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, f.studentID)
	if _, ok := err.(*InvalidStateError); !ok {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestFastForward_FailedSaveLeavesEventsUnfired(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	payload, _ := json.Marshal(models.LabResultPayload{
		TestName: "lactate", Value: "4.6", Unit: "mmol/L", IsAbnormal: true,
	})
	ev := &models.TimeEvent{
		ID:                   uuid.New(),
		SessionID:            sess.ID,
		EventType:            models.EventLabResultReady,
		EventData:            payload,
		VirtualTimeScheduled: sess.StartTime.Add(10 * time.Minute),
		CreatedAt:            sess.StartTime,
	}
	if err := f.events.CreateBatch(context.Background(), []*models.TimeEvent{ev}); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	f.sessions.failNext = true
	if _, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, f.studentID); err == nil {
		t.Fatalf("expected the failed save to surface")
	}

	// The trigger stamp must roll back with the session row, or the
	// lab result would be lost forever.
	stored := f.events.events[ev.ID]
	if stored.Triggered() {
		t.Fatalf("event stamped triggered despite failed save")
	}

	res, err := f.manager.FastForward(context.Background(), sess.ID, 30, true, f.studentID)
	if err != nil {
		t.Fatalf("retried fast-forward: %v", err)
	}
	if len(res.EventsFired) != 1 {
		t.Fatalf("retry should re-fire the event, got %d", len(res.EventsFired))
	}
	got, _ := f.sessions.Get(context.Background(), sess.ID)
	if len(got.CurrentPatientState.LabResults) != 1 || got.CurrentPatientState.LabResults[0].TestName != "lactate" {
		t.Fatalf("retry should deliver the lab result: %+v", got.CurrentPatientState.LabResults)
	}
	if !f.events.events[ev.ID].Triggered() {
		t.Fatalf("retry should stamp the event")
	}
}

// ─── Pause / Resume ───

func TestPauseResume_StateMachine(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	paused, err := f.manager.Pause(context.Background(), sess.ID, f.studentID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != models.SessionPaused || paused.TimeFlowMode != models.FlowPaused {
		t.Fatalf("expected PAUSED/PAUSED, got %s/%s", paused.Status, paused.TimeFlowMode)
	}

	// Pausing again is an invalid transition.
	if _, err := f.manager.Pause(context.Background(), sess.ID, f.studentID); err == nil {
		t.Fatalf("double pause should fail")
	}

	f.now = f.now.Add(10 * time.Minute)
	resumed, err := f.manager.Resume(context.Background(), sess.ID, f.studentID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != models.SessionActive || resumed.TimeFlowMode != models.FlowRealTime {
		t.Fatalf("expected ACTIVE/REAL_TIME, got %s/%s", resumed.Status, resumed.TimeFlowMode)
	}
	// The anchor resets so paused wall time never converts to virtual time.
	if !resumed.LastRealTimeUpdate.Equal(f.now) {
		t.Fatalf("resume must reset the real-time anchor")
	}

	// Resuming an active session is an invalid transition.
	if _, err := f.manager.Resume(context.Background(), sess.ID, f.studentID); err == nil {
		t.Fatalf("double resume should fail")
	}
}

func TestPause_OnlyStudentMayPause(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	_, err := f.manager.Pause(context.Background(), sess.ID, uuid.New())
	if _, ok := err.(*ForbiddenError); !ok {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

// ─── AcknowledgeEvent ───

func TestAcknowledgeEvent_StopsEventInterrupting(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	ev := f.addScheduledEvent(t, sess, 20, true)

	got, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, ev.ID, f.studentID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(f.now) {
		t.Fatalf("acknowledgment not stamped: %+v", got.AcknowledgedAt)
	}
	if stored := f.events.events[ev.ID]; stored.AcknowledgedAt == nil {
		t.Fatalf("acknowledgment not persisted")
	}

	// An acknowledged event no longer clips a skip; it just fires in
	// passing.
	res, err := f.manager.FastForward(context.Background(), sess.ID, 60, true, f.studentID)
	if err != nil {
		t.Fatalf("fast-forward: %v", err)
	}
	if res.Interrupted {
		t.Fatalf("acknowledged event must not interrupt")
	}
	if !res.Session.CurrentVirtualTime.Equal(sess.StartTime.Add(60 * time.Minute)) {
		t.Fatalf("clock should reach the full target")
	}
	if len(res.EventsFired) != 1 {
		t.Fatalf("acknowledged event should still fire as due, got %d", len(res.EventsFired))
	}
}

func TestAcknowledgeEvent_IsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	ev := f.addScheduledEvent(t, sess, 20, true)

	first, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, ev.ID, f.studentID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	f.now = f.now.Add(5 * time.Minute)
	second, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, ev.ID, f.studentID)
	if err != nil {
		t.Fatalf("repeat acknowledge: %v", err)
	}
	if !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatalf("repeat acknowledge must not move the stamp")
	}
	if f.events.updates != 1 {
		t.Fatalf("expected exactly one persisted update, got %d", f.events.updates)
	}
}

func TestAcknowledgeEvent_Errors(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	ev := f.addScheduledEvent(t, sess, 20, true)

	if _, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, ev.ID, uuid.New()); err != nil {
		if _, ok := err.(*ForbiddenError); !ok {
			t.Fatalf("expected ForbiddenError, got %v", err)
		}
	} else {
		t.Fatalf("non-participant should be rejected")
	}

	if _, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, uuid.New(), f.studentID); err != nil {
		if _, ok := err.(*NotFoundError); !ok {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	} else {
		t.Fatalf("unknown event should be rejected")
	}

	if _, err := f.manager.Complete(context.Background(), sess.ID, f.studentID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.manager.AcknowledgeEvent(context.Background(), sess.ID, ev.ID, f.studentID); err != nil {
		if _, ok := err.(*InvalidStateError); !ok {
			t.Fatalf("expected InvalidStateError, got %v", err)
		}
	} else {
		t.Fatalf("completed session should reject acknowledgment")
	}
}

// ─── Complete ───

func TestComplete_AssessesAndIsTerminal(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	done, err := f.manager.Complete(context.Background(), sess.ID, f.studentID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.SessionCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
	if done.CompetencyScores == nil {
		t.Fatalf("completion must attach assessment scores")
	}
	if done.EndTime == nil || !done.EndTime.Equal(f.now) {
		t.Fatalf("completion must stamp the end time")
	}

	firstScores := *done.CompetencyScores

	// Second completion is rejected and the first assessment survives.
	_, err = f.manager.Complete(context.Background(), sess.ID, f.studentID)
	if _, ok := err.(*InvalidStateError); !ok {
		t.Fatalf("expected InvalidStateError on repeat complete, got %v", err)
	}
	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	if stored.CompetencyScores.Overall != firstScores.Overall {
		t.Fatalf("repeat complete must not recompute scores")
	}
}

// ─── AskPatientQuestion ───

func TestAskPatientQuestion_PersistsTurnAndAppliesReply(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.oracle.reply.VitalSignChanges = &models.VitalSignDelta{HeartRate: 5}

	res, err := f.manager.AskPatientQuestion(context.Background(), sess.ID, "where does it hurt?", f.studentID)
	if err != nil {
		t.Fatalf("ask question: %v", err)
	}
	if res.Response != "it hurts when I breathe" {
		t.Fatalf("unexpected response %q", res.Response)
	}
	if res.EmotionalState != models.EmotionAnxious {
		t.Fatalf("emotional state should follow the reply, got %s", res.EmotionalState)
	}

	if len(f.turns.turns) != 1 {
		t.Fatalf("expected one persisted turn, got %d", len(f.turns.turns))
	}
	turn := f.turns.turns[0]
	if turn.Question != "where does it hurt?" || turn.MedicalAccuracy != 0.8 {
		t.Fatalf("unexpected turn %+v", turn)
	}

	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	if stored.CurrentPatientState.VitalSigns.HeartRate != sess.CurrentPatientState.VitalSigns.HeartRate+5 {
		t.Fatalf("reply delta not applied: %v", stored.CurrentPatientState.VitalSigns.HeartRate)
	}
}

func TestAskPatientQuestion_OracleFailurePersistsNothing(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.oracle.err = fmt.Errorf("model overloaded")
	updatesBefore := f.sessions.updates

	_, err := f.manager.AskPatientQuestion(context.Background(), sess.ID, "how are you?", f.studentID)
	var unavailable *ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ServiceUnavailableError, got %v", err)
	}
	if !errors.Is(err, f.oracle.err) {
		t.Fatalf("cause should be wrapped")
	}

	if len(f.turns.turns) != 0 {
		t.Fatalf("failed oracle call must not persist a turn")
	}
	if f.sessions.updates != updatesBefore {
		t.Fatalf("failed oracle call must not write the session")
	}
}

func TestAskPatientQuestion_EmptyQuestionRejected(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	_, err := f.manager.AskPatientQuestion(context.Background(), sess.ID, "", f.studentID)
	if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if f.oracle.calls != 0 {
		t.Fatalf("empty question must not reach the oracle")
	}
}

func TestAskPatientQuestion_CompletedSessionIsInvalidState(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	if _, err := f.manager.Complete(context.Background(), sess.ID, f.studentID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.manager.AskPatientQuestion(context.Background(), sess.ID, "still with me?", f.studentID)
	if _, ok := err.(*InvalidStateError); !ok {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestAskPatientQuestion_TriggeredEventTypesScheduleFollowUps(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.oracle.reply.TriggeredEventTypes = []string{"patient_deterioration", "bogus_type"}

	if _, err := f.manager.AskPatientQuestion(context.Background(), sess.ID, "can you sit up?", f.studentID); err != nil {
		t.Fatalf("ask question: %v", err)
	}

	events, _ := f.events.ListBySession(context.Background(), sess.ID)
	if len(events) != 1 {
		t.Fatalf("only the recognized type should schedule an event, got %d", len(events))
	}
	if events[0].EventType != models.EventPatientDeterioration || !events[0].RequiresAttention {
		t.Fatalf("deterioration follow-up should require attention: %+v", events[0])
	}

	// The payload must carry enough detail to fire as a real
	// complication, not a blank one.
	var p models.DeteriorationPayload
	if err := json.Unmarshal(events[0].EventData, &p); err != nil {
		t.Fatalf("decode follow-up payload: %v", err)
	}
	if p.ComplicationType == "" || p.Severity <= 0 {
		t.Fatalf("follow-up payload should describe a complication: %+v", p)
	}
}

// ─── PerformAction ───

func TestPerformAction_MedicationHappyPath(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	details, _ := json.Marshal(models.MedicationDetails{Name: "aspirin", Dose: 100, Route: "PO"})
	res, err := f.manager.PerformAction(context.Background(), sess.ID, models.PerformActionRequest{
		ActionType:    "medication",
		ActionDetails: details,
	}, f.studentID)
	if err != nil {
		t.Fatalf("perform action: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got feedback %q", res.Feedback)
	}
	if res.Action.Status != models.ActionCompleted {
		t.Fatalf("action should be COMPLETED, got %s", res.Action.Status)
	}

	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	found := false
	for _, med := range stored.ActiveMedications {
		if med == "aspirin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("aspirin should join active medications: %v", stored.ActiveMedications)
	}
}

func TestPerformAction_UnknownDrugIsNotFound(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	details, _ := json.Marshal(models.MedicationDetails{Name: "unobtanium", Dose: 1, Route: "IV"})
	_, err := f.manager.PerformAction(context.Background(), sess.ID, models.PerformActionRequest{
		ActionType:    "medication",
		ActionDetails: details,
	}, f.studentID)
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	// The attempt is still recorded, marked failed.
	actions, _ := f.actions.ListBySession(context.Background(), sess.ID)
	if len(actions) != 1 {
		t.Fatalf("expected the failed attempt on record, got %d", len(actions))
	}
	if actions[0].Success == nil || *actions[0].Success {
		t.Fatalf("failed attempt should be marked unsuccessful")
	}
}

func TestPerformAction_UnknownTypeCompletesAsFailure(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	res, err := f.manager.PerformAction(context.Background(), sess.ID, models.PerformActionRequest{
		ActionType:    "teleportation",
		ActionDetails: json.RawMessage(`{}`),
	}, f.studentID)
	if err != nil {
		t.Fatalf("unknown type is a soft failure, not an error: %v", err)
	}
	if res.Success {
		t.Fatalf("unknown type must not succeed")
	}
	if res.Action.ActionType != models.ActionUnknown {
		t.Fatalf("type should parse to unknown, got %s", res.Action.ActionType)
	}
	if res.Action.Status != models.ActionCompleted {
		t.Fatalf("soft failure still completes the action record, got %s", res.Action.Status)
	}
}

func TestPerformAction_DiagnosticSchedulesLabEvent(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)

	details, _ := json.Marshal(models.DiagnosticDetails{TestName: "lactate"})
	res, err := f.manager.PerformAction(context.Background(), sess.ID, models.PerformActionRequest{
		ActionType:    "diagnostic",
		ActionDetails: details,
	}, f.studentID)
	if err != nil || !res.Success {
		t.Fatalf("order lactate: err=%v feedback=%q", err, res.Feedback)
	}

	events, _ := f.events.ListBySession(context.Background(), sess.ID)
	if len(events) != 1 || events[0].EventType != models.EventLabResultReady {
		t.Fatalf("expected one lab_result_ready event, got %d", len(events))
	}
	if !events[0].VirtualTimeScheduled.Equal(sess.CurrentVirtualTime.Add(15 * time.Minute)) {
		t.Fatalf("lab should land 15 virtual minutes out, got %v", events[0].VirtualTimeScheduled)
	}

	// Skipping past the turnaround delivers the result.
	ffRes, err := f.manager.FastForward(context.Background(), sess.ID, 30, false, f.studentID)
	if err != nil {
		t.Fatalf("fast-forward: %v", err)
	}
	if len(ffRes.Session.CurrentPatientState.LabResults) != 1 {
		t.Fatalf("lab result should be on the chart after the skip")
	}
}

// ─── AdvanceToNow ───

func TestAdvanceToNow_MovesRealTimeSession(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	f.addScheduledEvent(t, sess, 5, false)

	f.now = f.now.Add(10 * time.Minute)
	fired, err := f.manager.AdvanceToNow(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if fired != 1 {
		t.Fatalf("the due event should fire, got %d", fired)
	}

	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	if !stored.CurrentVirtualTime.Equal(sess.StartTime.Add(10 * time.Minute)) {
		t.Fatalf("rate-1 session should track wall time, got %v", stored.CurrentVirtualTime)
	}
}

func TestAdvanceToNow_NoOpForPausedAndAccelerated(t *testing.T) {
	f := newManagerFixture(t)
	sess := f.startSession(t)
	if _, err := f.manager.Pause(context.Background(), sess.ID, f.studentID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	fired, err := f.manager.AdvanceToNow(context.Background(), sess.ID)
	if err != nil || fired != 0 {
		t.Fatalf("paused session must be a no-op: fired=%d err=%v", fired, err)
	}

	stored, _ := f.sessions.Get(context.Background(), sess.ID)
	if !stored.CurrentVirtualTime.Equal(sess.CurrentVirtualTime) {
		t.Fatalf("paused session clock must not move")
	}
}
