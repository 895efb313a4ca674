package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
	"medsim-backend/internal/simulation"
)

// recentTurnsForContext bounds how much conversation history the
// dialogue oracle sees per question.
const recentTurnsForContext = 10

// Manager is the session lifecycle state machine. All mutating
// operations on one session id are serialized through a keyed mutex, so
// concurrent fast-forwards or actions can never corrupt clock
// advancement or double-fire events. The oracle call in
// AskPatientQuestion runs under the lock as well: sessions are
// low-fanout and correctness outweighs latency there.
type Manager struct {
	sessions  SessionStore
	events    EventStore
	actions   ActionStore
	turns     ConversationStore
	scenarios ScenarioProvider
	users     UserDirectory
	access    AccessPolicy
	oracle    PatientOracle
	publisher UpdatePublisher

	scheduler  *Scheduler
	physiology *simulation.Engine
	processor  *simulation.Processor
	assessor   *simulation.Assessor

	locks *sessionLocks
	now   func() time.Time
}

func NewManager(
	sessions SessionStore,
	events EventStore,
	actions ActionStore,
	turns ConversationStore,
	scenarios ScenarioProvider,
	users UserDirectory,
	access AccessPolicy,
	oracle PatientOracle,
	publisher UpdatePublisher,
	scheduler *Scheduler,
	physiology *simulation.Engine,
	processor *simulation.Processor,
	assessor *simulation.Assessor,
) *Manager {
	return &Manager{
		sessions:   sessions,
		events:     events,
		actions:    actions,
		turns:      turns,
		scenarios:  scenarios,
		users:      users,
		access:     access,
		oracle:     oracle,
		publisher:  publisher,
		scheduler:  scheduler,
		physiology: physiology,
		processor:  processor,
		assessor:   assessor,
		locks:      newSessionLocks(),
		now:        time.Now,
	}
}

// StartOptions carries the optional knobs of Start.
type StartOptions struct {
	SupervisorID         *uuid.UUID
	TimeAccelerationRate float64
}

// Start creates a new ACTIVE session seeded from the scenario and
// materializes its scheduled events onto the session start date.
func (m *Manager) Start(ctx context.Context, scenarioID, studentID uuid.UUID, opts StartOptions) (*models.Session, error) {
	scenario, err := m.scenarios.GetActiveScenario(ctx, scenarioID)
	if err != nil || scenario == nil {
		return nil, &NotFoundError{Message: "scenario not found or inactive"}
	}

	existing, err := m.sessions.FindActiveForStudent(ctx, studentID, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		return nil, &ConflictError{Message: "student already has an active or paused session for this scenario"}
	}

	if opts.SupervisorID != nil {
		supervisor, err := m.users.GetByID(ctx, *opts.SupervisorID)
		if err != nil || supervisor == nil || !models.IsSupervisoryRole(supervisor.Role) {
			return nil, &InvalidInputError{
				Message: "supervisor_id does not resolve to a supervisory role",
				Fields:  map[string]string{"supervisor_id": "must reference a supervisor or medical expert"},
			}
		}
	}

	now := m.now()
	clock := simulation.NewVirtualClock(opts.TimeAccelerationRate)

	state := scenario.InitialPatientState.Clone()
	if state.Version == 0 {
		state.Version = 1
	}
	state.MentalStatus = simulation.DeriveMentalStatus(state.VitalSigns)

	emotional := scenario.InitialEmotionalState
	if emotional == "" {
		emotional = models.EmotionNeutral
	}

	sess := &models.Session{
		ID:                    uuid.New(),
		ScenarioID:            scenario.ID,
		StudentID:             studentID,
		SupervisorID:          opts.SupervisorID,
		Status:                models.SessionActive,
		StartTime:             now,
		CurrentVirtualTime:    now,
		LastRealTimeUpdate:    now,
		TimeAccelerationRate:  clock.Rate,
		TimeFlowMode:          models.FlowRealTime,
		CurrentPatientState:   state,
		CurrentEmotionalState: emotional,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	events := m.scheduler.Materialize(scenario, sess.ID, now)
	if len(events) > 0 {
		if err := m.events.CreateBatch(ctx, events); err != nil {
			return nil, fmt.Errorf("materialize events: %w", err)
		}
	}

	m.publish(ctx, sess, 0)
	return sess, nil
}

// Get loads a session after consulting the access policy. Side-effect
// free and lock free; readers tolerate eventually-consistent views of
// in-flight writes.
func (m *Manager) Get(ctx context.Context, id, requesterID uuid.UUID, requesterRole string) (*models.Session, error) {
	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if !m.access.CanAccess(ctx, sess, requesterID, requesterRole) {
		return nil, &ForbiddenError{Message: "not authorized to view this session"}
	}
	return sess, nil
}

// FastForward skips virtual time forward, clipping at the first
// unacknowledged interrupting event when stopOnEvents is set.
func (m *Manager) FastForward(ctx context.Context, id uuid.UUID, virtualMinutes float64, stopOnEvents bool, requesterID uuid.UUID) (*models.FastForwardResult, error) {
	if virtualMinutes <= 0 {
		return nil, &InvalidInputError{
			Message: "virtual_minutes must be positive",
			Fields:  map[string]string{"virtual_minutes": "must be > 0"},
		}
	}

	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if !isParticipant(sess, requesterID) {
		return nil, &ForbiddenError{Message: "only the student or supervisor may advance time"}
	}
	if sess.Status != models.SessionActive {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot fast-forward a %s session", sess.Status)}
	}

	blocked, err := m.actions.HasBlockingInProgress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check in-progress actions: %w", err)
	}
	if blocked {
		return nil, &BlockedError{Message: "a non-skippable action is still in progress"}
	}

	clock := simulation.NewVirtualClock(sess.TimeAccelerationRate)
	current := sess.CurrentVirtualTime
	target := clock.Advance(current, virtualMinutes)

	allEvents, err := m.events.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	interrupted := false
	interrupting := m.scheduler.InterruptingEventsBetween(allEvents, current, target)
	if len(interrupting) > 0 && stopOnEvents {
		target = interrupting[0].VirtualTimeScheduled
		interrupted = true
		sess.TimeFlowMode = models.FlowPaused
	} else {
		sess.TimeFlowMode = models.FlowAccelerated
	}

	due := m.scheduler.DueEventsBetween(allEvents, current, target)
	realNow := m.now()
	fired, err := m.scheduler.Fire(due, sess, realNow)
	if err != nil {
		return nil, err
	}

	elapsed := target.Sub(current).Minutes()
	if err := m.recompute(ctx, sess, elapsed, target); err != nil {
		return nil, err
	}

	sess.CurrentVirtualTime = target
	sess.TotalVirtualTimeElapsed += elapsed
	sess.TotalRealTimeElapsed += clock.RealTimeFor(elapsed).Seconds()
	sess.LastRealTimeUpdate = realNow
	sess.UpdatedAt = realNow

	if err := m.sessions.UpdateWithFiredEvents(ctx, sess, fired); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.publish(ctx, sess, len(fired))
	return &models.FastForwardResult{Session: sess, EventsFired: fired, Interrupted: interrupted}, nil
}

// Pause freezes an ACTIVE session. Student only.
func (m *Manager) Pause(ctx context.Context, id, requesterID uuid.UUID) (*models.Session, error) {
	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if sess.StudentID != requesterID {
		return nil, &ForbiddenError{Message: "only the owning student may pause"}
	}
	if sess.Status != models.SessionActive {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot pause a %s session", sess.Status)}
	}

	now := m.now()
	sess.Status = models.SessionPaused
	sess.TimeFlowMode = models.FlowPaused
	sess.TotalRealTimeElapsed += now.Sub(sess.LastRealTimeUpdate).Seconds()
	sess.LastRealTimeUpdate = now
	sess.UpdatedAt = now

	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.publish(ctx, sess, 0)
	return sess, nil
}

// Resume returns a PAUSED session to real-time flow. Student only.
func (m *Manager) Resume(ctx context.Context, id, requesterID uuid.UUID) (*models.Session, error) {
	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if sess.StudentID != requesterID {
		return nil, &ForbiddenError{Message: "only the owning student may resume"}
	}
	if sess.Status != models.SessionPaused {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot resume a %s session", sess.Status)}
	}

	now := m.now()
	sess.Status = models.SessionActive
	sess.TimeFlowMode = models.FlowRealTime
	sess.LastRealTimeUpdate = now
	sess.UpdatedAt = now

	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.publish(ctx, sess, 0)
	return sess, nil
}

// AcknowledgeEvent stamps an attention-requiring event as seen so it
// stops interrupting fast-forwards. Idempotent: acknowledging an
// already-acknowledged event returns it unchanged.
func (m *Manager) AcknowledgeEvent(ctx context.Context, sessionID, eventID, requesterID uuid.UUID) (*models.TimeEvent, error) {
	release := m.locks.Acquire(sessionID)
	defer release()

	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if !isParticipant(sess, requesterID) {
		return nil, &ForbiddenError{Message: "only the student or supervisor may acknowledge events"}
	}
	if sess.Status != models.SessionActive && sess.Status != models.SessionPaused {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot acknowledge events in a %s session", sess.Status)}
	}

	events, err := m.events.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	var target *models.TimeEvent
	for _, ev := range events {
		if ev.ID == eventID {
			target = ev
			break
		}
	}
	if target == nil {
		return nil, &NotFoundError{Message: "event not found"}
	}
	if target.AcknowledgedAt != nil {
		return target, nil
	}

	now := m.now()
	target.AcknowledgedAt = &now
	if err := m.events.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("persist acknowledgment: %w", err)
	}
	return target, nil
}

// Complete finishes an ACTIVE session, runs the assessment and persists
// the final scores. Terminal: a second call gets InvalidState and the
// first assessment is never recomputed.
func (m *Manager) Complete(ctx context.Context, id, requesterID uuid.UUID) (*models.Session, error) {
	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if sess.StudentID != requesterID {
		return nil, &ForbiddenError{Message: "only the owning student may complete"}
	}
	if sess.Status != models.SessionActive {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot complete a %s session", sess.Status)}
	}

	scenario, err := m.scenarios.GetScenario(ctx, sess.ScenarioID)
	if err != nil || scenario == nil {
		return nil, &NotFoundError{Message: "scenario not found"}
	}
	actions, err := m.actions.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	turns, err := m.turns.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	events, err := m.events.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	now := m.now()
	sess.TotalRealTimeElapsed += now.Sub(sess.LastRealTimeUpdate).Seconds()
	sess.LastRealTimeUpdate = now

	result := m.assessor.Assess(simulation.SessionHistory{
		Session:  sess,
		Scenario: scenario,
		Actions:  actions,
		Turns:    turns,
		Events:   events,
	})

	sess.Status = models.SessionCompleted
	sess.TimeFlowMode = models.FlowPaused
	sess.CompetencyScores = &result
	sess.EndTime = &now
	sess.UpdatedAt = now

	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	m.publish(ctx, sess, 0)
	return sess, nil
}

// AskPatientQuestion submits a question to the dialogue oracle and
// persists the exchange. An oracle failure persists nothing.
func (m *Manager) AskPatientQuestion(ctx context.Context, id uuid.UUID, question string, requesterID uuid.UUID) (*models.AskQuestionResult, error) {
	if question == "" {
		return nil, &InvalidInputError{
			Message: "question must not be empty",
			Fields:  map[string]string{"question": "required"},
		}
	}

	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if !isParticipant(sess, requesterID) {
		return nil, &ForbiddenError{Message: "only the student or supervisor may question the patient"}
	}
	if sess.Status != models.SessionActive {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot question the patient in a %s session", sess.Status)}
	}

	scenario, err := m.scenarios.GetScenario(ctx, sess.ScenarioID)
	if err != nil || scenario == nil {
		return nil, &NotFoundError{Message: "scenario not found"}
	}
	recent, err := m.turns.ListRecent(ctx, id, recentTurnsForContext)
	if err != nil {
		return nil, fmt.Errorf("load conversation context: %w", err)
	}

	reply, err := m.oracle.GeneratePatientResponse(ctx, question, DialogueContext{
		Scenario:       scenario,
		PatientState:   sess.CurrentPatientState,
		EmotionalState: sess.CurrentEmotionalState,
		RecentTurns:    recent,
		VirtualTime:    sess.CurrentVirtualTime.Format(time.RFC3339),
	})
	if err != nil {
		return nil, &ServiceUnavailableError{Message: "patient dialogue service unavailable", Err: err}
	}

	now := m.now()
	turn := &models.ConversationTurn{
		ID:               uuid.New(),
		SessionID:        id,
		AskedBy:          requesterID,
		Question:         question,
		Response:         reply.Text,
		EmotionalState:   reply.EmotionalState,
		MedicalAccuracy:  reply.MedicalAccuracy,
		EducationalValue: reply.EducationalValue,
		VirtualTime:      sess.CurrentVirtualTime,
		CreatedAt:        now,
	}
	if err := m.turns.Create(ctx, turn); err != nil {
		return nil, fmt.Errorf("persist conversation turn: %w", err)
	}

	if reply.EmotionalState != "" {
		sess.CurrentEmotionalState = reply.EmotionalState
	}
	if reply.VitalSignChanges != nil && !reply.VitalSignChanges.IsZero() {
		sess.CurrentPatientState.VitalSigns = simulation.ApplyDelta(sess.CurrentPatientState.VitalSigns, *reply.VitalSignChanges)
		sess.CurrentPatientState.MentalStatus = simulation.DeriveMentalStatus(sess.CurrentPatientState.VitalSigns)
	}

	if events := m.followUpEvents(sess, reply.TriggeredEventTypes, now); len(events) > 0 {
		if err := m.events.CreateBatch(ctx, events); err != nil {
			return nil, fmt.Errorf("persist follow-up events: %w", err)
		}
	}

	sess.UpdatedAt = now
	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.publish(ctx, sess, 0)
	return &models.AskQuestionResult{
		TurnID:           turn.ID,
		Response:         reply.Text,
		EmotionalState:   sess.CurrentEmotionalState,
		VitalSignChanges: reply.VitalSignChanges,
	}, nil
}

// oracleFollowUpDelayMinutes is how far out oracle-declared events land
// on the virtual timeline.
const oracleFollowUpDelayMinutes = 5

// The oracle announces deterioration by type only, so the event carries
// a mild generic payload instead of an empty complication.
const defaultDeteriorationData = `{"complication_type":"clinical_decline","severity":0.3,"description":"Patient condition is worsening"}`

func (m *Manager) followUpEvents(sess *models.Session, eventTypes []string, now time.Time) []*models.TimeEvent {
	var out []*models.TimeEvent
	for _, raw := range eventTypes {
		et := models.ParseEventType(raw)
		if et == models.EventUnknown {
			continue
		}
		data := []byte(`{}`)
		if et == models.EventPatientDeterioration {
			data = []byte(defaultDeteriorationData)
		}
		out = append(out, &models.TimeEvent{
			ID:                   uuid.New(),
			SessionID:            sess.ID,
			EventType:            et,
			EventData:            data,
			VirtualTimeScheduled: sess.CurrentVirtualTime.Add(oracleFollowUpDelayMinutes * time.Minute),
			RequiresAttention:    et == models.EventPatientDeterioration,
			IsComplication:       et == models.EventPatientDeterioration,
			CreatedAt:            now,
		})
	}
	return out
}

// PerformAction validates and executes one clinical action and applies
// its state delta.
func (m *Manager) PerformAction(ctx context.Context, id uuid.UUID, req models.PerformActionRequest, requesterID uuid.UUID) (*models.PerformActionResult, error) {
	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, &NotFoundError{Message: "session not found"}
	}
	if !isParticipant(sess, requesterID) {
		return nil, &ForbiddenError{Message: "only the student or supervisor may perform actions"}
	}
	if sess.Status != models.SessionActive {
		return nil, &InvalidStateError{Message: fmt.Sprintf("cannot perform actions in a %s session", sess.Status)}
	}

	actionType := models.ParseActionType(req.ActionType)
	details := req.ActionDetails
	if len(details) == 0 {
		details = []byte(`{}`)
	}

	now := m.now()
	action := &models.MedicalAction{
		ID:                 uuid.New(),
		SessionID:          id,
		PerformedBy:        requesterID,
		ActionType:         actionType,
		ActionDetails:      details,
		Status:             models.ActionInProgress,
		CanBeFastForwarded: simulation.CanBeFastForwarded(actionType, details),
		RealTimeStarted:    now,
		VirtualTimeStarted: sess.CurrentVirtualTime,
	}
	if err := m.actions.Create(ctx, action); err != nil {
		return nil, fmt.Errorf("persist action: %w", err)
	}

	outcome, procErr := m.processor.Process(actionType, details, sess.CurrentPatientState, sess.ActiveMedications)
	if procErr != nil {
		if errors.Is(procErr, simulation.ErrDrugNotFound) {
			m.finishAction(ctx, action, sess, false, "", "unknown medication", now)
			return nil, &NotFoundError{Message: procErr.Error()}
		}
		return nil, procErr
	}

	if outcome.Success {
		m.applyActionDelta(ctx, sess, outcome.Delta, now)
	}

	m.finishAction(ctx, action, sess, outcome.Success, outcome.Result, outcome.Feedback, now)

	sess.UpdatedAt = now
	if err := m.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.publish(ctx, sess, 0)
	return &models.PerformActionResult{
		Action:       action,
		Success:      outcome.Success,
		Result:       outcome.Result,
		Feedback:     outcome.Feedback,
		PatientState: sess.CurrentPatientState,
	}, nil
}

func (m *Manager) applyActionDelta(ctx context.Context, sess *models.Session, delta simulation.StateDelta, now time.Time) {
	if !delta.VitalDelta.IsZero() {
		sess.CurrentPatientState.VitalSigns = simulation.ApplyDelta(sess.CurrentPatientState.VitalSigns, delta.VitalDelta)
		sess.CurrentPatientState.MentalStatus = simulation.DeriveMentalStatus(sess.CurrentPatientState.VitalSigns)
	}
	for _, med := range delta.AddMedications {
		if !contains(sess.ActiveMedications, med) {
			sess.ActiveMedications = append(sess.ActiveMedications, med)
		}
	}
	sess.CurrentPatientState.PhysicalFindings = append(sess.CurrentPatientState.PhysicalFindings, delta.AddPhysicalFindings...)
	if delta.AddTreatment != nil {
		tr := *delta.AddTreatment
		tr.RecordedAt = sess.CurrentVirtualTime
		sess.CurrentPatientState.TreatmentResponses = append(sess.CurrentPatientState.TreatmentResponses, tr)
	}
	if delta.CompletedStep != "" && !contains(sess.CompletedSteps, delta.CompletedStep) {
		sess.CompletedSteps = append(sess.CompletedSteps, delta.CompletedStep)
	}

	if delta.PendingLab != nil {
		payload, err := json.Marshal(delta.PendingLab)
		if err == nil {
			ev := &models.TimeEvent{
				ID:                   uuid.New(),
				SessionID:            sess.ID,
				EventType:            models.EventLabResultReady,
				EventData:            payload,
				VirtualTimeScheduled: sess.CurrentVirtualTime.Add(time.Duration(delta.LabDelayMinutes * float64(time.Minute))),
				RequiresAttention:    delta.PendingLab.IsAbnormal,
				CreatedAt:            now,
			}
			if err := m.events.CreateBatch(ctx, []*models.TimeEvent{ev}); err != nil {
				// The order itself succeeded; losing the result event is
				// reported, not fatal.
				log.Printf("schedule lab event for session %s failed: %v", sess.ID, err)
			}
		}
	}
}

func (m *Manager) finishAction(ctx context.Context, action *models.MedicalAction, sess *models.Session, success bool, result, feedback string, now time.Time) {
	action.Status = models.ActionCompleted
	action.Success = &success
	if result != "" {
		action.Result = &result
	}
	if feedback != "" {
		action.Feedback = &feedback
	}
	action.RealTimeCompleted = &now
	vt := sess.CurrentVirtualTime
	action.VirtualTimeCompleted = &vt
	if err := m.actions.Update(ctx, action); err != nil {
		log.Printf("persist action completion for session %s failed: %v", sess.ID, err)
	}
}

// AdvanceToNow moves a REAL_TIME session's virtual clock up to the
// present, firing any events that came due. Called by the background
// monitor; a no-op for paused, completed, or accelerated sessions.
func (m *Manager) AdvanceToNow(ctx context.Context, id uuid.UUID) (int, error) {
	release := m.locks.Acquire(id)
	defer release()

	sess, err := m.sessions.Get(ctx, id)
	if err != nil || sess == nil {
		return 0, &NotFoundError{Message: "session not found"}
	}
	if sess.Status != models.SessionActive || sess.TimeFlowMode != models.FlowRealTime {
		return 0, nil
	}

	now := m.now()
	elapsedReal := now.Sub(sess.LastRealTimeUpdate)
	if elapsedReal <= 0 {
		return 0, nil
	}

	clock := simulation.NewVirtualClock(sess.TimeAccelerationRate)
	virtualMinutes := clock.VirtualMinutesFor(elapsedReal)
	current := sess.CurrentVirtualTime
	target := clock.Advance(current, virtualMinutes)

	allEvents, err := m.events.ListBySession(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}

	due := m.scheduler.DueEventsBetween(allEvents, current, target)
	fired, err := m.scheduler.Fire(due, sess, now)
	if err != nil {
		return 0, err
	}

	if err := m.recompute(ctx, sess, virtualMinutes, target); err != nil {
		return 0, err
	}

	sess.CurrentVirtualTime = target
	sess.TotalVirtualTimeElapsed += virtualMinutes
	sess.TotalRealTimeElapsed += elapsedReal.Seconds()
	sess.LastRealTimeUpdate = now
	sess.UpdatedAt = now

	if err := m.sessions.UpdateWithFiredEvents(ctx, sess, fired); err != nil {
		return 0, fmt.Errorf("persist session: %w", err)
	}

	if len(fired) > 0 {
		m.publish(ctx, sess, len(fired))
	}
	return len(fired), nil
}

// recompute runs the physiology engine over the elapsed span and folds
// the outcome back into the session.
func (m *Manager) recompute(ctx context.Context, sess *models.Session, elapsedMinutes float64, at time.Time) error {
	scenario, err := m.scenarios.GetScenario(ctx, sess.ScenarioID)
	if err != nil || scenario == nil {
		return &NotFoundError{Message: "scenario not found"}
	}

	outcome := m.physiology.Recompute(
		sess.CurrentPatientState,
		elapsedMinutes,
		sess.ActiveMedications,
		scenario.DiseaseModel,
		at,
	)
	sess.CurrentPatientState = outcome.State

	for _, c := range outcome.NewComplications {
		if !hasComplication(sess.ComplicationsEncountered, c.Type) {
			sess.ComplicationsEncountered = append(sess.ComplicationsEncountered, c)
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, sess *models.Session, eventsFired int) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishSessionUpdate(ctx, models.SessionUpdate{
		SessionID:          sess.ID,
		Status:             sess.Status,
		TimeFlowMode:       sess.TimeFlowMode,
		CurrentVirtualTime: sess.CurrentVirtualTime.Format(time.RFC3339),
		VitalSigns:         sess.CurrentPatientState.VitalSigns,
		EmotionalState:     sess.CurrentEmotionalState,
		EventsFired:        eventsFired,
	})
}

func isParticipant(sess *models.Session, userID uuid.UUID) bool {
	if sess.StudentID == userID {
		return true
	}
	return sess.SupervisorID != nil && *sess.SupervisorID == userID
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasComplication(list []models.Complication, typ string) bool {
	for _, c := range list {
		if c.Type == typ {
			return true
		}
	}
	return false
}
