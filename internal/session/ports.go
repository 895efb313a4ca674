package session

import (
	"context"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
)

// Repository collaborators. The pgx implementations live in
// internal/repository; tests use in-memory fakes. Writes are assumed to
// be guarded by the manager's per-session lock, so no optimistic
// concurrency is required of implementations.

type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	// UpdateWithFiredEvents persists the session row and the trigger
	// stamps of fired in one transaction: an event must never end up
	// marked triggered while the consequence it wrote into the session
	// was lost.
	UpdateWithFiredEvents(ctx context.Context, s *models.Session, fired []*models.TimeEvent) error
	FindActiveForStudent(ctx context.Context, studentID, scenarioID uuid.UUID) (*models.Session, error)
	ListActiveRealTime(ctx context.Context) ([]*models.Session, error)
}

type EventStore interface {
	CreateBatch(ctx context.Context, events []*models.TimeEvent) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.TimeEvent, error)
	Update(ctx context.Context, ev *models.TimeEvent) error
}

type ActionStore interface {
	Create(ctx context.Context, a *models.MedicalAction) error
	Update(ctx context.Context, a *models.MedicalAction) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.MedicalAction, error)
	HasBlockingInProgress(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type ConversationStore interface {
	Create(ctx context.Context, t *models.ConversationTurn) error
	ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ConversationTurn, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.ConversationTurn, error)
}

// ScenarioProvider supplies immutable scenario templates. Start uses
// GetActiveScenario; mid-session reads use GetScenario so a scenario
// retired after launch keeps serving its running sessions.
type ScenarioProvider interface {
	GetActiveScenario(ctx context.Context, id uuid.UUID) (*models.Scenario, error)
	GetScenario(ctx context.Context, id uuid.UUID) (*models.Scenario, error)
}

// UserDirectory resolves users for supervisor validation.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AccessPolicy is the external access predicate consumed by Get.
type AccessPolicy interface {
	CanAccess(ctx context.Context, s *models.Session, userID uuid.UUID, role string) bool
}

// DialogueContext is what the oracle sees when answering a question.
type DialogueContext struct {
	Scenario       *models.Scenario
	PatientState   models.PatientState
	EmotionalState models.EmotionalState
	RecentTurns    []*models.ConversationTurn
	VirtualTime    string
}

// PatientOracle is the external text-generation collaborator. Failures
// must surface without partial persistence.
type PatientOracle interface {
	GeneratePatientResponse(ctx context.Context, question string, dctx DialogueContext) (*models.PatientReply, error)
}

// UpdatePublisher pushes live session updates to observers. A nil
// publisher is valid and disables publishing.
type UpdatePublisher interface {
	PublishSessionUpdate(ctx context.Context, update models.SessionUpdate)
}
