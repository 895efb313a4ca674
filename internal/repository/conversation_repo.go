package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"medsim-backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, t *models.ConversationTurn) error {
	query := `
		INSERT INTO conversation_turns (id, session_id, asked_by, question, response,
			emotional_state, medical_accuracy, educational_value, virtual_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.pool.Exec(ctx, query,
		t.ID, t.SessionID, t.AskedBy, t.Question, t.Response,
		t.EmotionalState, t.MedicalAccuracy, t.EducationalValue, t.VirtualTime, t.CreatedAt,
	)
	return err
}

func (r *ConversationRepo) queryTurns(ctx context.Context, query string, args ...interface{}) ([]*models.ConversationTurn, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConversationTurn
	for rows.Next() {
		t := &models.ConversationTurn{}
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.AskedBy, &t.Question, &t.Response,
			&t.EmotionalState, &t.MedicalAccuracy, &t.EducationalValue,
			&t.VirtualTime, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const turnColumns = `id, session_id, asked_by, question, response,
	emotional_state, medical_accuracy, educational_value, virtual_time, created_at`

// ListRecent returns the newest turns oldest-first, ready for prompt
// context.
func (r *ConversationRepo) ListRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM (
			SELECT ` + turnColumns + ` FROM conversation_turns
			WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at`
	return r.queryTurns(ctx, query, sessionID, limit)
}

func (r *ConversationRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.ConversationTurn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversation_turns
		WHERE session_id = $1 ORDER BY created_at`
	return r.queryTurns(ctx, query, sessionID)
}
