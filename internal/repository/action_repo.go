package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"medsim-backend/internal/models"
)

type ActionRepo struct {
	pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

func (r *ActionRepo) Create(ctx context.Context, a *models.MedicalAction) error {
	query := `
		INSERT INTO medical_actions (id, session_id, performed_by, action_type,
			action_details, status, can_be_fast_forwarded,
			real_time_started, virtual_time_started)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.SessionID, a.PerformedBy, a.ActionType,
		a.ActionDetails, a.Status, a.CanBeFastForwarded,
		a.RealTimeStarted, a.VirtualTimeStarted,
	)
	return err
}

func (r *ActionRepo) Update(ctx context.Context, a *models.MedicalAction) error {
	query := `
		UPDATE medical_actions SET
			status = $2, real_time_completed = $3, virtual_time_completed = $4,
			result = $5, success = $6, feedback = $7
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Status, a.RealTimeCompleted, a.VirtualTimeCompleted,
		a.Result, a.Success, a.Feedback,
	)
	return err
}

func (r *ActionRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.MedicalAction, error) {
	query := `
		SELECT id, session_id, performed_by, action_type, action_details, status,
			can_be_fast_forwarded, real_time_started, virtual_time_started,
			real_time_completed, virtual_time_completed, result, success, feedback
		FROM medical_actions
		WHERE session_id = $1
		ORDER BY real_time_started`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MedicalAction
	for rows.Next() {
		a := &models.MedicalAction{}
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.PerformedBy, &a.ActionType, &a.ActionDetails, &a.Status,
			&a.CanBeFastForwarded, &a.RealTimeStarted, &a.VirtualTimeStarted,
			&a.RealTimeCompleted, &a.VirtualTimeCompleted, &a.Result, &a.Success, &a.Feedback,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasBlockingInProgress reports whether any non-fast-forwardable action
// is still IN_PROGRESS for the session.
func (r *ActionRepo) HasBlockingInProgress(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM medical_actions
			WHERE session_id = $1 AND status = 'IN_PROGRESS' AND can_be_fast_forwarded = FALSE
		)`, sessionID).Scan(&exists)
	return exists, err
}
