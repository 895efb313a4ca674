package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medsim-backend/internal/models"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) CreateBatch(ctx context.Context, events []*models.TimeEvent) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO time_events (id, session_id, event_type, event_data,
			virtual_time_scheduled, requires_attention, is_complication, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, ev := range events {
		batch.Queue(query,
			ev.ID, ev.SessionID, ev.EventType, ev.EventData,
			ev.VirtualTimeScheduled, ev.RequiresAttention, ev.IsComplication, ev.CreatedAt,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *EventRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.TimeEvent, error) {
	query := `
		SELECT id, session_id, event_type, event_data, virtual_time_scheduled,
			requires_attention, is_complication, virtual_time_triggered,
			real_time_triggered, acknowledged_at, created_at
		FROM time_events
		WHERE session_id = $1
		ORDER BY virtual_time_scheduled`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TimeEvent
	for rows.Next() {
		ev := &models.TimeEvent{}
		if err := rows.Scan(
			&ev.ID, &ev.SessionID, &ev.EventType, &ev.EventData, &ev.VirtualTimeScheduled,
			&ev.RequiresAttention, &ev.IsComplication, &ev.VirtualTimeTriggered,
			&ev.RealTimeTriggered, &ev.AcknowledgedAt, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// stampEventQuery only touches trigger and acknowledgment columns; an
// event's schedule never changes after materialization. The COALESCE
// guard keeps firing idempotent even across racing processes.
// SessionRepo reuses it to stamp fired events inside an advance
// transaction.
const stampEventQuery = `
	UPDATE time_events SET
		virtual_time_triggered = COALESCE(virtual_time_triggered, $2),
		real_time_triggered = COALESCE(real_time_triggered, $3),
		acknowledged_at = $4
	WHERE id = $1`

func (r *EventRepo) Update(ctx context.Context, ev *models.TimeEvent) error {
	_, err := r.pool.Exec(ctx, stampEventQuery, ev.ID, ev.VirtualTimeTriggered, ev.RealTimeTriggered, ev.AcknowledgedAt)
	return err
}
