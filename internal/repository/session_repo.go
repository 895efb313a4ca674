package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"medsim-backend/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, scenario_id, student_id, supervisor_id, status,
	start_time, end_time, current_virtual_time, last_real_time_update,
	total_real_time_elapsed, total_virtual_time_elapsed,
	time_acceleration_rate, time_flow_mode,
	patient_state, emotional_state, complications, active_medications,
	completed_steps, competency_scores, created_at, updated_at`

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) error {
	state, err := json.Marshal(s.CurrentPatientState)
	if err != nil {
		return fmt.Errorf("encode patient state: %w", err)
	}
	complications, err := json.Marshal(s.ComplicationsEncountered)
	if err != nil {
		return fmt.Errorf("encode complications: %w", err)
	}

	query := `
		INSERT INTO sessions (id, scenario_id, student_id, supervisor_id, status,
			start_time, current_virtual_time, last_real_time_update,
			total_real_time_elapsed, total_virtual_time_elapsed,
			time_acceleration_rate, time_flow_mode,
			patient_state, emotional_state, complications,
			active_medications, completed_steps, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	_, err = r.pool.Exec(ctx, query,
		s.ID, s.ScenarioID, s.StudentID, s.SupervisorID, s.Status,
		s.StartTime, s.CurrentVirtualTime, s.LastRealTimeUpdate,
		s.TotalRealTimeElapsed, s.TotalVirtualTimeElapsed,
		s.TimeAccelerationRate, s.TimeFlowMode,
		state, s.CurrentEmotionalState, complications,
		s.ActiveMedications, s.CompletedSteps, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SessionRepo) scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	var state, complications, scores []byte
	err := row.Scan(
		&s.ID, &s.ScenarioID, &s.StudentID, &s.SupervisorID, &s.Status,
		&s.StartTime, &s.EndTime, &s.CurrentVirtualTime, &s.LastRealTimeUpdate,
		&s.TotalRealTimeElapsed, &s.TotalVirtualTimeElapsed,
		&s.TimeAccelerationRate, &s.TimeFlowMode,
		&state, &s.CurrentEmotionalState, &complications, &s.ActiveMedications,
		&s.CompletedSteps, &scores, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &s.CurrentPatientState); err != nil {
		return nil, fmt.Errorf("decode patient state: %w", err)
	}
	if len(complications) > 0 {
		if err := json.Unmarshal(complications, &s.ComplicationsEncountered); err != nil {
			return nil, fmt.Errorf("decode complications: %w", err)
		}
	}
	if len(scores) > 0 {
		s.CompetencyScores = &models.AssessmentResult{}
		if err := json.Unmarshal(scores, s.CompetencyScores); err != nil {
			return nil, fmt.Errorf("decode competency scores: %w", err)
		}
	}
	return s, nil
}

func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := r.scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *SessionRepo) Update(ctx context.Context, s *models.Session) error {
	return r.update(ctx, r.pool, s)
}

// UpdateWithFiredEvents writes the session row and stamps the fired
// events inside one transaction, so a failure rolls both back and a
// later retry can re-fire the events with their consequences intact.
func (r *SessionRepo) UpdateWithFiredEvents(ctx context.Context, s *models.Session, fired []*models.TimeEvent) error {
	if len(fired) == 0 {
		return r.update(ctx, r.pool, s)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.update(ctx, tx, s); err != nil {
		return err
	}
	for _, ev := range fired {
		if _, err := tx.Exec(ctx, stampEventQuery, ev.ID, ev.VirtualTimeTriggered, ev.RealTimeTriggered, ev.AcknowledgedAt); err != nil {
			return fmt.Errorf("stamp event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// execer is the slice of pgx shared by *pgxpool.Pool and pgx.Tx that
// update needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *SessionRepo) update(ctx context.Context, db execer, s *models.Session) error {
	state, err := json.Marshal(s.CurrentPatientState)
	if err != nil {
		return fmt.Errorf("encode patient state: %w", err)
	}
	complications, err := json.Marshal(s.ComplicationsEncountered)
	if err != nil {
		return fmt.Errorf("encode complications: %w", err)
	}
	var scores []byte
	if s.CompetencyScores != nil {
		scores, err = json.Marshal(s.CompetencyScores)
		if err != nil {
			return fmt.Errorf("encode competency scores: %w", err)
		}
	}

	query := `
		UPDATE sessions SET
			status = $2, end_time = $3, current_virtual_time = $4,
			last_real_time_update = $5, total_real_time_elapsed = $6,
			total_virtual_time_elapsed = $7, time_acceleration_rate = $8,
			time_flow_mode = $9, patient_state = $10, emotional_state = $11,
			complications = $12, active_medications = $13,
			completed_steps = $14, competency_scores = $15, updated_at = $16
		WHERE id = $1`

	_, err = db.Exec(ctx, query,
		s.ID, s.Status, s.EndTime, s.CurrentVirtualTime,
		s.LastRealTimeUpdate, s.TotalRealTimeElapsed,
		s.TotalVirtualTimeElapsed, s.TimeAccelerationRate,
		s.TimeFlowMode, state, s.CurrentEmotionalState,
		complications, s.ActiveMedications,
		s.CompletedSteps, scores, s.UpdatedAt,
	)
	return err
}

// FindActiveForStudent returns an ACTIVE or PAUSED session for the
// student/scenario pair, or nil.
func (r *SessionRepo) FindActiveForStudent(ctx context.Context, studentID, scenarioID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE student_id = $1 AND scenario_id = $2 AND status IN ('ACTIVE', 'PAUSED')
		LIMIT 1`
	s, err := r.scanSession(r.pool.QueryRow(ctx, query, studentID, scenarioID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListActiveRealTime feeds the background monitor.
func (r *SessionRepo) ListActiveRealTime(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = 'ACTIVE' AND time_flow_mode = 'REAL_TIME'`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
