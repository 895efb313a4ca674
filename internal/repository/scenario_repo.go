package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medsim-backend/internal/models"
)

type ScenarioRepo struct {
	pool *pgxpool.Pool
}

func NewScenarioRepo(pool *pgxpool.Pool) *ScenarioRepo {
	return &ScenarioRepo{pool: pool}
}

const scenarioColumns = `id, title, description, specialty, difficulty, disease_model,
	initial_patient_state, initial_emotional_state, patient_profile_json,
	event_templates, expected_duration_minutes, completed_steps_expected,
	is_active, created_at`

func (r *ScenarioRepo) scanScenario(row pgx.Row) (*models.Scenario, error) {
	s := &models.Scenario{}
	var initialState, templates []byte
	err := row.Scan(
		&s.ID, &s.Title, &s.Description, &s.Specialty, &s.Difficulty, &s.DiseaseModel,
		&initialState, &s.InitialEmotionalState, &s.PatientProfileJSON,
		&templates, &s.ExpectedDurationMinutes, &s.CompletedStepsExpected,
		&s.IsActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(initialState, &s.InitialPatientState); err != nil {
		return nil, fmt.Errorf("decode initial patient state: %w", err)
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &s.EventTemplates); err != nil {
			return nil, fmt.Errorf("decode event templates: %w", err)
		}
	}
	return s, nil
}

func (r *ScenarioRepo) GetScenario(ctx context.Context, id uuid.UUID) (*models.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE id = $1`
	s, err := r.scanScenario(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *ScenarioRepo) GetActiveScenario(ctx context.Context, id uuid.UUID) (*models.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE id = $1 AND is_active = TRUE`
	s, err := r.scanScenario(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *ScenarioRepo) ListActive(ctx context.Context) ([]*models.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE is_active = TRUE ORDER BY title`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Scenario
	for rows.Next() {
		s, err := r.scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
