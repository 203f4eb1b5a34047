package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/member-messaging/internal/domain"
)

// Not-found sentinels for the sequence admin surface.
var (
	ErrSequenceNotFound = fmt.Errorf("sequence not found")
	ErrStepNotFound     = fmt.Errorf("sequence step not found")
)

// SequenceStore is the admin CRUD surface for sequences and their steps.
type SequenceStore struct{ db *sql.DB }

// NewSequenceStore creates a Postgres-backed sequence store.
func NewSequenceStore(db *sql.DB) *SequenceStore { return &SequenceStore{db: db} }

func (s *SequenceStore) Create(ctx context.Context, sq *domain.Sequence) (string, error) {
	if sq.ID == "" {
		sq.ID = uuid.New().String()
	}
	if sq.Status == "" {
		sq.Status = domain.SequenceActive
	}
	conditions, err := json.Marshal(sq.TriggerConditions)
	if err != nil {
		return "", fmt.Errorf("encode trigger conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sequences
			(id, name, trigger_event, trigger_conditions, exit_events, status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, sq.ID, sq.Name, sq.TriggerEvent, conditions, pq.Array(sq.ExitEvents), sq.Status)
	if err != nil {
		return "", fmt.Errorf("create sequence: %w", err)
	}
	return sq.ID, nil
}

func (s *SequenceStore) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	sq := &domain.Sequence{}
	var conditions []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, trigger_event, COALESCE(trigger_conditions,'{}'),
		       exit_events, status, total_enrolled, total_completed,
		       created_at, updated_at
		FROM sequences
		WHERE id = $1
	`, id).Scan(
		&sq.ID, &sq.Name, &sq.TriggerEvent, &conditions,
		pq.Array(&sq.ExitEvents), &sq.Status, &sq.TotalEnrolled, &sq.TotalCompleted,
		&sq.CreatedAt, &sq.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	if err := json.Unmarshal(conditions, &sq.TriggerConditions); err != nil {
		return nil, fmt.Errorf("decode trigger conditions: %w", err)
	}
	return sq, nil
}

func (s *SequenceStore) List(ctx context.Context) ([]domain.Sequence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, trigger_event, COALESCE(trigger_conditions,'{}'),
		       exit_events, status, total_enrolled, total_completed,
		       created_at, updated_at
		FROM sequences
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []domain.Sequence
	for rows.Next() {
		var sq domain.Sequence
		var conditions []byte
		if err := rows.Scan(
			&sq.ID, &sq.Name, &sq.TriggerEvent, &conditions,
			pq.Array(&sq.ExitEvents), &sq.Status, &sq.TotalEnrolled, &sq.TotalCompleted,
			&sq.CreatedAt, &sq.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		if err := json.Unmarshal(conditions, &sq.TriggerConditions); err != nil {
			return nil, fmt.Errorf("decode trigger conditions: %w", err)
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (s *SequenceStore) UpdateStatus(ctx context.Context, id string, status domain.SequenceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequences SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update sequence status: %w", err)
	}
	return requireRow(res, ErrSequenceNotFound)
}

func (s *SequenceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	return requireRow(res, ErrSequenceNotFound)
}

// CreateStep appends a step to a sequence. Step order is assigned inside
// the insert so concurrent appends never collide on a client-computed
// value.
func (s *SequenceStore) CreateStep(ctx context.Context, step *domain.SequenceStep) (string, error) {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.Status == "" {
		step.Status = domain.StepActive
	}
	if step.DelayFrom == "" {
		step.DelayFrom = domain.DelayFromPreviousStep
	}
	conditions, err := json.Marshal(step.Conditions)
	if err != nil {
		return "", fmt.Errorf("encode step conditions: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sequence_steps
			(id, sequence_id, step_order, channel, template_id, delay_minutes,
			 delay_from, subject_override, conditions, status, created_at, updated_at)
		SELECT $1, $2, COALESCE(MAX(step_order), 0) + 1, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()
		FROM sequence_steps WHERE sequence_id = $2
		RETURNING step_order
	`, step.ID, step.SequenceID, step.Channel, step.TemplateID, step.DelayMinutes,
		step.DelayFrom, step.SubjectOverride, conditions, step.Status,
	).Scan(&step.StepOrder)
	if err != nil {
		return "", fmt.Errorf("create step: %w", err)
	}
	return step.ID, nil
}

func (s *SequenceStore) ListSteps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence_id, step_order, channel, template_id, delay_minutes,
		       delay_from, COALESCE(subject_override,''), COALESCE(conditions,'{}'),
		       status, total_sent, created_at, updated_at
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceStep
	for rows.Next() {
		var st domain.SequenceStep
		var conditions []byte
		if err := rows.Scan(
			&st.ID, &st.SequenceID, &st.StepOrder, &st.Channel, &st.TemplateID,
			&st.DelayMinutes, &st.DelayFrom, &st.SubjectOverride, &conditions,
			&st.Status, &st.TotalSent, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal(conditions, &st.Conditions); err != nil {
			return nil, fmt.Errorf("decode step conditions: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SequenceStore) DeleteStep(ctx context.Context, sequenceID, stepID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sequence_steps WHERE id = $1 AND sequence_id = $2`,
		stepID, sequenceID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	return requireRow(res, ErrStepNotFound)
}
