package sequence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/member-messaging/internal/domain"
)

// ErrAlreadyEnrolled is returned when the (sequence, email) pair already has
// an enrollment. Re-triggering a sequence never re-enrolls.
var ErrAlreadyEnrolled = errors.New("recipient already enrolled in sequence")

// Store handles persistence for sequence_enrollments and sequence_steps.
type Store struct {
	db *sql.DB
}

// NewStore creates a sequence store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateEnrollment inserts a new enrollment. The unique index on
// (sequence_id, email) turns duplicate enrollments into ErrAlreadyEnrolled.
func (s *Store) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal enrollment metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sequence_enrollments
			(id, sequence_id, user_id, email, phone, metadata,
			 current_step_order, status, next_step_at, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, $9)`,
		e.ID, e.SequenceID, nullIfEmpty(e.UserID), e.Email, nullIfEmpty(e.Phone),
		metadata, e.CurrentStepOrder, e.NextStepAt, e.EnrolledAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyEnrolled
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// DueEnrollments returns active enrollments whose next step time has passed,
// ordered by next_step_at ascending.
func (s *Store) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence_id, COALESCE(user_id,''), email, COALESCE(phone,''),
		       COALESCE(metadata, '{}'), current_step_order, status, next_step_at, enrolled_at
		FROM sequence_enrollments
		WHERE status = 'active' AND next_step_at <= $1
		ORDER BY next_step_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.UserID, &e.Email, &e.Phone,
			&metadata, &e.CurrentStepOrder, &e.Status, &e.NextStepAt, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				e.Metadata = nil
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StepAfter returns the first active step of the sequence with step_order
// greater than afterOrder, plus its raw conditions JSON. The engine walks
// steps this way so gaps in step_order are tolerated. Returns nil when no
// further active step exists.
func (s *Store) StepAfter(ctx context.Context, sequenceID string, afterOrder int) (*domain.SequenceStep, json.RawMessage, error) {
	var st domain.SequenceStep
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sequence_id, step_order, channel, template_id, delay_minutes,
		       delay_from, COALESCE(subject_override,''), COALESCE(conditions, '{}'), status
		FROM sequence_steps
		WHERE sequence_id = $1 AND step_order > $2 AND status = 'active'
		ORDER BY step_order ASC
		LIMIT 1`, sequenceID, afterOrder).Scan(
		&st.ID, &st.SequenceID, &st.StepOrder, &st.Channel, &st.TemplateID,
		&st.DelayMinutes, &st.DelayFrom, &st.SubjectOverride, &raw, &st.Status)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("next step after %d: %w", afterOrder, err)
	}
	return &st, json.RawMessage(raw), nil
}

// Advance moves an active enrollment to the given step order with the next
// step's scheduled time. Guarded on status so a concurrently exited
// enrollment is never advanced.
func (s *Store) Advance(ctx context.Context, enrollmentID string, stepOrder int, nextStepAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET current_step_order = $2, next_step_at = $3
		WHERE id = $1 AND status = 'active'`, enrollmentID, stepOrder, nextStepAt)
	if err != nil {
		return fmt.Errorf("advance enrollment: %w", err)
	}
	return nil
}

// Complete marks an active enrollment completed at the given final step.
func (s *Store) Complete(ctx context.Context, enrollmentID string, finalOrder int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = 'completed', current_step_order = $2, next_step_at = NULL, completed_at = $3
		WHERE id = $1 AND status = 'active'`, enrollmentID, finalOrder, at)
	if err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

// Exit marks an active enrollment exited. Returns true when this call made
// the transition; false when the enrollment was already terminal, which
// makes exit processing idempotent.
func (s *Store) Exit(ctx context.Context, enrollmentID, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = 'exited', next_step_at = NULL, exited_at = $2, exit_reason = $3
		WHERE id = $1 AND status = 'active'`, enrollmentID, at, reason)
	if err != nil {
		return false, fmt.Errorf("exit enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("exit rows affected: %w", err)
	}
	return n > 0, nil
}

// IncrementEnrolled bumps a sequence's enrollment counter.
func (s *Store) IncrementEnrolled(ctx context.Context, sequenceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequences SET total_enrolled = total_enrolled + 1, updated_at = NOW() WHERE id = $1`,
		sequenceID)
	if err != nil {
		return fmt.Errorf("increment enrolled: %w", err)
	}
	return nil
}

// IncrementCompleted bumps a sequence's completion counter.
func (s *Store) IncrementCompleted(ctx context.Context, sequenceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequences SET total_completed = total_completed + 1, updated_at = NOW() WHERE id = $1`,
		sequenceID)
	if err != nil {
		return fmt.Errorf("increment completed: %w", err)
	}
	return nil
}

// IncrementStepSent bumps a step's send counter.
func (s *Store) IncrementStepSent(ctx context.Context, stepID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence_steps SET total_sent = total_sent + 1, updated_at = NOW() WHERE id = $1`,
		stepID)
	if err != nil {
		return fmt.Errorf("increment step sent: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
