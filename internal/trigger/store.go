package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/member-messaging/internal/domain"
)

// Store reads automation rules and sequence metadata for trigger matching.
// It is read-only except for rule send counters.
type Store struct {
	db *sql.DB
}

// NewStore creates a trigger store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ActiveRulesByEvent returns active automation rules whose event_name equals
// the given event. Conditions come back as raw JSON and are parsed by the
// matcher so a malformed predicate can fail closed per rule.
func (s *Store) ActiveRulesByEvent(ctx context.Context, eventName string) ([]domain.AutomationRule, []json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, event_name, channel, template_id, delay_minutes,
		       COALESCE(conditions, '{}'), status, total_sent, last_sent_at, created_at, updated_at
		FROM automation_rules
		WHERE event_name = $1 AND status = 'active'`, eventName)
	if err != nil {
		return nil, nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	var (
		rules []domain.AutomationRule
		conds []json.RawMessage
	)
	for rows.Next() {
		var r domain.AutomationRule
		var raw []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.EventName, &r.Channel, &r.TemplateID,
			&r.DelayMinutes, &raw, &r.Status, &r.TotalSent, &r.LastSentAt,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
		conds = append(conds, json.RawMessage(raw))
	}
	return rules, conds, rows.Err()
}

// ActiveSequencesByTrigger returns active sequences whose trigger_event
// equals the given event, with raw trigger conditions for fail-closed parsing.
func (s *Store) ActiveSequencesByTrigger(ctx context.Context, eventName string) ([]domain.Sequence, []json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, trigger_event, COALESCE(trigger_conditions, '{}'),
		       COALESCE(exit_events, '{}'), status, total_enrolled, total_completed,
		       created_at, updated_at
		FROM sequences
		WHERE trigger_event = $1 AND status = 'active'`, eventName)
	if err != nil {
		return nil, nil, fmt.Errorf("list active sequences: %w", err)
	}
	defer rows.Close()

	var (
		seqs  []domain.Sequence
		conds []json.RawMessage
	)
	for rows.Next() {
		var sq domain.Sequence
		var raw []byte
		if err := rows.Scan(&sq.ID, &sq.Name, &sq.TriggerEvent, &raw,
			pq.Array(&sq.ExitEvents), &sq.Status, &sq.TotalEnrolled,
			&sq.TotalCompleted, &sq.CreatedAt, &sq.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan sequence: %w", err)
		}
		seqs = append(seqs, sq)
		conds = append(conds, json.RawMessage(raw))
	}
	return seqs, conds, rows.Err()
}

// ActiveEnrollmentsForExit returns active enrollments whose sequence lists
// the given event as an exit event.
func (s *Store) ActiveEnrollmentsForExit(ctx context.Context, eventName string) ([]domain.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.sequence_id, COALESCE(e.user_id,''), e.email, COALESCE(e.phone,''),
		       e.current_step_order, e.status, e.next_step_at, e.enrolled_at
		FROM sequence_enrollments e
		JOIN sequences s ON s.id = e.sequence_id
		WHERE e.status = 'active' AND $1 = ANY(s.exit_events)`, eventName)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for exit: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.ID, &e.SequenceID, &e.UserID, &e.Email, &e.Phone,
			&e.CurrentStepOrder, &e.Status, &e.NextStepAt, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementRuleSent bumps a rule's send counter after its message is queued.
func (s *Store) IncrementRuleSent(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET total_sent = total_sent + 1, last_sent_at = $2, updated_at = NOW()
		WHERE id = $1`, ruleID, at)
	if err != nil {
		return fmt.Errorf("increment rule sent: %w", err)
	}
	return nil
}
