package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/member-messaging/internal/domain"
)

// ErrRuleNotFound is returned for lookups and updates against missing rules.
var ErrRuleNotFound = fmt.Errorf("automation rule not found")

// RuleStore is the admin CRUD surface for automation rules. The trigger
// engine reads rules through its own store; this one exists for authoring.
type RuleStore struct{ db *sql.DB }

// NewRuleStore creates a Postgres-backed rule store.
func NewRuleStore(db *sql.DB) *RuleStore { return &RuleStore{db: db} }

const ruleColumns = `
	id, name, event_name, channel, template_id, delay_minutes,
	COALESCE(conditions,'{}'), status, total_sent, last_sent_at,
	created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*domain.AutomationRule, error) {
	r := &domain.AutomationRule{}
	var conditions []byte
	err := row.Scan(
		&r.ID, &r.Name, &r.EventName, &r.Channel, &r.TemplateID, &r.DelayMinutes,
		&conditions, &r.Status, &r.TotalSent, &r.LastSentAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("decode rule conditions: %w", err)
	}
	return r, nil
}

func (s *RuleStore) Create(ctx context.Context, r *domain.AutomationRule) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = domain.RuleActive
	}
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return "", fmt.Errorf("encode rule conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules
			(id, name, event_name, channel, template_id, delay_minutes,
			 conditions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, r.ID, r.Name, r.EventName, r.Channel, r.TemplateID, r.DelayMinutes,
		conditions, r.Status)
	if err != nil {
		return "", fmt.Errorf("create rule: %w", err)
	}
	return r.ID, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*domain.AutomationRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *RuleStore) List(ctx context.Context) ([]domain.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+ruleColumns+` FROM automation_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *RuleStore) Update(ctx context.Context, r *domain.AutomationRule) error {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET name = $2, event_name = $3, channel = $4, template_id = $5,
		    delay_minutes = $6, conditions = $7, status = $8, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.Name, r.EventName, r.Channel, r.TemplateID,
		r.DelayMinutes, conditions, r.Status)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return requireRow(res, ErrRuleNotFound)
}

func (s *RuleStore) UpdateStatus(ctx context.Context, id string, status domain.RuleStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update rule status: %w", err)
	}
	return requireRow(res, ErrRuleNotFound)
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return requireRow(res, ErrRuleNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
