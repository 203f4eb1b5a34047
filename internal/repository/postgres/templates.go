package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/member-messaging/internal/domain"
)

// TemplateStore serves authored message content to the engines and the
// campaign sender.
type TemplateStore struct{ db *sql.DB }

// NewTemplateStore creates a Postgres-backed template store.
func NewTemplateStore(db *sql.DB) *TemplateStore { return &TemplateStore{db: db} }

func (s *TemplateStore) EmailTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	t := &domain.EmailTemplate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html_body, COALESCE(text_body,''), created_at, updated_at
		FROM email_templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Subject, &t.HTMLBody, &t.TextBody, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("email template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get email template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) SMSTemplate(ctx context.Context, id string) (*domain.SMSTemplate, error) {
	t := &domain.SMSTemplate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, body, created_at, updated_at
		FROM sms_templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sms template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sms template: %w", err)
	}
	return t, nil
}
