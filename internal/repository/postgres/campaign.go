// Package postgres holds the *sql.DB-backed repository implementations for
// the admin surface and the campaign sender. The engine-facing stores with
// heavier concurrency semantics live next to their engines (scheduler,
// trigger, sequence).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/member-messaging/internal/campaign"
	"github.com/ignite/member-messaging/internal/domain"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var audience []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, channel, template_id, COALESCE(subject_line,''),
		       COALESCE(audience,'{}'), status, audience_count, sent_count,
		       failed_count, sent_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Channel, &c.TemplateID, &c.SubjectLine,
		&audience, &c.Status, &c.AudienceCount, &c.SentCount,
		&c.FailedCount, &c.SentAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := json.Unmarshal(audience, &c.Audience); err != nil {
		return nil, fmt.Errorf("decode campaign audience: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, name, channel, template_id, COALESCE(subject_line,''),
		       status, audience_count, sent_count, failed_count, sent_at, created_at
		FROM campaigns`
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Channel, &c.TemplateID, &c.SubjectLine,
			&c.Status, &c.AudienceCount, &c.SentCount, &c.FailedCount,
			&c.SentAt, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	audience, err := json.Marshal(c.Audience)
	if err != nil {
		return "", fmt.Errorf("encode campaign audience: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, channel, template_id, subject_line, audience, status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, c.ID, c.Name, c.Channel, c.TemplateID, c.SubjectLine, audience, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

// TransitionStatus is the send idempotency guard: the row moves only when
// it is still in the expected status.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("transition campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the campaign is gone or another request won the transition.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return campaign.ErrAlreadySending
	}
	return nil
}

func (r *CampaignRepo) Finalize(ctx context.Context, id string, audience, sent, failed int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, audience_count = $3, sent_count = $4,
		    failed_count = $5, sent_at = $6, updated_at = NOW()
		WHERE id = $1
	`, id, domain.CampaignSent, audience, sent, failed, at)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	return nil
}
