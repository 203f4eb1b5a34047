package campaign

import (
	"context"
	"time"

	"github.com/ignite/member-messaging/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// TransitionStatus moves a campaign from one status to another as a
	// single conditional update. Returns ErrAlreadySending when the campaign
	// is no longer in the expected status, which is the send idempotency
	// guard under concurrent requests.
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) error

	// Finalize marks the campaign sent and freezes its counts.
	Finalize(ctx context.Context, id string, audience, sent, failed int, at time.Time) error
}

// AudienceSource resolves a campaign's audience filter against the contact
// store. Results are a point-in-time snapshot; membership changes after
// resolution do not affect an in-flight send. A limit > 0 caps the rows
// fetched so an over-cap audience is never fully materialized.
type AudienceSource interface {
	FindByFilter(ctx context.Context, f domain.AudienceFilter, limit int) ([]domain.Lead, error)
}

// Queue accepts rendered messages for dispatch.
type Queue interface {
	Enqueue(ctx context.Context, m *domain.ScheduledMessage) (string, error)
}

// TemplateSource looks up authored message content by template id.
type TemplateSource interface {
	EmailTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	SMSTemplate(ctx context.Context, id string) (*domain.SMSTemplate, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
