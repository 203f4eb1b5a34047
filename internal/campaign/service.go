package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/pkg/logger"
	"github.com/ignite/member-messaging/internal/template"
)

// DefaultMaxRecipients caps a single campaign send. Larger audiences are
// rejected outright rather than partially queued.
const DefaultMaxRecipients = 500

// SendReport accumulates the outcome of one campaign send.
type SendReport struct {
	Audience int      `json:"audience"`
	Queued   int      `json:"queued"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the injected dependencies are concurrency-safe.
type Service struct {
	repo          Repository
	audience      AudienceSource
	templates     TemplateSource
	queue         Queue
	renderer      *template.Renderer
	maxRecipients int
	now           func() time.Time
}

// NewService creates a campaign service. maxRecipients <= 0 falls back to
// DefaultMaxRecipients.
func NewService(repo Repository, audience AudienceSource, templates TemplateSource, queue Queue, maxRecipients int) *Service {
	if maxRecipients <= 0 {
		maxRecipients = DefaultMaxRecipients
	}
	return &Service{
		repo:          repo,
		audience:      audience,
		templates:     templates,
		queue:         queue,
		renderer:      template.NewRenderer(),
		maxRecipients: maxRecipients,
		now:           time.Now,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, error) {
	return s.repo.List(ctx, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string                `json:"name"`
	Channel     domain.Channel        `json:"channel"`
	TemplateID  string                `json:"template_id"`
	SubjectLine string                `json:"subject_line"`
	Audience    domain.AudienceFilter `json:"audience"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if input.TemplateID == "" {
		return nil, fmt.Errorf("template_id is required")
	}
	if input.Channel != domain.ChannelEmail && input.Channel != domain.ChannelSMS {
		return nil, fmt.Errorf("channel must be email or sms")
	}

	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Channel:     input.Channel,
		TemplateID:  input.TemplateID,
		SubjectLine: input.SubjectLine,
		Audience:    input.Audience,
		Status:      domain.CampaignDraft,
	}
	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Send resolves the campaign's audience and enqueues one message per
// recipient. The draft-to-sending transition is the idempotency guard:
// concurrent Send calls lose the conditional update and get
// ErrAlreadySending. Audience resolution failures and over-cap audiences
// abort before anything is queued and return the campaign to draft.
func (s *Service) Send(ctx context.Context, campaignID string) (*SendReport, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.TransitionStatus(ctx, campaignID, domain.CampaignDraft, domain.CampaignSending); err != nil {
		return nil, err
	}

	report, err := s.fanOut(ctx, c)
	if err != nil {
		if rbErr := s.repo.TransitionStatus(ctx, campaignID, domain.CampaignSending, domain.CampaignDraft); rbErr != nil {
			logger.Error("campaign rollback failed", "campaign", campaignID, "error", rbErr.Error())
		}
		return nil, err
	}

	if err := s.repo.Finalize(ctx, campaignID, report.Audience, report.Queued, report.Failed, s.now()); err != nil {
		return report, fmt.Errorf("finalize campaign: %w", err)
	}

	logger.Info("campaign sent", "campaign", campaignID,
		"audience", report.Audience, "queued", report.Queued, "failed", report.Failed)
	return report, nil
}

// fanOut does the pre-enqueue validation and the per-recipient work. Any
// error returned here means nothing was queued yet (enqueue failures for
// individual recipients are recorded in the report instead).
func (s *Service) fanOut(ctx context.Context, c *domain.Campaign) (*SendReport, error) {
	content, err := s.loadContent(ctx, c)
	if err != nil {
		return nil, err
	}

	// Fetching one row past the cap detects an over-cap audience without
	// materializing it.
	leads, err := s.audience.FindByFilter(ctx, c.Audience, s.maxRecipients+1)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	if len(leads) > s.maxRecipients {
		return nil, fmt.Errorf("%w: audience exceeds cap of %d", ErrAudienceTooLarge, s.maxRecipients)
	}

	report := &SendReport{Audience: len(leads)}
	now := s.now()
	for _, lead := range leads {
		if err := s.enqueueLead(ctx, c, content, lead, now); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Queued++
	}
	return report, nil
}

// campaignContent is the unrendered template content for one campaign.
type campaignContent struct {
	subject  string
	htmlBody string
	textBody string
	smsBody  string
}

func (s *Service) loadContent(ctx context.Context, c *domain.Campaign) (*campaignContent, error) {
	switch c.Channel {
	case domain.ChannelEmail:
		tpl, err := s.templates.EmailTemplate(ctx, c.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTemplate, c.TemplateID)
		}
		subject := tpl.Subject
		if c.SubjectLine != "" {
			subject = c.SubjectLine
		}
		return &campaignContent{subject: subject, htmlBody: tpl.HTMLBody, textBody: tpl.TextBody}, nil
	case domain.ChannelSMS:
		tpl, err := s.templates.SMSTemplate(ctx, c.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTemplate, c.TemplateID)
		}
		return &campaignContent{smsBody: tpl.Body}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", c.Channel)
	}
}

func (s *Service) enqueueLead(ctx context.Context, c *domain.Campaign, content *campaignContent, lead domain.Lead, now time.Time) error {
	msg := &domain.ScheduledMessage{
		MessageType:       c.Channel,
		RecipientName:     lead.FullName,
		RecipientUserID:   lead.ID,
		TemplateID:        c.TemplateID,
		ScheduledFor:      now,
		RelatedEntityType: domain.EntityCampaign,
		RelatedEntityID:   c.ID,
	}

	vars := lead.Variables()
	switch c.Channel {
	case domain.ChannelEmail:
		if lead.Email == "" {
			return fmt.Errorf("lead %s has no email", lead.ID)
		}
		msg.RecipientEmail = lead.Email
		msg.Subject = s.renderer.Render(content.subject, vars)
		msg.Body = s.renderer.Render(content.htmlBody, vars)
		msg.TextBody = s.renderer.Render(content.textBody, vars)
	case domain.ChannelSMS:
		if lead.Phone == "" {
			return fmt.Errorf("lead %s has no phone", lead.ID)
		}
		msg.RecipientPhone = lead.Phone
		msg.Body = s.renderer.Render(content.smsBody, vars)
	}

	if _, err := s.queue.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue for lead %s: %w", lead.ID, err)
	}
	return nil
}
