package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a one-off campaign.
// sending and sent are one-way: a campaign that left draft can never be
// re-sent, only cloned.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
)

// AudienceFilter selects campaign recipients from an external contact store:
// a named source plus flat equality filters over its columns.
type AudienceFilter struct {
	Source  string            `json:"source"`
	Filters map[string]string `json:"filters"`
}

// Campaign is a one-off bulk send resolved against an audience filter at
// send time. Counts are frozen once the campaign reaches sent.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Channel        Channel        `json:"channel" db:"channel"`
	TemplateID     string         `json:"template_id" db:"template_id"`
	SubjectLine    string         `json:"subject_line" db:"subject_line"`
	Audience       AudienceFilter `json:"audience" db:"audience"`
	Status         CampaignStatus `json:"status" db:"status"`
	AudienceCount  int            `json:"audience_count" db:"audience_count"`
	SentCount      int            `json:"sent_count" db:"sent_count"`
	FailedCount    int            `json:"failed_count" db:"failed_count"`
	SentAt         *time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true once the campaign's counts are frozen.
func (c *Campaign) IsTerminal() bool { return c.Status == CampaignSent }

// Lead is one row of the external contact store used for audience
// resolution. Read-only from the engine's perspective.
type Lead struct {
	ID         string            `json:"id" db:"id"`
	Email      string            `json:"email" db:"email"`
	Phone      string            `json:"phone" db:"phone"`
	FirstName  string            `json:"first_name" db:"first_name"`
	FullName   string            `json:"full_name" db:"full_name"`
	Attributes map[string]string `json:"attributes" db:"attributes"`
}

// Variables returns the template variables a lead contributes to a
// per-recipient render.
func (l Lead) Variables() map[string]string {
	v := map[string]string{
		"email":     l.Email,
		"firstName": l.FirstName,
		"name":      l.FullName,
	}
	if l.FullName == "" {
		v["name"] = l.FirstName
	}
	for k, val := range l.Attributes {
		v[k] = val
	}
	return v
}
