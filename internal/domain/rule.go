package domain

import "time"

// Channel identifies the delivery medium for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// RuleStatus enumerates the lifecycle states of an automation rule.
type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RulePaused   RuleStatus = "paused"
	RuleArchived RuleStatus = "archived"
)

// AutomationRule is a single-fire, event-triggered, optionally delayed send.
// Rules are authored by the admin surface and consumed read-only by the
// trigger engine; only active rules are ever matched.
type AutomationRule struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	EventName    string         `json:"event_name" db:"event_name"`
	Channel      Channel        `json:"channel" db:"channel"`
	TemplateID   string         `json:"template_id" db:"template_id"`
	DelayMinutes int            `json:"delay_minutes" db:"delay_minutes"`
	Conditions   map[string]any `json:"conditions" db:"conditions"`
	Status       RuleStatus     `json:"status" db:"status"`
	TotalSent    int            `json:"total_sent" db:"total_sent"`
	LastSentAt   *time.Time     `json:"last_sent_at" db:"last_sent_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}
