package domain

import "time"

// MessageStatus enumerates the lifecycle of a scheduled message.
//
// pending -> sending -> sent
//         -> sending -> pending (transient failure, retried)
//         -> sending -> failed  (permanent failure or retry cap)
//         -> cancelled          (exit event / entity cancellation)
//
// All transitions are status-guarded conditional updates so the dispatcher's
// claim step and the sequence engine's cancellation can never both win the
// same row.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageCancelled MessageStatus = "cancelled"
	MessageFailed    MessageStatus = "failed"
)

// Related-entity types linking a scheduled message back to whatever created
// it. Cancellation targets rows by (RelatedEntityType, RelatedEntityID).
const (
	EntityAutomationRule     = "automation_rule"
	EntitySequenceEnrollment = "sequence_enrollment"
	EntityCampaign           = "campaign"
	EntitySession            = "session"
)

// ScheduledMessage is a durable, time-stamped unit of outbound work awaiting
// dispatch. Content is rendered before enqueue; the dispatcher only moves
// bytes to the provider.
type ScheduledMessage struct {
	ID                string        `json:"id" db:"id"`
	MessageType       Channel       `json:"message_type" db:"message_type"`
	RecipientEmail    string        `json:"recipient_email" db:"recipient_email"`
	RecipientPhone    string        `json:"recipient_phone" db:"recipient_phone"`
	RecipientName     string        `json:"recipient_name" db:"recipient_name"`
	RecipientUserID   string        `json:"recipient_user_id" db:"recipient_user_id"`
	Subject           string        `json:"subject" db:"subject"`
	Body              string        `json:"body" db:"body"`
	TextBody          string        `json:"text_body" db:"text_body"`
	TemplateID        string        `json:"template_id" db:"template_id"`
	ScheduledFor      time.Time     `json:"scheduled_for" db:"scheduled_for"`
	Status            MessageStatus `json:"status" db:"status"`
	RelatedEntityType string        `json:"related_entity_type" db:"related_entity_type"`
	RelatedEntityID   string        `json:"related_entity_id" db:"related_entity_id"`

	// Dispatch bookkeeping.
	RetryCount        int        `json:"retry_count" db:"retry_count"`
	ErrorMessage      string     `json:"error_message" db:"error_message"`
	ProviderMessageID string     `json:"provider_message_id" db:"provider_message_id"`
	ClaimedBy         string     `json:"claimed_by" db:"claimed_by"`
	ClaimedAt         *time.Time `json:"claimed_at" db:"claimed_at"`
	SentAt            *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}
