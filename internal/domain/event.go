package domain

import "time"

// Event is a named domain occurrence published once by application code
// (ticket created, subscription started, session booked). Events are
// ephemeral: the engine reacts to them but never persists them.
type Event struct {
	Name       string            `json:"name"`
	Payload    map[string]string `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Well-known payload keys. Any other keys ride along as template variables
// and condition attributes.
const (
	PayloadEmail  = "email"
	PayloadPhone  = "phone"
	PayloadUserID = "userId"
	PayloadName   = "name"
)

// Email returns the recipient email carried by the event, if any.
func (e Event) Email() string { return e.Payload[PayloadEmail] }

// Phone returns the recipient phone carried by the event, if any.
func (e Event) Phone() string { return e.Payload[PayloadPhone] }

// UserID returns the recipient user id carried by the event, if any.
func (e Event) UserID() string { return e.Payload[PayloadUserID] }
