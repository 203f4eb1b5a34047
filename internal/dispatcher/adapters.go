package dispatcher

import (
	"context"
	"time"
)

// EmailMessage is the rendered content handed to an email channel adapter.
type EmailMessage struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// SMSMessage is the rendered content handed to an SMS channel adapter.
type SMSMessage struct {
	To   string
	Body string
}

// SendResult is the typed outcome of a provider call. Adapters report
// provider rejections here rather than via the error return, so the
// dispatcher can classify transient vs permanent; the error return is for
// transport-level failures (network, timeout), which are always transient.
type SendResult struct {
	Success    bool
	ProviderID string // SES message id / Twilio SID, for webhook correlation
	Permanent  bool   // provider rejected the message; retrying cannot help
	Err        error
	SentAt     time.Time
}

// EmailSender delivers one email. Implementations must honor ctx deadlines.
type EmailSender interface {
	Send(ctx context.Context, msg *EmailMessage) (*SendResult, error)
}

// SMSSender delivers one SMS. Implementations must honor ctx deadlines.
type SMSSender interface {
	Send(ctx context.Context, msg *SMSMessage) (*SendResult, error)
}
