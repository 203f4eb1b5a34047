// Package trigger is the entry point of the automation engine. An incoming
// domain event is matched against active automation rules (single-fire
// sends) and active sequences (multi-step drips), and processed against
// sequence exit events. All sends go through the scheduled_messages queue.
package trigger

import (
	"context"
	"time"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/pkg/logger"
	"github.com/ignite/member-messaging/internal/template"
)

// Publisher is the fire-and-forget event entry point injected into
// application call sites (ticket creation, subscription lifecycle, ...).
// Publish must never propagate an error back into the caller's critical
// path.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// TemplateSource looks up authored message content by template id.
type TemplateSource interface {
	EmailTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	SMSTemplate(ctx context.Context, id string) (*domain.SMSTemplate, error)
}

// Enroller owns the enrollment lifecycle. Implemented by the sequence
// engine.
type Enroller interface {
	// Enroll creates an enrollment for the event's recipient. Returns false
	// without error when the recipient is already enrolled.
	Enroll(ctx context.Context, seq domain.Sequence, event domain.Event) (bool, error)
	// Exit terminates an enrollment and cancels its pending messages.
	Exit(ctx context.Context, enrollment domain.Enrollment, reason string) error
}

// Queue accepts rendered messages for future dispatch.
type Queue interface {
	Enqueue(ctx context.Context, m *domain.ScheduledMessage) (string, error)
}

// Result reports what a single event triggered.
type Result struct {
	RulesFired int `json:"rules_fired"`
	Enrolled   int `json:"sequences_enrolled"`
	Exited     int `json:"sequences_exited"`
}

// Engine matches events against rules and sequences and fans the work out.
// It is safe for concurrent use.
type Engine struct {
	store     *Store
	templates TemplateSource
	enroller  Enroller
	queue     Queue
	renderer  *template.Renderer
	now       func() time.Time
}

// NewEngine creates a trigger engine.
func NewEngine(store *Store, templates TemplateSource, enroller Enroller, queue Queue) *Engine {
	return &Engine{
		store:     store,
		templates: templates,
		enroller:  enroller,
		queue:     queue,
		renderer:  template.NewRenderer(),
		now:       time.Now,
	}
}

// Publish fires the event asynchronously. Errors are logged, never returned:
// a failing rule must not break ticket creation.
func (e *Engine) Publish(ctx context.Context, event domain.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, err := e.Trigger(ctx, event); err != nil {
			logger.Error("event trigger failed", "event", event.Name, "error", err.Error())
		}
	}()
}

// Trigger processes one event synchronously: fires matching rules, enrolls
// into matching sequences, and exits enrollments whose sequences list this
// event as an exit event. Per-item errors are logged and skipped so one bad
// rule never blocks the others.
func (e *Engine) Trigger(ctx context.Context, event domain.Event) (Result, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	var res Result

	rules, err := e.matchRules(ctx, event)
	if err != nil {
		logger.Error("rule matching failed", "event", event.Name, "error", err.Error())
	}
	for _, rule := range rules {
		if err := e.fireRule(ctx, rule, event); err != nil {
			logger.Error("rule fire failed", "event", event.Name, "rule", rule.ID, "error", err.Error())
			continue
		}
		res.RulesFired++
	}

	sequences, err := e.matchSequences(ctx, event)
	if err != nil {
		logger.Error("sequence matching failed", "event", event.Name, "error", err.Error())
	}
	for _, seq := range sequences {
		enrolled, err := e.enroller.Enroll(ctx, seq, event)
		if err != nil {
			logger.Error("sequence enroll failed", "event", event.Name, "sequence", seq.ID, "error", err.Error())
			continue
		}
		if enrolled {
			res.Enrolled++
		}
	}

	exited, err := e.processExits(ctx, event)
	if err != nil {
		logger.Error("exit processing failed", "event", event.Name, "error", err.Error())
	}
	res.Exited = exited

	if res.RulesFired > 0 || res.Enrolled > 0 || res.Exited > 0 {
		logger.Info("event processed", "event", event.Name,
			"rules_fired", res.RulesFired, "enrolled", res.Enrolled, "exited", res.Exited)
	}
	return res, nil
}

// fireRule renders the rule's template with the event payload and inserts
// one scheduled message, delayed by the rule's delay_minutes.
func (e *Engine) fireRule(ctx context.Context, rule domain.AutomationRule, event domain.Event) error {
	msg := &domain.ScheduledMessage{
		MessageType:       rule.Channel,
		RecipientEmail:    event.Email(),
		RecipientPhone:    event.Phone(),
		RecipientName:     event.Payload[domain.PayloadName],
		RecipientUserID:   event.UserID(),
		TemplateID:        rule.TemplateID,
		ScheduledFor:      event.OccurredAt.Add(time.Duration(rule.DelayMinutes) * time.Minute),
		RelatedEntityType: domain.EntityAutomationRule,
		RelatedEntityID:   rule.ID,
	}

	switch rule.Channel {
	case domain.ChannelEmail:
		tpl, err := e.templates.EmailTemplate(ctx, rule.TemplateID)
		if err != nil {
			return err
		}
		msg.Subject = e.renderer.Render(tpl.Subject, event.Payload)
		msg.Body = e.renderer.Render(tpl.HTMLBody, event.Payload)
		msg.TextBody = e.renderer.Render(tpl.TextBody, event.Payload)
	case domain.ChannelSMS:
		tpl, err := e.templates.SMSTemplate(ctx, rule.TemplateID)
		if err != nil {
			return err
		}
		msg.Body = e.renderer.Render(tpl.Body, event.Payload)
	}

	if _, err := e.queue.Enqueue(ctx, msg); err != nil {
		return err
	}
	return e.store.IncrementRuleSent(ctx, rule.ID, e.now())
}

// processExits terminates active enrollments whose sequences name this event
// as an exit event. When both the event and the enrollment carry an email,
// they must match; an event with no email exits nothing.
func (e *Engine) processExits(ctx context.Context, event domain.Event) (int, error) {
	enrollments, err := e.store.ActiveEnrollmentsForExit(ctx, event.Name)
	if err != nil {
		return 0, err
	}

	exited := 0
	for _, enr := range enrollments {
		if event.Email() == "" || enr.Email == "" || event.Email() != enr.Email {
			continue
		}
		if err := e.enroller.Exit(ctx, enr, "exit_event: "+event.Name); err != nil {
			logger.Error("enrollment exit failed", "enrollment", enr.ID, "error", err.Error())
			continue
		}
		exited++
	}
	return exited, nil
}
