// Package sequence owns the enrollment lifecycle of multi-step drip
// sequences: it enrolls recipients on a matching trigger, advances them
// through steps on a timer, re-evaluates step conditions at schedule time,
// and exits them when an exit event fires.
package sequence

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/member-messaging/internal/condition"
	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/pkg/logger"
	"github.com/ignite/member-messaging/internal/template"
)

// TemplateSource looks up authored message content by template id.
type TemplateSource interface {
	EmailTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	SMSTemplate(ctx context.Context, id string) (*domain.SMSTemplate, error)
}

// Queue accepts rendered messages for dispatch.
type Queue interface {
	Enqueue(ctx context.Context, m *domain.ScheduledMessage) (string, error)
	CancelByEntity(ctx context.Context, entityType, entityID string) (int64, error)
}

// AttributeSource returns the latest attribute snapshot for a recipient,
// used when step conditions are re-evaluated at schedule time. A nil source
// means conditions see only the enrollment metadata.
type AttributeSource interface {
	Attributes(ctx context.Context, email string) (map[string]string, error)
}

// Lock guards the processing pass so that with several worker instances
// running, each tick is executed by exactly one of them. Enrollment advances
// are not claim-guarded the way message dispatch is, so without the lock two
// instances could walk the same enrollment.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Stats summarizes one processing pass.
type Stats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Engine advances enrollments through their sequence steps.
type Engine struct {
	store      *Store
	templates  TemplateSource
	queue      Queue
	attributes AttributeSource
	renderer   *template.Renderer
	batchSize  int
	lock       Lock
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewEngine creates a sequence engine. attributes may be nil.
func NewEngine(store *Store, templates TemplateSource, queue Queue, attributes AttributeSource) *Engine {
	return &Engine{
		store:      store,
		templates:  templates,
		queue:      queue,
		attributes: attributes,
		renderer:   template.NewRenderer(),
		batchSize:  100,
		now:        time.Now,
	}
}

// SetLock installs a cross-instance lock around the background pass. Must be
// called before Start.
func (e *Engine) SetLock(l Lock) { e.lock = l }

// Start runs ProcessDue on the given interval until Stop is called.
func (e *Engine) Start(interval time.Duration) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		logger.Info("sequence engine started", "interval", interval.String())
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.ctx.Done():
				logger.Info("sequence engine stopped")
				return
			case <-ticker.C:
				e.runPass()
			}
		}
	}()
}

// runPass executes one background tick, holding the cross-instance lock for
// its duration when one is configured. A tick that loses the lock race is
// skipped; the winning instance covers it.
func (e *Engine) runPass() {
	if e.lock != nil {
		ok, err := e.lock.Acquire(e.ctx)
		if err != nil {
			logger.Error("sequence pass lock acquire failed", "error", err.Error())
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := e.lock.Release(context.WithoutCancel(e.ctx)); err != nil {
				logger.Warn("sequence pass lock release failed", "error", err.Error())
			}
		}()
	}
	if _, err := e.ProcessDue(e.ctx, e.now()); err != nil {
		logger.Error("sequence processing pass failed", "error", err.Error())
	}
}

// Stop halts the background loop and waits for the in-flight pass.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.cancel()
	e.mu.Unlock()
	e.wg.Wait()
}

// Enroll creates an enrollment for the event's recipient and schedules the
// first step. Returns false when the recipient is already enrolled (an
// enrollment exists for this sequence and email) — not an error, just a
// duplicate trigger.
func (e *Engine) Enroll(ctx context.Context, seq domain.Sequence, event domain.Event) (bool, error) {
	email := event.Email()
	if email == "" {
		return false, nil
	}

	now := e.now()
	firstStep, _, err := e.store.StepAfter(ctx, seq.ID, 0)
	if err != nil {
		return false, err
	}
	delay := 0
	if firstStep != nil {
		delay = firstStep.DelayMinutes
	}
	nextAt := now.Add(time.Duration(delay) * time.Minute)

	enr := &domain.Enrollment{
		SequenceID:       seq.ID,
		UserID:           event.UserID(),
		Email:            email,
		Phone:            event.Phone(),
		Metadata:         event.Payload,
		CurrentStepOrder: 0,
		Status:           domain.EnrollmentActive,
		NextStepAt:       &nextAt,
		EnrolledAt:       now,
	}
	if err := e.store.CreateEnrollment(ctx, enr); err != nil {
		if err == ErrAlreadyEnrolled {
			return false, nil
		}
		return false, err
	}
	if err := e.store.IncrementEnrolled(ctx, seq.ID); err != nil {
		logger.Warn("increment enrolled failed", "sequence", seq.ID, "error", err.Error())
	}
	logger.Info("enrolled in sequence", "sequence", seq.ID, "email", email)
	return true, nil
}

// Exit terminates an enrollment and cancels its pending messages. The
// enrollment transition and the message cancellation are both
// status-guarded, so exiting twice — or racing the dispatcher's claim —
// resolves to exactly one owner per row.
func (e *Engine) Exit(ctx context.Context, enr domain.Enrollment, reason string) error {
	transitioned, err := e.store.Exit(ctx, enr.ID, reason, e.now())
	if err != nil {
		return err
	}
	cancelled, err := e.queue.CancelByEntity(ctx, domain.EntitySequenceEnrollment, enr.ID)
	if err != nil {
		return err
	}
	if transitioned {
		logger.Info("enrollment exited", "enrollment", enr.ID, "reason", reason, "cancelled", cancelled)
	}
	return nil
}

// ProcessDue advances every enrollment whose next step time has passed.
// Per-enrollment errors are counted and logged; the pass continues.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	due, err := e.store.DueEnrollments(ctx, now, e.batchSize)
	if err != nil {
		return stats, err
	}

	for _, enr := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Processed++
		if err := e.processEnrollment(ctx, enr, now, &stats); err != nil {
			stats.Errors++
			logger.Error("enrollment processing failed", "enrollment", enr.ID, "error", err.Error())
		}
	}

	if stats.Processed > 0 {
		logger.Info("sequence pass complete", "processed", stats.Processed,
			"sent", stats.Sent, "completed", stats.Completed, "skipped", stats.Skipped, "errors", stats.Errors)
	}
	return stats, nil
}

// processEnrollment handles one due enrollment. The due step's scheduled
// time (enrollment.next_step_at) is the delay basis for chained steps: a
// late pass never compounds delay for the steps that follow.
//
// A step whose conditions evaluate false at schedule time is skipped — no
// send, no failure — and the walk continues to the following step using the
// skipped step's scheduled time as basis, so one unmet condition can never
// stall an enrollment forever.
func (e *Engine) processEnrollment(ctx context.Context, enr domain.Enrollment, now time.Time, stats *Stats) error {
	if enr.NextStepAt == nil {
		return nil
	}
	basis := *enr.NextStepAt
	order := enr.CurrentStepOrder

	for {
		step, rawCond, err := e.store.StepAfter(ctx, enr.SequenceID, order)
		if err != nil {
			return err
		}
		if step == nil {
			if err := e.store.Complete(ctx, enr.ID, order, now); err != nil {
				return err
			}
			if err := e.store.IncrementCompleted(ctx, enr.SequenceID); err != nil {
				logger.Warn("increment completed failed", "sequence", enr.SequenceID, "error", err.Error())
			}
			stats.Completed++
			return nil
		}

		sent := false
		if e.stepConditionsHold(ctx, enr, step, rawCond) {
			if err := e.sendStep(ctx, enr, step, basis); err != nil {
				return err
			}
			stats.Sent++
			sent = true
		} else {
			stats.Skipped++
		}
		order = step.StepOrder

		next, _, err := e.store.StepAfter(ctx, enr.SequenceID, order)
		if err != nil {
			return err
		}
		if next == nil {
			if err := e.store.Complete(ctx, enr.ID, order, now); err != nil {
				return err
			}
			if err := e.store.IncrementCompleted(ctx, enr.SequenceID); err != nil {
				logger.Warn("increment completed failed", "sequence", enr.SequenceID, "error", err.Error())
			}
			stats.Completed++
			return nil
		}

		nextAt := e.stepTime(next, enr.EnrolledAt, basis)
		if sent || nextAt.After(now) {
			return e.store.Advance(ctx, enr.ID, order, nextAt)
		}

		// Skipped step with the following step already due: keep walking in
		// this pass so the enrollment doesn't idle a full tick per skip.
		if err := e.store.Advance(ctx, enr.ID, order, nextAt); err != nil {
			return err
		}
		basis = nextAt
	}
}

// stepTime computes a step's scheduled time from its delay basis:
// enrollment-relative steps count from enrolled_at, chained steps from the
// scheduled (not actual send) time of the previous step.
func (e *Engine) stepTime(step *domain.SequenceStep, enrolledAt, previousScheduledAt time.Time) time.Time {
	delay := time.Duration(step.DelayMinutes) * time.Minute
	if step.DelayFrom == domain.DelayFromEnrollment {
		return enrolledAt.Add(delay)
	}
	return previousScheduledAt.Add(delay)
}

// stepConditionsHold evaluates the step's own conditions against the latest
// attribute snapshot: enrollment metadata overlaid with current recipient
// attributes. Member state can change mid-sequence, which is why this runs
// at schedule time, not enroll time. Malformed conditions fail closed.
func (e *Engine) stepConditionsHold(ctx context.Context, enr domain.Enrollment, step *domain.SequenceStep, rawCond []byte) bool {
	pred, err := condition.Parse(rawCond)
	if err != nil {
		logger.Warn("step has malformed conditions, skipping step", "step", step.ID, "error", err.Error())
		return false
	}
	if pred.IsEmpty() {
		return true
	}

	attrs := make(map[string]string, len(enr.Metadata))
	for k, v := range enr.Metadata {
		attrs[k] = v
	}
	if e.attributes != nil {
		latest, err := e.attributes.Attributes(ctx, enr.Email)
		if err != nil {
			logger.Warn("attribute snapshot lookup failed", "email", enr.Email, "error", err.Error())
		}
		for k, v := range latest {
			attrs[k] = v
		}
	}
	return pred.Evaluate(attrs)
}

// sendStep renders the step's template with the enrollment metadata and
// enqueues one message at the step's scheduled time.
func (e *Engine) sendStep(ctx context.Context, enr domain.Enrollment, step *domain.SequenceStep, scheduledFor time.Time) error {
	vars := enr.Metadata
	msg := &domain.ScheduledMessage{
		MessageType:       step.Channel,
		RecipientEmail:    enr.Email,
		RecipientPhone:    enr.Phone,
		RecipientName:     vars["name"],
		RecipientUserID:   enr.UserID,
		TemplateID:        step.TemplateID,
		ScheduledFor:      scheduledFor,
		RelatedEntityType: domain.EntitySequenceEnrollment,
		RelatedEntityID:   enr.ID,
	}
	if msg.RecipientName == "" {
		msg.RecipientName = vars["firstName"]
	}

	switch step.Channel {
	case domain.ChannelEmail:
		tpl, err := e.templates.EmailTemplate(ctx, step.TemplateID)
		if err != nil {
			return err
		}
		subject := tpl.Subject
		if step.SubjectOverride != "" {
			subject = step.SubjectOverride
		}
		msg.Subject = e.renderer.Render(subject, vars)
		msg.Body = e.renderer.Render(tpl.HTMLBody, vars)
		msg.TextBody = e.renderer.Render(tpl.TextBody, vars)
	case domain.ChannelSMS:
		tpl, err := e.templates.SMSTemplate(ctx, step.TemplateID)
		if err != nil {
			return err
		}
		msg.Body = e.renderer.Render(tpl.Body, vars)
	}

	if _, err := e.queue.Enqueue(ctx, msg); err != nil {
		return err
	}
	if err := e.store.IncrementStepSent(ctx, step.ID); err != nil {
		logger.Warn("increment step sent failed", "step", step.ID, "error", err.Error())
	}
	return nil
}
