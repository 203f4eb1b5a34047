// Package dispatcher turns due scheduled messages into provider calls. A
// small pool of workers claims batches from the scheduler, sends through
// the channel adapters, and applies retry with exponential backoff on
// transient failure. Multiple pool instances can run concurrently: the
// claim step's conditional update is the single source of truth for row
// ownership.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/pkg/logger"
)

// MessageStore is the scheduler surface the dispatcher needs.
type MessageStore interface {
	Claim(ctx context.Context, workerID string, now time.Time, limit int) ([]domain.ScheduledMessage, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	Release(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error
	Defer(ctx context.Context, id string, nextAttemptAt time.Time) error
}

// Limiter gates outbound provider calls per channel. Allow consumes budget
// only when it returns true.
type Limiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
}

// Options tune the pool. Zero values fall back to defaults.
type Options struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	SendTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Minute
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	return o
}

// rateLimitDefer is how far a rate-limited message is pushed. Short: the
// budget window is seconds, and a deferral is not an attempt.
const rateLimitDefer = 5 * time.Second

// Pool is the dispatch worker pool.
type Pool struct {
	store    MessageStore
	email    EmailSender
	sms      SMSSender
	limiter  Limiter
	opts     Options
	workerID string
	now      func() time.Time

	totalSent   int64
	totalFailed int64
	totalRetry  int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool creates a dispatch pool. email, sms, and limiter may each be nil;
// a nil adapter makes sends on that channel fail permanently, and a nil
// limiter disables throttling.
func NewPool(store MessageStore, email EmailSender, sms SMSSender, limiter Limiter, opts Options) *Pool {
	return &Pool{
		store:    store,
		email:    email,
		sms:      sms,
		limiter:  limiter,
		opts:     opts.withDefaults(),
		workerID: fmt.Sprintf("dispatch-%s", uuid.New().String()[:8]),
		now:      time.Now,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("dispatcher started", "worker_id", p.workerID,
		"workers", p.opts.Workers, "batch_size", p.opts.BatchSize)

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop halts the pool and waits for in-flight sends to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()

	logger.Info("dispatcher stopped",
		"sent", atomic.LoadInt64(&p.totalSent),
		"failed", atomic.LoadInt64(&p.totalFailed),
		"retried", atomic.LoadInt64(&p.totalRetry))
}

// Stats returns cumulative dispatch counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    atomic.LoadInt64(&p.totalSent),
		"failed":  atomic.LoadInt64(&p.totalFailed),
		"retried": atomic.LoadInt64(&p.totalRetry),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			n, err := p.Tick(p.ctx)
			if err != nil {
				logger.Error("dispatch batch failed", "error", err.Error())
				p.sleep(time.Second)
				continue
			}
			if n == 0 {
				p.sleep(p.opts.PollInterval)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}

// Tick claims and processes one batch of due messages. It is also invoked
// directly by the cron-style processing endpoint. Returns the number of
// messages claimed.
func (p *Pool) Tick(ctx context.Context) (int, error) {
	msgs, err := p.store.Claim(ctx, p.workerID, p.now(), p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for i := range msgs {
		p.process(ctx, &msgs[i])
	}
	return len(msgs), nil
}

// process dispatches one claimed message and records the outcome. Every
// path ends in exactly one status transition; nothing is silently dropped.
func (p *Pool) process(ctx context.Context, msg *domain.ScheduledMessage) {
	channel := string(msg.MessageType)

	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, channel)
		if err != nil {
			logger.Warn("rate limit check failed, deferring", "message", msg.ID, "error", err.Error())
			allowed = false
		}
		if !allowed {
			if err := p.store.Defer(ctx, msg.ID, p.now().Add(rateLimitDefer)); err != nil {
				logger.Error("defer failed", "message", msg.ID, "error", err.Error())
			}
			return
		}
	}

	result, err := p.send(ctx, msg)
	switch {
	case err == nil && result.Success:
		atomic.AddInt64(&p.totalSent, 1)
		if err := p.store.MarkSent(ctx, msg.ID, result.ProviderID, p.now()); err != nil {
			logger.Error("mark sent failed", "message", msg.ID, "error", err.Error())
		}
	case err == nil && result.Permanent:
		p.fail(ctx, msg, errString(result.Err))
	default:
		// Transport error or provider-reported transient failure.
		p.retry(ctx, msg, transientReason(result, err))
	}
}

// send routes the message to its channel adapter under the per-call
// timeout. A missing recipient or missing adapter is a permanent failure.
func (p *Pool) send(ctx context.Context, msg *domain.ScheduledMessage) (*SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()

	switch msg.MessageType {
	case domain.ChannelEmail:
		if msg.RecipientEmail == "" {
			return &SendResult{Permanent: true, Err: fmt.Errorf("no recipient email")}, nil
		}
		if p.email == nil {
			return &SendResult{Permanent: true, Err: fmt.Errorf("no email sender configured")}, nil
		}
		return p.email.Send(ctx, &EmailMessage{
			To:       msg.RecipientEmail,
			ToName:   msg.RecipientName,
			Subject:  msg.Subject,
			HTMLBody: msg.Body,
			TextBody: msg.TextBody,
		})
	case domain.ChannelSMS:
		if msg.RecipientPhone == "" {
			return &SendResult{Permanent: true, Err: fmt.Errorf("no recipient phone")}, nil
		}
		if p.sms == nil {
			return &SendResult{Permanent: true, Err: fmt.Errorf("no sms sender configured")}, nil
		}
		return p.sms.Send(ctx, &SMSMessage{To: msg.RecipientPhone, Body: msg.Body})
	default:
		return &SendResult{Permanent: true, Err: fmt.Errorf("unknown message type %q", msg.MessageType)}, nil
	}
}

// retry releases the message for another attempt with exponential backoff,
// or fails it once the attempt cap is reached.
func (p *Pool) retry(ctx context.Context, msg *domain.ScheduledMessage, reason string) {
	if msg.RetryCount+1 >= p.opts.MaxAttempts {
		p.fail(ctx, msg, fmt.Sprintf("retries exhausted: %s", reason))
		return
	}
	atomic.AddInt64(&p.totalRetry, 1)
	next := p.now().Add(p.backoff(msg.RetryCount))
	if err := p.store.Release(ctx, msg.ID, next, reason); err != nil {
		logger.Error("release failed", "message", msg.ID, "error", err.Error())
	}
	logger.Warn("transient send failure, retrying", "message", msg.ID,
		"attempt", msg.RetryCount+1, "next_attempt_at", next.UTC().Format(time.RFC3339), "reason", reason)
}

func (p *Pool) fail(ctx context.Context, msg *domain.ScheduledMessage, reason string) {
	atomic.AddInt64(&p.totalFailed, 1)
	if err := p.store.MarkFailed(ctx, msg.ID, reason); err != nil {
		logger.Error("mark failed failed", "message", msg.ID, "error", err.Error())
	}
	logger.Error("message failed", "message", msg.ID, "channel", string(msg.MessageType), "reason", reason)
}

// backoff doubles per attempt from the base, capped at the max.
func (p *Pool) backoff(retryCount int) time.Duration {
	d := p.opts.BackoffBase << uint(retryCount)
	if d > p.opts.BackoffMax || d <= 0 {
		return p.opts.BackoffMax
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return "provider rejected message"
	}
	return err.Error()
}

func transientReason(result *SendResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Err != nil {
		return result.Err.Error()
	}
	return "transient send failure"
}
