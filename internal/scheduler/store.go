// Package scheduler owns the scheduled_messages queue: a durable,
// time-indexed store of outbound work. It holds no business logic beyond
// time-based readiness; every mutation is a status-guarded conditional
// update so concurrent dispatchers and cancellers stay safe without a
// global lock.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/member-messaging/internal/domain"
)

// Store provides queue operations over the scheduled_messages table.
type Store struct {
	db *sql.DB
}

// NewStore creates a scheduler store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const messageColumns = `id, message_type, COALESCE(recipient_email,''), COALESCE(recipient_phone,''),
	COALESCE(recipient_name,''), COALESCE(recipient_user_id,''), COALESCE(subject,''), body,
	COALESCE(text_body,''), COALESCE(template_id,''), scheduled_for, status,
	COALESCE(related_entity_type,''), COALESCE(related_entity_id,''), retry_count,
	COALESCE(error_message,''), COALESCE(provider_message_id,''), created_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	err := row.Scan(
		&m.ID, &m.MessageType, &m.RecipientEmail, &m.RecipientPhone,
		&m.RecipientName, &m.RecipientUserID, &m.Subject, &m.Body,
		&m.TextBody, &m.TemplateID, &m.ScheduledFor, &m.Status,
		&m.RelatedEntityType, &m.RelatedEntityID, &m.RetryCount,
		&m.ErrorMessage, &m.ProviderMessageID, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Enqueue inserts a message with status pending and returns its id. Every
// call inserts a new row; dedup is the caller's responsibility.
func (s *Store) Enqueue(ctx context.Context, m *domain.ScheduledMessage) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.Status = domain.MessagePending
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages
			(id, message_type, recipient_email, recipient_phone, recipient_name,
			 recipient_user_id, subject, body, text_body, template_id,
			 scheduled_for, status, related_entity_type, related_entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', $12, $13)`,
		m.ID, m.MessageType, nullable(m.RecipientEmail), nullable(m.RecipientPhone),
		nullable(m.RecipientName), nullable(m.RecipientUserID), nullable(m.Subject),
		m.Body, nullable(m.TextBody), nullable(m.TemplateID),
		m.ScheduledFor, nullable(m.RelatedEntityType), nullable(m.RelatedEntityID))
	if err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return m.ID, nil
}

// Get returns a single message by id, or nil if it doesn't exist.
func (s *Store) Get(ctx context.Context, id string) (*domain.ScheduledMessage, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// Due returns pending messages whose scheduled_for has passed, ordered by
// scheduled_for ascending (FIFO-by-deadline). Read-only; claiming is a
// separate step.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM scheduled_messages
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// Claim atomically transitions a batch of due pending messages to sending
// and tags them with the claiming worker. FOR UPDATE SKIP LOCKED lets
// multiple dispatcher instances claim concurrently without double-sending;
// a row cancelled before the claim is never returned, and a claimed row can
// no longer be cancelled.
func (s *Store) Claim(ctx context.Context, workerID string, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE scheduled_messages
			SET status = 'sending', claimed_by = $1, claimed_at = $2
			WHERE id IN (
				SELECT id FROM scheduled_messages
				WHERE status = 'pending' AND scheduled_for <= $2
				ORDER BY scheduled_for ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+messageColumns+`
		)
		SELECT * FROM claimed ORDER BY scheduled_for ASC`, workerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkSent records a successful dispatch with the provider's correlation id
// (SES message id or Twilio SID) for webhook dedup.
func (s *Store) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent', provider_message_id = $2, sent_at = $3, error_message = NULL
		WHERE id = $1 AND status = 'sending'`, id, nullable(providerMessageID), at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure. Failed rows are never retried and
// never silently dropped; the error stays on the row.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed', error_message = $2, retry_count = retry_count + 1
		WHERE id = $1 AND status = 'sending'`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Release returns a claimed message to pending after a transient failure,
// pushing scheduled_for to the next attempt time. Between attempts the row
// is pending, so any worker can pick it up once the backoff elapses.
func (s *Store) Release(ctx context.Context, id string, nextAttemptAt time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'pending', scheduled_for = $2, error_message = $3,
		    retry_count = retry_count + 1, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'sending'`, id, nextAttemptAt, nullable(errMsg))
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return nil
}

// Defer pushes a claimed message's scheduled_for forward without counting
// an attempt (rate-limit deferral, not a failure).
func (s *Store) Defer(ctx context.Context, id string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'pending', scheduled_for = $2, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'sending'`, id, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("defer message: %w", err)
	}
	return nil
}

// CancelByEntity cancels every pending message linked to the given entity
// and returns the number of rows affected. The status guard makes this
// atomic with respect to the dispatcher's claim step: a row already claimed
// for sending is left alone. Cancelling an entity with no pending rows is a
// no-op, and cancelling twice has the same effect as once.
func (s *Store) CancelByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'cancelled'
		WHERE related_entity_type = $1 AND related_entity_id = $2 AND status = 'pending'`,
		entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("cancel messages for %s %s: %w", entityType, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel rows affected: %w", err)
	}
	return n, nil
}

// CountByStatus returns pending/sent/cancelled/failed counts for the stats
// endpoint.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scheduled_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectMessages(rows *sql.Rows) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// nullable maps empty strings to NULL so optional columns stay NULL in the
// database rather than holding empty strings.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
