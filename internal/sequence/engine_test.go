package sequence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/member-messaging/internal/domain"
)

type fakeTemplates struct {
	email *domain.EmailTemplate
	sms   *domain.SMSTemplate
	err   error
}

func (f *fakeTemplates) EmailTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.email, nil
}

func (f *fakeTemplates) SMSTemplate(ctx context.Context, id string) (*domain.SMSTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sms, nil
}

type fakeQueue struct {
	msgs      []*domain.ScheduledMessage
	cancelled []string
	err       error
}

func (f *fakeQueue) Enqueue(ctx context.Context, m *domain.ScheduledMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, m)
	return "msg-1", nil
}

func (f *fakeQueue) CancelByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	f.cancelled = append(f.cancelled, entityID)
	return 2, nil
}

type fakeAttributes struct {
	attrs map[string]string
	err   error
}

func (f *fakeAttributes) Attributes(ctx context.Context, email string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.attrs, nil
}

var seqNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *fakeQueue, *fakeAttributes, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	templates := &fakeTemplates{
		email: &domain.EmailTemplate{ID: "tpl-1", Subject: "Day check-in", HTMLBody: "<p>Hi {{name}}</p>", TextBody: "Hi {{name}}"},
		sms:   &domain.SMSTemplate{ID: "tpl-2", Body: "Hi {{name}}"},
	}
	queue := &fakeQueue{}
	attrs := &fakeAttributes{attrs: map[string]string{}}

	engine := NewEngine(NewStore(db), templates, queue, attrs)
	engine.now = func() time.Time { return seqNow }
	return engine, mock, queue, attrs, func() { db.Close() }
}

func stepColumns() []string {
	return []string{"id", "sequence_id", "step_order", "channel", "template_id",
		"delay_minutes", "delay_from", "subject_override", "conditions", "status"}
}

func stepRow(id string, order, delay int, delayFrom, conditions string) *sqlmock.Rows {
	return sqlmock.NewRows(stepColumns()).
		AddRow(id, "seq-1", order, "email", "tpl-1", delay, delayFrom, "", []byte(conditions), "active")
}

func expectStepAfter(mock sqlmock.Sqlmock, afterOrder int, rows *sqlmock.Rows) {
	q := mock.ExpectQuery("FROM sequence_steps").WithArgs("seq-1", afterOrder)
	if rows == nil {
		q.WillReturnError(sql.ErrNoRows)
	} else {
		q.WillReturnRows(rows)
	}
}

func enrollmentColumns() []string {
	return []string{"id", "sequence_id", "user_id", "email", "phone",
		"metadata", "current_step_order", "status", "next_step_at", "enrolled_at"}
}

func dueRow(id string, order int, nextAt, enrolledAt time.Time, metadata string) *sqlmock.Rows {
	return dueRows(sqlmock.NewRows(enrollmentColumns()), id, order, nextAt, enrolledAt, metadata)
}

func dueRows(rows *sqlmock.Rows, id string, order int, nextAt, enrolledAt time.Time, metadata string) *sqlmock.Rows {
	return rows.AddRow(id, "seq-1", "", "ana@example.com", "",
		[]byte(metadata), order, "active", nextAt, enrolledAt)
}

func onboarding() domain.Sequence {
	return domain.Sequence{ID: "seq-1", Name: "onboarding", TriggerEvent: "member_joined", Status: domain.SequenceActive}
}

func TestEnrollSchedulesFirstStep(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	expectStepAfter(mock, 0, stepRow("st-1", 1, 60, "enrollment", "{}"))
	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WithArgs(sqlmock.AnyArg(), "seq-1", nil, "ana@example.com", nil,
			sqlmock.AnyArg(), 0, seqNow.Add(60*time.Minute), seqNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequences SET total_enrolled").
		WithArgs("seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrolled, err := engine.Enroll(context.Background(), onboarding(), domain.Event{
		Name:       "member_joined",
		Payload:    map[string]string{"email": "ana@example.com"},
		OccurredAt: seqNow,
	})
	require.NoError(t, err)
	assert.True(t, enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollWithoutEmailIsNoop(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	enrolled, err := engine.Enroll(context.Background(), onboarding(), domain.Event{
		Name:    "member_joined",
		Payload: map[string]string{"phone": "+15550001234"},
	})
	require.NoError(t, err)
	assert.False(t, enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollDuplicateIsNotAnError(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	expectStepAfter(mock, 0, stepRow("st-1", 1, 0, "enrollment", "{}"))
	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WillReturnError(&pq.Error{Code: "23505"})

	enrolled, err := engine.Enroll(context.Background(), onboarding(), domain.Event{
		Name:       "member_joined",
		Payload:    map[string]string{"email": "ana@example.com"},
		OccurredAt: seqNow,
	})
	require.NoError(t, err)
	assert.False(t, enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollEmptySequenceSchedulesImmediately(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	expectStepAfter(mock, 0, nil)
	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WithArgs(sqlmock.AnyArg(), "seq-1", nil, "ana@example.com", nil,
			sqlmock.AnyArg(), 0, seqNow, seqNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequences SET total_enrolled").
		WithArgs("seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrolled, err := engine.Enroll(context.Background(), onboarding(), domain.Event{
		Name:       "member_joined",
		Payload:    map[string]string{"email": "ana@example.com"},
		OccurredAt: seqNow,
	})
	require.NoError(t, err)
	assert.True(t, enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExitCancelsPendingMessages(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", seqNow, "exit_event: member_cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Exit(context.Background(), domain.Enrollment{ID: "enr-1", SequenceID: "seq-1"},
		"exit_event: member_cancelled")
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-1"}, queue.cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExitAlreadyTerminalStillCancels(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	// Zero rows affected: the enrollment already completed or exited. The
	// cancellation sweep still runs so no pending message is orphaned.
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", seqNow, "manual").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := engine.Exit(context.Background(), domain.Enrollment{ID: "enr-1"}, "manual")
	require.NoError(t, err)
	assert.Equal(t, []string{"enr-1"}, queue.cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueSendsStepAndAdvances(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	basis := seqNow.Add(-time.Minute)
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 0, basis, seqNow.Add(-24*time.Hour), `{"name":"Ana"}`))
	expectStepAfter(mock, 0, stepRow("st-1", 1, 0, "enrollment", "{}"))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 1440, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 1, basis.Add(1440*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Completed)

	require.Len(t, queue.msgs, 1)
	msg := queue.msgs[0]
	assert.Equal(t, "ana@example.com", msg.RecipientEmail)
	assert.Equal(t, "<p>Hi Ana</p>", msg.Body)
	assert.Equal(t, basis, msg.ScheduledFor)
	assert.Equal(t, domain.EntitySequenceEnrollment, msg.RelatedEntityType)
	assert.Equal(t, "enr-1", msg.RelatedEntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueLatePassKeepsChainedSchedule(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	// The pass runs two hours late. The next chained step is computed off
	// the due step's scheduled time, not off now, so the lateness does not
	// push the whole sequence out.
	basis := seqNow.Add(-2 * time.Hour)
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 1, basis, seqNow.Add(-48*time.Hour), "{}"))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 0, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 2, stepRow("st-3", 3, 60, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 2, basis.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	require.Len(t, queue.msgs, 1)
	assert.Equal(t, basis, queue.msgs[0].ScheduledFor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueEnrollmentDelayCountsFromEnrolledAt(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	enrolledAt := seqNow.Add(-24 * time.Hour)
	basis := seqNow.Add(-time.Minute)
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 0, basis, enrolledAt, "{}"))
	expectStepAfter(mock, 0, stepRow("st-1", 1, 0, "enrollment", "{}"))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 2880, "enrollment", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 1, enrolledAt.Add(2880*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueCompletesPastLastStep(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 3, seqNow.Add(-time.Minute), seqNow.Add(-72*time.Hour), "{}"))
	expectStepAfter(mock, 3, nil)
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 3, seqNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequences SET total_completed").
		WithArgs("seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Empty(t, queue.msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueCompletesAfterFinalSend(t *testing.T) {
	engine, mock, queue, _, cleanup := newTestEngine(t)
	defer cleanup()

	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 1, seqNow.Add(-time.Minute), seqNow.Add(-48*time.Hour), "{}"))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 0, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 2, nil)
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 2, seqNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequences SET total_completed").
		WithArgs("seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Completed)
	require.Len(t, queue.msgs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueSkipsStepOnUnmetConditionAndKeepsWalking(t *testing.T) {
	engine, mock, queue, attrs, cleanup := newTestEngine(t)
	defer cleanup()
	attrs.attrs = map[string]string{"membershipType": "standard"}

	basis := seqNow.Add(-time.Hour)
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 0, basis, seqNow.Add(-24*time.Hour), "{}"))

	// Step 1 is gated on a vip membership the recipient doesn't have.
	expectStepAfter(mock, 0, stepRow("st-1", 1, 0, "enrollment", `{"membershipType":"vip"}`))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 0, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 1, basis).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Step 2 is already due, so the same pass sends it.
	expectStepAfter(mock, 1, stepRow("st-2", 2, 0, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 2, stepRow("st-3", 3, 60, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 2, basis.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Sent)
	require.Len(t, queue.msgs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueAttributeSnapshotOverridesMetadata(t *testing.T) {
	engine, mock, queue, attrs, cleanup := newTestEngine(t)
	defer cleanup()

	// Enrolled as standard, upgraded since. Conditions see current state.
	attrs.attrs = map[string]string{"membershipType": "vip"}

	basis := seqNow.Add(-time.Minute)
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(dueRow("enr-1", 0, basis, seqNow.Add(-24*time.Hour), `{"membershipType":"standard"}`))
	expectStepAfter(mock, 0, stepRow("st-1", 1, 0, "enrollment", `{"membershipType":"vip"}`))
	mock.ExpectExec("UPDATE sequence_steps SET total_sent").
		WithArgs("st-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStepAfter(mock, 1, stepRow("st-2", 2, 60, "previous_step", "{}"))
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", 1, basis.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Skipped)
	require.Len(t, queue.msgs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDueIsolatesPerEnrollmentErrors(t *testing.T) {
	engine, mock, _, _, cleanup := newTestEngine(t)
	defer cleanup()

	rows := sqlmock.NewRows(enrollmentColumns())
	dueRows(rows, "enr-1", 0, seqNow.Add(-time.Minute), seqNow.Add(-time.Hour), "{}")
	rows.AddRow("enr-2", "seq-1", "", "bob@example.com", "",
		[]byte("{}"), 2, "active", seqNow.Add(-time.Minute), seqNow.Add(-time.Hour))
	mock.ExpectQuery("FROM sequence_enrollments").
		WithArgs(seqNow, 100).
		WillReturnRows(rows)

	mock.ExpectQuery("FROM sequence_steps").
		WithArgs("seq-1", 0).
		WillReturnError(errors.New("connection reset"))

	expectStepAfter(mock, 2, nil)
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-2", 2, seqNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequences SET total_completed").
		WithArgs("seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := engine.ProcessDue(context.Background(), seqNow)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
