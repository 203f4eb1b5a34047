package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/repository/postgres"
	"github.com/ignite/member-messaging/internal/scheduler"
)

type fakePublisher struct {
	events []domain.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event domain.Event) {
	f.events = append(f.events, event)
}

type fakeDispatcher struct {
	claimed int
	err     error
}

func (f *fakeDispatcher) Tick(ctx context.Context) (int, error) { return f.claimed, f.err }
func (f *fakeDispatcher) Stats() map[string]int64 {
	return map[string]int64{"sent": 7, "failed": 1, "retried": 2}
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *fakePublisher, *fakeDispatcher, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	publisher := &fakePublisher{}
	disp := &fakeDispatcher{claimed: 3}
	srv := NewServer(
		postgres.NewRuleStore(db),
		postgres.NewSequenceStore(db),
		nil,
		publisher,
		scheduler.NewStore(db),
		nil,
		disp,
	)
	return srv, mock, publisher, disp, func() { db.Close() }
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Routes(nil).ServeHTTP(rec, req)
	return rec
}

func TestPublishEventAccepted(t *testing.T) {
	srv, _, publisher, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/events",
		`{"name":"member_joined","payload":{"email":"ana@example.com"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, "member_joined", publisher.events[0].Name)
	assert.Equal(t, "ana@example.com", publisher.events[0].Email())
	assert.False(t, publisher.events[0].OccurredAt.IsZero())
}

func TestPublishEventRequiresName(t *testing.T) {
	srv, _, publisher, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/events", `{"payload":{"email":"a@x.com"}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, publisher.events)
}

func TestPublishEventDefaultsEmptyPayload(t *testing.T) {
	srv, _, publisher, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/events", `{"name":"session_completed"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.events, 1)
	assert.NotNil(t, publisher.events[0].Payload)
}

func TestProcessMessagesRunsTick(t *testing.T) {
	srv, _, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/messages/process", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body["claimed"])
}

func TestProcessMessagesTickError(t *testing.T) {
	srv, _, _, disp, cleanup := newTestServer(t)
	defer cleanup()
	disp.err = errors.New("db down")

	rec := doRequest(srv, http.MethodPost, "/api/messages/process", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCancelMessagesValidatesEntityType(t *testing.T) {
	srv, _, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/messages/cancel",
		`{"related_entity_type":"bogus","related_entity_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelMessagesRequiresEntityID(t *testing.T) {
	srv, _, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/messages/cancel",
		`{"related_entity_type":"campaign"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelMessagesReturnsAffectedCount(t *testing.T) {
	srv, mock, _, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectExec("UPDATE scheduled_messages").
		WithArgs(domain.EntityCampaign, "c1").
		WillReturnResult(sqlmock.NewResult(0, 12))

	rec := doRequest(srv, http.MethodPost, "/api/messages/cancel",
		`{"related_entity_type":"campaign","related_entity_id":"c1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(12), body["cancelled"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStatsCombinesQueueAndDispatch(t *testing.T) {
	srv, mock, _, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 5).
			AddRow("sent", 40))

	rec := doRequest(srv, http.MethodGet, "/api/messages/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queue    map[string]int   `json:"queue"`
		Dispatch map[string]int64 `json:"dispatch"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Queue["pending"])
	assert.Equal(t, int64(7), body.Dispatch["sent"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSequenceRejectsTriggerEventAsExitEvent(t *testing.T) {
	srv, mock, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(srv, http.MethodPost, "/api/sequences",
		`{"name":"bad","trigger_event":"member_joined","exit_events":["member_joined"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exit_events cannot contain trigger_event")
	// No INSERT reached the store.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSequenceAllowsDistinctExitEvents(t *testing.T) {
	srv, mock, _, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO sequences").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(srv, http.MethodPost, "/api/sequences",
		`{"name":"onboarding","trigger_event":"member_joined","exit_events":["member_cancelled"]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRuleNotFound(t *testing.T) {
	srv, mock, _, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM automation_rules").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(srv, http.MethodGet, "/api/rules/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
