package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/member-messaging/internal/dispatcher"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *TwilioSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewTwilioSender(Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550009999",
	})
	require.NoError(t, err)
	s.baseURL = srv.URL
	// Plain client so provider-error tests don't sit in retry backoff.
	s.client = srv.Client()
	return s
}

func TestSendSuccess(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotUser string
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	})

	res, err := sender.Send(context.Background(), &dispatcher.SMSMessage{
		To:   "+15550001234",
		Body: "Your session is tomorrow at 9am",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "SM123", res.ProviderID)
	assert.Equal(t, "/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "AC123", gotUser)
	assert.Equal(t, "+15550001234", gotTo)
	assert.Equal(t, "+15550009999", gotFrom)
}

func TestSendMalformedSuccessBodyStillSucceeds(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`<html>not json</html>`))
	})

	res, err := sender.Send(context.Background(), &dispatcher.SMSMessage{
		To: "+15550001234", Body: "hi",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.ProviderID)
}

func TestSendClientErrorIsPermanent(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	})

	res, err := sender.Send(context.Background(), &dispatcher.SMSMessage{
		To: "not-a-number", Body: "hi",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Contains(t, res.Err.Error(), "21211")
}

func TestSendServerErrorIsTransient(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res, err := sender.Send(context.Background(), &dispatcher.SMSMessage{
		To: "+15550001234", Body: "hi",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Permanent)
	require.Error(t, res.Err)
}

func TestNewTwilioSenderRequiresConfig(t *testing.T) {
	_, err := NewTwilioSender(Config{})
	require.Error(t, err)

	_, err = NewTwilioSender(Config{AccountSID: "AC123", AuthToken: "secret"})
	require.Error(t, err)
}
