// Package sms provides the SMS channel adapter backed by the Twilio
// Messages API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/member-messaging/internal/dispatcher"
	"github.com/ignite/member-messaging/internal/pkg/httpretry"
	"github.com/ignite/member-messaging/internal/pkg/logger"
)

// Config holds Twilio credentials and the sending number.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSender delivers SMS through the Twilio REST API. The underlying
// client retries transient HTTP failures; the dispatcher handles anything
// beyond that through its own release-and-retry path.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     httpretry.HTTPDoer
}

// NewTwilioSender creates a Twilio sender. Returns an error when the
// account is not configured so callers can leave the channel disabled.
func NewTwilioSender(cfg Config) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number not configured")
	}
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    "https://api.twilio.com/2010-04-01",
		client:     httpretry.NewRetryClient(nil, 2),
	}, nil
}

// twilioResponse is the subset of the Messages API response we read.
type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers a single SMS. Twilio 4xx responses are permanent (bad
// number, unsubscribed recipient, bad request); everything else that
// survives the retry client comes back transient.
func (s *TwilioSender) Send(ctx context.Context, msg *dispatcher.SMSMessage) (*dispatcher.SendResult, error) {
	form := url.Values{}
	form.Add("From", s.fromNumber)
	form.Add("To", msg.To)
	form.Add("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var tr twilioResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		// A success without a SID breaks webhook correlation for this row.
		logger.Warn("twilio response decode failed",
			"status", resp.StatusCode, "error", err.Error())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Info("sms sent", "to", logger.RedactPhone(msg.To), "provider_id", tr.SID)
		return &dispatcher.SendResult{Success: true, ProviderID: tr.SID, SentAt: time.Now()}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &dispatcher.SendResult{
			Permanent: true,
			Err:       fmt.Errorf("twilio error %d (code %d): %s", resp.StatusCode, tr.Code, tr.Message),
		}, nil
	default:
		return &dispatcher.SendResult{
			Err: fmt.Errorf("twilio error %d: %s", resp.StatusCode, tr.Message),
		}, nil
	}
}
