// Package email provides the email channel adapter backed by AWS SES.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/member-messaging/internal/dispatcher"
	"github.com/ignite/member-messaging/internal/pkg/logger"
)

// Config holds SES credentials and the sender identity used for every
// outbound message.
type Config struct {
	AccessKey string
	SecretKey string
	Region    string
	FromEmail string
	FromName  string
}

// SESSender delivers email through AWS SES using the SDK v2.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
}

// NewSESSender creates an SES sender. Returns an error when credentials
// are missing so callers can leave the channel unconfigured instead of
// wiring a sender that can never deliver.
func NewSESSender(cfg Config) (*SESSender, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("ses credentials not configured")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("ses from address not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESSender{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}, nil
}

// Send delivers a single email. Transport failures come back via the error
// return; SES rejections come back in the result, classified as permanent
// when retrying cannot help.
func (s *SESSender) Send(ctx context.Context, msg *dispatcher.EmailMessage) (*dispatcher.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if permanent, reason := classify(err); permanent {
			return &dispatcher.SendResult{Permanent: true, Err: fmt.Errorf("ses rejected: %s", reason)}, nil
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Info("email sent", "to", logger.RedactEmail(msg.To), "provider_id", messageID)

	return &dispatcher.SendResult{Success: true, ProviderID: messageID, SentAt: time.Now()}, nil
}

// classify maps SES rejection types to permanent failures. Throttling and
// quota errors stay transient so the dispatcher retries them.
func classify(err error) (bool, string) {
	var (
		rejected  *types.MessageRejected
		suspended *types.AccountSuspendedException
		paused    *types.SendingPausedException
		notVerif  *types.MailFromDomainNotVerifiedException
		badReq    *types.BadRequestException
		notFound  *types.NotFoundException
	)
	switch {
	case errors.As(err, &rejected):
		return true, "message rejected"
	case errors.As(err, &suspended):
		return true, "account suspended"
	case errors.As(err, &paused):
		return true, "sending paused"
	case errors.As(err, &notVerif):
		return true, "from domain not verified"
	case errors.As(err, &badReq):
		return true, "bad request"
	case errors.As(err, &notFound):
		return true, "identity not found"
	}
	return false, ""
}
