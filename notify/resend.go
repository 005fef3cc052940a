package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/otpgate"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender delivers mail through the Resend API.
type ResendSender struct {
	emails resendEmails
	from   string
	logger *zap.Logger
}

// NewResendSender builds a sender for apiKey. from is the full From header,
// for example `"Auth App" <no-reply@example.com>`.
func NewResendSender(apiKey, from string, logger *zap.Logger) (*ResendSender, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key required")
	}
	client := resend.NewClient(apiKey)
	return newResendSender(client.Emails, from, logger)
}

func newResendSender(emails resendEmails, from string, logger *zap.Logger) (*ResendSender, error) {
	if from == "" {
		return nil, errors.New("resend from address required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendSender{emails: emails, from: from, logger: logger}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	res, err := s.emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}

	id := ""
	if res != nil {
		id = res.Id
	}
	s.logger.Debug("email sent",
		zap.String("provider", "resend"),
		zap.String("to", otpgate.MaskDestination(msg.To)),
		zap.String("message_id", id),
	)
	return nil
}
