package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/mailersend/mailersend-go"
	"go.uber.org/zap"
)

const mailerSendTimeout = 10 * time.Second

type mailerSendEmails interface {
	Send(ctx context.Context, message *mailersend.Message) (*mailersend.Response, error)
}

// MailerSendSender delivers mail through the MailerSend API.
type MailerSendSender struct {
	emails mailerSendEmails
	from   mailersend.From
	logger *zap.Logger
}

// NewMailerSendSender builds a sender for apiKey.
func NewMailerSendSender(apiKey, fromEmail, fromName string, logger *zap.Logger) (*MailerSendSender, error) {
	if apiKey == "" {
		return nil, errors.New("mailersend api key required")
	}
	client := mailersend.NewMailersend(apiKey)
	return newMailerSendSender(client.Email, fromEmail, fromName, logger)
}

func newMailerSendSender(emails mailerSendEmails, fromEmail, fromName string, logger *zap.Logger) (*MailerSendSender, error) {
	if fromEmail == "" {
		return nil, errors.New("mailersend from address required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailerSendSender{
		emails: emails,
		from:   mailersend.From{Name: fromName, Email: fromEmail},
		logger: logger,
	}, nil
}

func (s *MailerSendSender) Send(ctx context.Context, msg Message) error {
	message := &mailersend.Message{}
	message.SetFrom(s.from)
	message.SetRecipients([]mailersend.Recipient{{Email: msg.To}})
	message.SetSubject(msg.Subject)
	message.SetHTML(msg.HTML)
	message.SetText(msg.Text)

	ctx, cancel := context.WithTimeout(ctx, mailerSendTimeout)
	defer cancel()

	if _, err := s.emails.Send(ctx, message); err != nil {
		return fmt.Errorf("mailersend: %w", err)
	}

	s.logger.Debug("email sent",
		zap.String("provider", "mailersend"),
		zap.String("to", otpgate.MaskDestination(msg.To)),
	)
	return nil
}
