package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpgate"
	"go.uber.org/zap"
)

// ErrNoSenders is returned by an empty MultiSender.
var ErrNoSenders = errors.New("notify: no senders configured")

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// MultiSender tries each sender in order and stops at the first success.
// When all fail the returned error joins every failure.
type MultiSender struct {
	senders []Sender
	names   []string
	logger  *zap.Logger
}

// NewMultiSender builds a fallback chain. logger may be nil.
func NewMultiSender(logger *zap.Logger) *MultiSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSender{logger: logger}
}

// Add appends a sender to the chain under a name used in logs and errors.
func (m *MultiSender) Add(name string, s Sender) *MultiSender {
	if s != nil {
		m.senders = append(m.senders, s)
		m.names = append(m.names, name)
	}
	return m
}

// Len reports the number of senders in the chain.
func (m *MultiSender) Len() int {
	return len(m.senders)
}

func (m *MultiSender) Send(ctx context.Context, msg Message) error {
	if len(m.senders) == 0 {
		return ErrNoSenders
	}

	var errs []error
	for i, s := range m.senders {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(m.senders) {
			m.logger.Warn("email sender failed, falling back",
				zap.String("sender", m.names[i]),
				zap.String("next", m.names[i+1]),
				zap.String("to", otpgate.MaskDestination(msg.To)),
				zap.Error(err),
			)
		}
	}
	return errors.Join(errs...)
}

// OTPNotifier renders the code email and hands it to a Sender. It
// satisfies otpgate.Notifier.
type OTPNotifier struct {
	sender Sender
	ttl    time.Duration
}

// NewOTPNotifier returns a notifier that tells readers the code lives for
// ttl.
func NewOTPNotifier(sender Sender, ttl time.Duration) *OTPNotifier {
	return &OTPNotifier{sender: sender, ttl: ttl}
}

func (n *OTPNotifier) SendOTP(ctx context.Context, destination, code string) error {
	if n == nil || n.sender == nil {
		return ErrNoSenders
	}
	msg, err := NewOTPMessage(destination, code, n.ttl)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

var _ otpgate.Notifier = (*OTPNotifier)(nil)
