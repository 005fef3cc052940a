package auditsink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultWriteTimeout bounds a single sink write when the caller's context
// has no deadline.
const DefaultWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events as JSON to one topic. Messages are keyed
// by attempt id so every event of one challenge lands on one partition.
type KafkaSink struct {
	writer  messageWriter
	source  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaSink builds a synchronous writer for topic on brokers. source is
// written into every message's "source" header.
func NewKafkaSink(brokers []string, topic, source string, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaSink(w, source, logger)
}

func newKafkaSink(w messageWriter, source string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer:  w,
		source:  source,
		timeout: DefaultWriteTimeout,
		logger:  logger.Named("audit.kafka"),
	}
}

// Emit publishes event. Failures are logged and dropped; audit delivery
// never blocks the request path beyond the dispatcher buffer.
func (s *KafkaSink) Emit(ctx context.Context, event otpgate.AuditEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("marshal audit event", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}

	key := event.SessionID
	if key == "" {
		key = event.Identity
	}

	ctx, cancel := withDefaultTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(s.source)},
		},
	})
	if err != nil {
		s.logger.Warn("publish audit event",
			zap.String("event_type", event.EventType),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
