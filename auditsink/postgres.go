package auditsink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// insertEvent targets otp_audit_events, created by the migrations package.
const insertEvent = `
	INSERT INTO otp_audit_events
		(event_id, occurred_at, event_type, identity, session_id, purpose, ip_address, success, error_code, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
	ON CONFLICT (event_id) DO NOTHING`

// Execer is the part of *pgxpool.Pool, *pgx.Conn and pgx.Tx the sink uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends audit events to otp_audit_events.
type PostgresSink struct {
	db      Execer
	timeout time.Duration
	logger  *zap.Logger
}

// NewPostgresSink writes through db, typically a *pgxpool.Pool.
func NewPostgresSink(db Execer, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{
		db:      db,
		timeout: DefaultWriteTimeout,
		logger:  logger.Named("audit.postgres"),
	}
}

// Emit inserts event. Events without an ID get one; redelivered IDs are
// ignored by the table's unique constraint.
func (s *PostgresSink) Emit(ctx context.Context, event otpgate.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var metadata *string
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			s.logger.Warn("marshal audit metadata", zap.String("event_type", event.EventType), zap.Error(err))
			return
		}
		m := string(raw)
		metadata = &m
	}

	ctx, cancel := withDefaultTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.Exec(ctx, insertEvent,
		event.ID,
		event.Timestamp.UTC(),
		event.EventType,
		nullable(event.Identity),
		nullable(event.SessionID),
		nullable(event.Purpose),
		nullable(event.IP),
		event.Success,
		nullable(event.Error),
		metadata,
	)
	if err != nil {
		s.logger.Warn("insert audit event",
			zap.String("event_type", event.EventType),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
