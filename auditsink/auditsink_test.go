package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvent() otpgate.AuditEvent {
	return otpgate.AuditEvent{
		ID:        "5f0c2a8e-3b7d-4c1e-9a61-2d4f8b9e7c10",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType: "otp_verify",
		Identity:  "a***@example.com",
		SessionID: "attempt-1",
		Purpose:   "signup",
		IP:        "203.0.113.7",
		Success:   false,
		Error:     "mismatch",
		Metadata:  map[string]string{"attempts": "2"},
	}
}

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "otpgate-test", nil)

	sink.Emit(context.Background(), sampleEvent())

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "attempt-1", string(msg.Key))
	assert.True(t, w.deadline, "write is bounded by a timeout")
	assert.Equal(t, sampleEvent().Timestamp, msg.Time)

	var decoded otpgate.AuditEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "otp_verify", decoded.EventType)
	assert.Equal(t, "mismatch", decoded.Error)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "otp_verify", headers["event_type"])
	assert.Equal(t, "otpgate-test", headers["source"])
	assert.Equal(t, sampleEvent().ID, headers["event_id"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkKeyFallsBackToIdentity(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "src", nil)

	ev := sampleEvent()
	ev.SessionID = ""
	ev.EventType = "logout_all"
	sink.Emit(context.Background(), ev)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "a***@example.com", string(w.msgs[0].Key))
}

func TestKafkaSinkLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, "src", zap.New(core))

	sink.Emit(context.Background(), sampleEvent())

	entries := logs.FilterMessage("publish audit event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "attempt-1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "broker down", entries[0].ContextMap()["error"])
}

func TestNewKafkaSink(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "otp-audit", "otpgate", nil)
	require.NotNil(t, sink)

	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "otp-audit", w.Topic)
	assert.Equal(t, DefaultWriteTimeout, sink.timeout)
}

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (e *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.calls = append(e.calls, execCall{sql: sql, args: args})
	if e.err != nil {
		return pgconn.CommandTag{}, e.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPostgresSinkInsertsRow(t *testing.T) {
	db := &fakeExecer{}
	sink := NewPostgresSink(db, nil)

	sink.Emit(context.Background(), sampleEvent())

	require.Len(t, db.calls, 1)
	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO otp_audit_events")
	assert.Contains(t, call.sql, "ON CONFLICT (event_id) DO NOTHING")
	require.Len(t, call.args, 10)
	assert.Equal(t, sampleEvent().ID, call.args[0])
	assert.Equal(t, sampleEvent().Timestamp, call.args[1])
	assert.Equal(t, "otp_verify", call.args[2])
	assert.Equal(t, "a***@example.com", *call.args[3].(*string))
	assert.Equal(t, false, call.args[7])
	assert.Equal(t, "mismatch", *call.args[8].(*string))
	assert.JSONEq(t, `{"attempts":"2"}`, *call.args[9].(*string))
}

func TestPostgresSinkNullsEmptyFields(t *testing.T) {
	db := &fakeExecer{}
	sink := NewPostgresSink(db, nil)

	sink.Emit(context.Background(), otpgate.AuditEvent{
		Timestamp: time.Unix(0, 0),
		EventType: "token_issue",
		Success:   true,
	})

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	_, err := uuid.Parse(args[0].(string))
	assert.NoError(t, err, "missing ID is generated")
	for _, i := range []int{3, 4, 5, 6, 8} {
		assert.Nil(t, args[i], "arg %d", i)
	}
	assert.Nil(t, args[9])
}

func TestPostgresSinkLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	db := &fakeExecer{err: errors.New("connection refused")}
	sink := NewPostgresSink(db, zap.New(core))

	sink.Emit(context.Background(), sampleEvent())

	assert.Equal(t, 1, logs.FilterMessage("insert audit event").Len())
}

func TestInsertMatchesMigratedTable(t *testing.T) {
	up, err := migrations.Files().ReadFile("000001_create_otp_audit_events.up.sql")
	require.NoError(t, err)

	lp := strings.Index(insertEvent, "(")
	rp := strings.Index(insertEvent, ")")
	require.True(t, lp > 0 && rp > lp)
	for _, col := range strings.Split(insertEvent[lp+1:rp], ",") {
		col = strings.TrimSpace(col)
		assert.Contains(t, string(up), "\n    "+col+" ", "column %s missing from migration", col)
	}
	assert.Contains(t, string(up), "event_id    UUID NOT NULL UNIQUE", "ON CONFLICT needs a unique event_id")
}

func TestFanoutDeliversToEverySink(t *testing.T) {
	first := otpgate.NewChannelSink(1)
	second := otpgate.NewChannelSink(1)
	f := Fanout{first, nil, second}

	f.Emit(context.Background(), sampleEvent())

	for _, s := range []*otpgate.ChannelSink{first, second} {
		select {
		case ev := <-s.Events():
			assert.Equal(t, "otp_verify", ev.EventType)
		default:
			t.Fatal("event not delivered")
		}
	}
}

func TestSinksSatisfyAuditSink(t *testing.T) {
	var _ otpgate.AuditSink = (*KafkaSink)(nil)
	var _ otpgate.AuditSink = (*PostgresSink)(nil)
	var _ otpgate.AuditSink = Fanout(nil)
}
