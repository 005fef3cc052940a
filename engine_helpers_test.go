package otpgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	destination string
	code        string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

func (n *recordingNotifier) SendOTP(_ context.Context, destination, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentCode{destination: destination, code: code})
	return n.fail
}

func (n *recordingNotifier) setFail(err error) {
	n.mu.Lock()
	n.fail = err
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("expected a code to have been sent")
	}
	return n.sent[len(n.sent)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSigningKey
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type testEngine struct {
	*Engine
	notifier *recordingNotifier
	clock    *fakeClock
	mr       *miniredis.Miniredis
}

func newTestEngine(t testing.TB, cfg Config, sink AuditSink) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	notifier := &recordingNotifier{}
	clock := newFakeClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(notifier).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, notifier: notifier, clock: clock, mr: mr}
}

func wrongCode(code string) string {
	if code == "100000" {
		return "100001"
	}
	return "100000"
}
