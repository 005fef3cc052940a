package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestChallengeStore(t *testing.T) (*miniredis.Miniredis, *ChallengeStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewChallengeStore(client, "test")
}

func testChallenge(sessionID, code string, now time.Time) *Challenge {
	return &Challenge{
		SessionID:   sessionID,
		Destination: "a@b.com",
		CodeHash:    sha256.Sum256([]byte(code)),
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
}

func TestChallengeStorePutGet(t *testing.T) {
	_, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	if err := store.Put(ctx, testChallenge("s1", "123456", now), "Alice", "signup", time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "s1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Destination != "a@b.com" || !got.ExpiresAt.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected challenge: %+v", got)
	}

	attempt, err := store.GetAttempt(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if attempt.Name != "Alice" || attempt.Purpose != "signup" || !attempt.IssuedAt.Equal(now) {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
}

func TestChallengeStoreGetEvictsExpired(t *testing.T) {
	mr, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	if err := store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := store.Get(ctx, "s1", now.Add(301*time.Second)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
	if mr.Exists("test:c:s1") {
		t.Fatal("expected expired challenge to be evicted")
	}
}

func TestChallengeStorePutSupersedes(t *testing.T) {
	_, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	_ = store.Put(ctx, testChallenge("s1", "111111", now), "", "login", time.Hour)
	_ = store.Put(ctx, testChallenge("s1", "222222", now.Add(time.Second)), "", "login", time.Hour)

	if _, err := store.Consume(ctx, "s1", sha256.Sum256([]byte("111111")), now.Add(2*time.Second), 5); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("expected superseded code to mismatch, got %v", err)
	}
	res, err := store.Consume(ctx, "s1", sha256.Sum256([]byte("222222")), now.Add(2*time.Second), 5)
	if err != nil {
		t.Fatalf("expected current code to match, got %v", err)
	}
	if !res.Challenge.Consumed || res.Challenge.Attempts != 1 {
		t.Fatalf("unexpected consume result: %+v", res.Challenge)
	}
}

func TestChallengeStoreConsumeOutcomes(t *testing.T) {
	mr, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	good := sha256.Sum256([]byte("123456"))
	bad := sha256.Sum256([]byte("654321"))

	if _, err := store.Consume(ctx, "missing", good, now, 5); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour)

	res, err := store.Consume(ctx, "s1", bad, now, 5)
	if !errors.Is(err, ErrChallengeMismatch) || res.Attempts != 1 {
		t.Fatalf("expected mismatch with one attempt, got %v %+v", err, res)
	}

	res, err = store.Consume(ctx, "s1", good, now.Add(time.Minute), 5)
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if res.Challenge.Destination != "a@b.com" || res.Purpose != "login" {
		t.Fatalf("unexpected consume result %+v", res)
	}
	if mr.Exists("test:c:s1") || mr.Exists("test:a:s1") {
		t.Fatal("expected consumed challenge and attempt to be deleted")
	}

	if _, err := store.Consume(ctx, "s1", good, now.Add(time.Minute), 5); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected second consume to find nothing, got %v", err)
	}
}

func TestChallengeStoreConsumeExpired(t *testing.T) {
	mr, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour)

	_, err := store.Consume(ctx, "s1", sha256.Sum256([]byte("123456")), now.Add(301*time.Second), 5)
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if mr.Exists("test:c:s1") {
		t.Fatal("expected expired challenge to be evicted")
	}
	if !mr.Exists("test:a:s1") {
		t.Fatal("expected attempt to survive expiry for resend")
	}
}

func TestChallengeStoreLockout(t *testing.T) {
	_, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	good := sha256.Sum256([]byte("123456"))
	bad := sha256.Sum256([]byte("000000"))

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour)

	for i := 1; i <= 3; i++ {
		res, err := store.Consume(ctx, "s1", bad, now, 3)
		if !errors.Is(err, ErrChallengeMismatch) || res.Attempts != i {
			t.Fatalf("attempt %d: expected mismatch, got %v %+v", i, err, res)
		}
	}
	if _, err := store.Consume(ctx, "s1", bad, now, 3); !errors.Is(err, ErrChallengeLocked) {
		t.Fatalf("expected lockout after exceeding max, got %v", err)
	}
	if _, err := store.Consume(ctx, "s1", good, now, 3); !errors.Is(err, ErrChallengeLocked) {
		t.Fatalf("expected locked challenge to reject the correct code, got %v", err)
	}
}

func TestChallengeStoreReplaceCooldown(t *testing.T) {
	_, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	next := sha256.Sum256([]byte("999999"))

	if _, _, err := store.Replace(ctx, "s1", next, now, 5*time.Minute, 5*time.Minute, time.Hour); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected not found for unknown attempt, got %v", err)
	}

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "Alice", "signup", time.Hour)

	_, wait, err := store.Replace(ctx, "s1", next, now.Add(2*time.Minute), 5*time.Minute, 5*time.Minute, time.Hour)
	if !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if wait != 3*time.Minute {
		t.Fatalf("expected 3m remaining, got %s", wait)
	}

	later := now.Add(5 * time.Minute)
	attempt, _, err := store.Replace(ctx, "s1", next, later, 5*time.Minute, 5*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("expected replace after cooldown, got %v", err)
	}
	if attempt.Destination != "a@b.com" || attempt.Name != "Alice" || attempt.Purpose != "signup" {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
	if !attempt.ChallengeExpiresAt.Equal(later.Add(5 * time.Minute)) {
		t.Fatalf("expected expiry reset, got %s", attempt.ChallengeExpiresAt)
	}

	got, err := store.Get(ctx, "s1", later)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Attempts != 0 || got.CodeHash != next {
		t.Fatalf("expected fresh challenge, got %+v", got)
	}
}

func TestChallengeStoreConcurrentConsumeSingleWinner(t *testing.T) {
	_, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	good := sha256.Sum256([]byte("123456"))

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, "s1", good, now, 5)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrChallengeNotFound):
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestChallengeStoreInvalidate(t *testing.T) {
	mr, store := newTestChallengeStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	_ = store.Put(ctx, testChallenge("s1", "123456", now), "", "login", time.Hour)
	if err := store.Invalidate(ctx, "s1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if mr.Exists("test:c:s1") || mr.Exists("test:a:s1") {
		t.Fatal("expected keys removed")
	}
	if _, err := store.GetAttempt(ctx, "s1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected attempt gone, got %v", err)
	}
}
