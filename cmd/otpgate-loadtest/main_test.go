package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v, want 5", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v, want 10", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty percentile = %v", got)
	}
}

func TestRunPhaseCountsFailures(t *testing.T) {
	stats := runPhase(100, 4, func(_ *rand.Rand, i int) error {
		if i%10 == 0 {
			return context.Canceled
		}
		return nil
	})
	if stats.ops != 100 {
		t.Fatalf("ops = %d, want 100", stats.ops)
	}
	if stats.failures != 10 {
		t.Fatalf("failures = %d, want 10", stats.failures)
	}
}

func TestEngineRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	box := &inbox{}
	engine, err := newEngine(client, box)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	h, err := engine.BeginLogin(ctx, "lt@loadtest.example")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	res, err := engine.Verify(ctx, h.SessionID, box.code("lt@loadtest.example"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}
