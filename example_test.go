package otpgate_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/otpgate"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := otpgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("replace-with-a-32-byte-or-longer-secret")

	engine, err := otpgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(otpgate.NotifierFunc(func(ctx context.Context, destination, code string) error {
			// Hand the code to a mail provider.
			return nil
		})).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_Verify shows the verify entrypoint and how to branch on
// the outcome.
func ExampleEngine_Verify() {
	var engine *otpgate.Engine
	ctx := context.Background()

	res, err := engine.Verify(ctx, "attempt-id", "123456")
	var cooldown *otpgate.CooldownError
	switch {
	case err == nil:
		fmt.Println("signed in as", res.Identity)
	case errors.Is(err, otpgate.ErrMismatch):
		fmt.Println("wrong code, try again")
	case errors.Is(err, otpgate.ErrExpired):
		fmt.Println("code expired, request a new one")
	case errors.As(err, &cooldown):
		fmt.Println("resend available in", cooldown.Remaining)
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *otpgate.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[otpgate.MetricOTPIssued]
}
