package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// attempt is one simulated user: the code it was sent and the tokens it
// holds after verifying.
type attempt struct {
	email     string
	sessionID string
	mu        sync.Mutex
	tokens    otpgate.TokenPair
}

// inbox records the last code sent to each destination.
type inbox struct {
	codes sync.Map
}

func (b *inbox) SendOTP(_ context.Context, destination, code string) error {
	b.codes.Store(destination, code)
	return nil
}

func (b *inbox) code(destination string) string {
	v, _ := b.codes.Load(destination)
	s, _ := v.(string)
	return s
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to sign in")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	box := &inbox{}
	engine, err := newEngine(client, box)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	attempts := make([]attempt, *users)
	for i := range attempts {
		attempts[i].email = fmt.Sprintf("user%d@loadtest.example", i)
	}

	issueStats := runPhase(len(attempts), *concurrency, func(_ *rand.Rand, i int) error {
		h, err := engine.BeginLogin(ctx, attempts[i].email)
		if err != nil {
			return err
		}
		attempts[i].sessionID = h.SessionID
		return nil
	})

	verifyStats := runPhase(len(attempts), *concurrency, func(_ *rand.Rand, i int) error {
		a := &attempts[i]
		res, err := engine.Verify(ctx, a.sessionID, box.code(a.email))
		if err != nil {
			return err
		}
		a.tokens = res.Tokens
		return nil
	})

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &attempts[r.Intn(len(attempts))]
		a.mu.Lock()
		token := a.tokens.AccessToken
		a.mu.Unlock()
		_, err := engine.Validate(ctx, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &attempts[r.Intn(len(attempts))]
		a.mu.Lock()
		defer a.mu.Unlock()
		next, err := engine.Refresh(ctx, a.tokens.RefreshToken)
		if err != nil {
			return err
		}
		a.tokens = next
		return nil
	})

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("verify", verifyStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: issued=%d verified=%d refreshed=%d reuse=%d\n",
		snap.Counters[otpgate.MetricOTPIssued],
		snap.Counters[otpgate.MetricOTPVerifySuccess],
		snap.Counters[otpgate.MetricRefreshSuccess],
		snap.Counters[otpgate.MetricRefreshReuseDetected],
	)
}

func newEngine(client redis.UniversalClient, n otpgate.Notifier) (*otpgate.Engine, error) {
	cfg := otpgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-secret-0123456789abcdef")
	cfg.OTP.EnableIssueThrottle = false
	cfg.Security.EnableRefreshThrottle = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	return otpgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithNotifier(n).
		Build()
}

// runPhase runs op ops times across concurrency workers and records each
// call's latency.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
