package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeExpired          = errors.New("challenge expired")
	ErrChallengeMismatch         = errors.New("challenge code mismatch")
	ErrChallengeLocked           = errors.New("challenge locked")
	ErrResendCooldown            = errors.New("resend cooldown active")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusExpired  int64 = 1
	consumeStatusLocked   int64 = 2
	consumeStatusMismatch int64 = 3
	consumeStatusMatched  int64 = 4

	replaceStatusNotFound int64 = 0
	replaceStatusCooldown int64 = 1
	replaceStatusReplaced int64 = 2
)

// putChallengeLua writes a fresh challenge and its attempt record, replacing
// whatever the attempt held before.
// KEYS[1] = challenge key, KEYS[2] = attempt key
// ARGV = dest, hash, created ms, expires ms, name, purpose, retention ms
var putChallengeLua = redis.NewScript(`
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('HSET', KEYS[1], 'dest', ARGV[1], 'hash', ARGV[2], 'created', ARGV[3], 'expires', ARGV[4], 'attempts', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[7])
redis.call('HSET', KEYS[2], 'dest', ARGV[1], 'name', ARGV[5], 'purpose', ARGV[6], 'issued', ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[7])
return 1
`)

// replaceChallengeLua supersedes the challenge of an existing attempt once
// the resend cooldown has elapsed.
// KEYS[1] = challenge key, KEYS[2] = attempt key
// ARGV = hash, now ms, expires ms, cooldown ms, retention ms
var replaceChallengeLua = redis.NewScript(`
local issued = redis.call('HGET', KEYS[2], 'issued')
if not issued then
  return {0}
end
local wait = tonumber(issued) + tonumber(ARGV[4]) - tonumber(ARGV[2])
if wait > 0 then
  return {1, wait}
end
local dest = redis.call('HGET', KEYS[2], 'dest') or ''
local name = redis.call('HGET', KEYS[2], 'name') or ''
local purpose = redis.call('HGET', KEYS[2], 'purpose') or ''
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'dest', dest, 'hash', ARGV[1], 'created', ARGV[2], 'expires', ARGV[3], 'attempts', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('HSET', KEYS[2], 'issued', ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
return {2, dest, name, purpose}
`)

// consumeChallengeLua checks a submitted code against the stored hash.
// KEYS[1] = challenge key, KEYS[2] = attempt key
// ARGV = provided hash, now ms, max attempts (0 disables lockout)
var consumeChallengeLua = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'dest', 'hash', 'created', 'expires', 'attempts')
if not rec[1] or not rec[4] then
  return {0}
end
local now = tonumber(ARGV[2])
if now > tonumber(rec[4]) then
  redis.call('DEL', KEYS[1])
  return {1}
end
local max = tonumber(ARGV[3])
local attempts = tonumber(rec[5] or '0')
if max > 0 and attempts > max then
  return {2, attempts}
end
if rec[2] ~= ARGV[1] then
  attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  if max > 0 and attempts > max then
    return {2, attempts}
  end
  return {3, attempts}
end
local owner = redis.call('HMGET', KEYS[2], 'name', 'purpose')
redis.call('DEL', KEYS[1], KEYS[2])
return {4, rec[1], rec[2], rec[3], rec[4], attempts, owner[1] or '', owner[2] or ''}
`)

// Challenge is the stored form of one outstanding code. The plaintext code
// never reaches the store.
type Challenge struct {
	SessionID   string
	Destination string
	CodeHash    [32]byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	Consumed    bool
}

// Attempt is the login or signup attempt a challenge belongs to. It outlives
// individual challenges so a resend knows where to deliver.
type Attempt struct {
	SessionID          string
	Destination        string
	Name               string
	Purpose            string
	IssuedAt           time.Time
	ChallengeExpiresAt time.Time
	Attempts           int
}

// ConsumeResult reports the failed-attempt count after a verification and,
// on a match, the consumed challenge with its attempt's name and purpose.
type ConsumeResult struct {
	Challenge *Challenge
	Attempts  int
	Name      string
	Purpose   string
}

type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "otc"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) challengeKey(sessionID string) string {
	return s.prefix + ":c:" + sessionID
}

func (s *ChallengeStore) attemptKey(sessionID string) string {
	return s.prefix + ":a:" + sessionID
}

// Put stores challenge as the only active challenge for its attempt.
// retention bounds how long the attempt and an expired or locked challenge
// remain readable; it must not be shorter than the challenge TTL.
func (s *ChallengeStore) Put(ctx context.Context, challenge *Challenge, name, purpose string, retention time.Duration) error {
	if challenge == nil || challenge.SessionID == "" {
		return errors.New("challenge requires session id")
	}
	if retention < challenge.ExpiresAt.Sub(challenge.CreatedAt) {
		retention = challenge.ExpiresAt.Sub(challenge.CreatedAt)
	}

	err := putChallengeLua.Run(ctx, s.redis,
		[]string{s.challengeKey(challenge.SessionID), s.attemptKey(challenge.SessionID)},
		challenge.Destination,
		string(challenge.CodeHash[:]),
		challenge.CreatedAt.UnixMilli(),
		challenge.ExpiresAt.UnixMilli(),
		name,
		purpose,
		retention.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Get returns the active challenge for sessionID. Challenges past their
// expiry are evicted and reported as not found.
func (s *ChallengeStore) Get(ctx context.Context, sessionID string, now time.Time) (*Challenge, error) {
	key := s.challengeKey(sessionID)
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}

	challenge, err := decodeChallenge(sessionID, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	if now.After(challenge.ExpiresAt) {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
		return nil, ErrChallengeNotFound
	}
	return challenge, nil
}

// GetAttempt returns the attempt record with the expiry of its current
// challenge, if one is still stored.
func (s *ChallengeStore) GetAttempt(ctx context.Context, sessionID string) (*Attempt, error) {
	var attemptCmd, challengeCmd *redis.SliceCmd
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		attemptCmd = pipe.HMGet(ctx, s.attemptKey(sessionID), "dest", "name", "purpose", "issued")
		challengeCmd = pipe.HMGet(ctx, s.challengeKey(sessionID), "expires", "attempts")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	vals := attemptCmd.Val()
	if len(vals) != 4 || vals[0] == nil || vals[3] == nil {
		return nil, ErrChallengeNotFound
	}

	attempt := &Attempt{
		SessionID:   sessionID,
		Destination: asString(vals[0]),
		Name:        asString(vals[1]),
		Purpose:     asString(vals[2]),
	}
	issued, err := strconv.ParseInt(asString(vals[3]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid attempt issue time", ErrChallengeRedisUnavailable)
	}
	attempt.IssuedAt = time.UnixMilli(issued)

	if cv := challengeCmd.Val(); len(cv) == 2 && cv[0] != nil {
		if expires, err := strconv.ParseInt(asString(cv[0]), 10, 64); err == nil {
			attempt.ChallengeExpiresAt = time.UnixMilli(expires)
		}
		if n, err := strconv.Atoi(asString(cv[1])); err == nil {
			attempt.Attempts = n
		}
	}
	return attempt, nil
}

// Invalidate removes the challenge and its attempt.
func (s *ChallengeStore) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.challengeKey(sessionID), s.attemptKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Replace supersedes the attempt's challenge with a new code hash. It fails
// with ErrResendCooldown, together with the remaining wait, until cooldown
// has passed since the previous issue.
func (s *ChallengeStore) Replace(
	ctx context.Context,
	sessionID string,
	codeHash [32]byte,
	now time.Time,
	ttl, cooldown, retention time.Duration,
) (*Attempt, time.Duration, error) {
	if retention < ttl {
		retention = ttl
	}

	result, err := replaceChallengeLua.Run(ctx, s.redis,
		[]string{s.challengeKey(sessionID), s.attemptKey(sessionID)},
		string(codeHash[:]),
		now.UnixMilli(),
		now.Add(ttl).UnixMilli(),
		cooldown.Milliseconds(),
		retention.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	if len(result) == 0 {
		return nil, 0, fmt.Errorf("%w: empty replace result", ErrChallengeRedisUnavailable)
	}

	status, _ := result[0].(int64)
	switch status {
	case replaceStatusNotFound:
		return nil, 0, ErrChallengeNotFound
	case replaceStatusCooldown:
		var waitMs int64
		if len(result) > 1 {
			waitMs, _ = result[1].(int64)
		}
		return nil, time.Duration(waitMs) * time.Millisecond, ErrResendCooldown
	case replaceStatusReplaced:
		if len(result) < 4 {
			return nil, 0, fmt.Errorf("%w: short replace result", ErrChallengeRedisUnavailable)
		}
		return &Attempt{
			SessionID:          sessionID,
			Destination:        asString(result[1]),
			Name:               asString(result[2]),
			Purpose:            asString(result[3]),
			IssuedAt:           time.UnixMilli(now.UnixMilli()),
			ChallengeExpiresAt: time.UnixMilli(now.Add(ttl).UnixMilli()),
		}, 0, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown replace status", ErrChallengeRedisUnavailable)
	}
}

// Consume verifies providedHash against the active challenge. A match
// deletes the challenge and its attempt; a mismatch counts against
// maxAttempts.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	now time.Time,
	maxAttempts int,
) (ConsumeResult, error) {
	result, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{s.challengeKey(sessionID), s.attemptKey(sessionID)},
		string(providedHash[:]),
		now.UnixMilli(),
		maxAttempts,
	).Slice()
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	if len(result) == 0 {
		return ConsumeResult{}, fmt.Errorf("%w: empty consume result", ErrChallengeRedisUnavailable)
	}

	status, _ := result[0].(int64)
	attemptsAt := func(i int) int {
		if len(result) <= i {
			return 0
		}
		n, _ := result[i].(int64)
		return int(n)
	}

	switch status {
	case consumeStatusNotFound:
		return ConsumeResult{}, ErrChallengeNotFound
	case consumeStatusExpired:
		return ConsumeResult{}, ErrChallengeExpired
	case consumeStatusLocked:
		return ConsumeResult{Attempts: attemptsAt(1)}, ErrChallengeLocked
	case consumeStatusMismatch:
		return ConsumeResult{Attempts: attemptsAt(1)}, ErrChallengeMismatch
	case consumeStatusMatched:
		if len(result) < 8 {
			return ConsumeResult{}, fmt.Errorf("%w: short consume result", ErrChallengeRedisUnavailable)
		}
		challenge, err := decodeChallenge(sessionID, map[string]string{
			"dest":     asString(result[1]),
			"hash":     asString(result[2]),
			"created":  asString(result[3]),
			"expires":  asString(result[4]),
			"attempts": strconv.Itoa(attemptsAt(5)),
		})
		if err != nil {
			return ConsumeResult{}, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
		// Lua string equality is not constant time; repeat the check here.
		if subtle.ConstantTimeCompare(challenge.CodeHash[:], providedHash[:]) != 1 {
			return ConsumeResult{}, ErrChallengeMismatch
		}
		challenge.Consumed = true
		return ConsumeResult{
			Challenge: challenge,
			Attempts:  challenge.Attempts,
			Name:      asString(result[6]),
			Purpose:   asString(result[7]),
		}, nil
	default:
		return ConsumeResult{}, fmt.Errorf("%w: unknown consume status", ErrChallengeRedisUnavailable)
	}
}

func decodeChallenge(sessionID string, fields map[string]string) (*Challenge, error) {
	hash := fields["hash"]
	if len(hash) != 32 {
		return nil, errors.New("invalid challenge hash")
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, errors.New("invalid challenge creation time")
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, errors.New("invalid challenge expiry")
	}
	attempts, _ := strconv.Atoi(fields["attempts"])

	challenge := &Challenge{
		SessionID:   sessionID,
		Destination: fields["dest"],
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
		Attempts:    attempts,
	}
	copy(challenge.CodeHash[:], hash)
	return challenge, nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
