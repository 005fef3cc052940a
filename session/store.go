package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is returned when a presented refresh secret is not
// the current one. The session has been revoked by the time it is returned.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps Redis transport and protocol failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRefreshSessionNotFound is returned when the refresh target session does not exist.
var ErrRefreshSessionNotFound = errors.New("refresh session not found")

// ErrRefreshSessionExpired is returned when the refresh target session is expired.
var ErrRefreshSessionExpired = errors.New("refresh session expired")

// ErrRefreshSessionCorrupt is returned when the stored session fields cannot be parsed.
var ErrRefreshSessionCorrupt = errors.New("refresh session corrupt")

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

const deleteSessionScript = `
local identity = redis.call("HGET", KEYS[1], "identity")
local existed = redis.call("DEL", KEYS[1])
if identity then
  redis.call("SREM", ARGV[2] .. identity, ARGV[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// KEYS[1] = session key
// ARGV = session id, identity index prefix, provided hash, next hash, now ms, next expiry ms
const rotateRefreshScript = `
local rec = redis.call("HMGET", KEYS[1], "identity", "refresh", "created", "expires")
if not rec[1] then
  return {0}
end
local expires = tonumber(rec[4])
if not expires or not rec[2] then
  return {4}
end

local user_key = ARGV[2] .. rec[1]

if expires <= tonumber(ARGV[5]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[1])
  return {1}
end

if rec[2] ~= ARGV[3] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", user_key, ARGV[1])
  return {2}
end

local ttl = tonumber(ARGV[6]) - tonumber(ARGV[5])
redis.call("HSET", KEYS[1], "refresh", ARGV[4], "expires", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", user_key, ARGV[1])
if redis.call("PTTL", user_key) < ttl then
  redis.call("PEXPIRE", user_key, ttl)
end

return {3, rec[1], rec[3], ARGV[6]}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// The identity index lives as long as its longest session, so its TTL only
// ever grows.
//
// KEYS[1] = session key, KEYS[2] = identity index key
// ARGV = session id, identity, refresh hash, created ms, expires ms, ttl ms
const saveSessionScript = `
local ttl = tonumber(ARGV[6])
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "identity", ARGV[2], "refresh", ARGV[3], "created", ARGV[4], "expires", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], ARGV[1])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var saveSessionLua = redis.NewScript(saveSessionScript)

// Store is a Redis-backed session store that handles persistence, expiration,
// and atomic refresh-token rotation.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ats"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKeyPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(identity string) string {
	return s.userKeyPrefix() + identity
}

func (s *Store) replayKey(sessionID string) string {
	return s.prefix + ":rp:" + sessionID
}

// Save persists a [Session]. The session key expires with the session; the
// identity index is extended to cover it but never shortened.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.SessionID == "" || sess.Identity == "" {
		return errors.New("session requires id and identity")
	}
	if sess.ExpiresAt <= sess.CreatedAt {
		return errors.New("session expiry must follow creation")
	}

	err := saveSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.SessionID), s.userKey(sess.Identity)},
		sess.SessionID,
		sess.Identity,
		string(sess.RefreshHash[:]),
		sess.CreatedAt,
		sess.ExpiresAt,
		sess.ExpiresAt-sess.CreatedAt,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a live session. Sessions past ExpiresAt are deleted and
// reported as redis.Nil, the same as missing ones.
//
//	Performance: 1 Redis HGETALL.
func (s *Store) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= now.UnixMilli() {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	return sess, nil
}

// Delete removes a session and its identity index entry. Deleting a missing
// session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, sessionID, s.userKeyPrefix()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForIdentity removes every session recorded for identity.
//
// Not atomic with concurrent Save: a session created between the SMEMBERS
// and the DEL survives until its own expiry or the next call.
func (s *Store) DeleteAllForIdentity(ctx context.Context, identity string) error {
	userKey := s.userKey(identity)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessionKeys := make([]string, 0, len(sessionIDs)+1)
	for _, sessionID := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(sessionID))
	}
	sessionKeys = append(sessionKeys, userKey)

	if err := s.redis.Del(ctx, sessionKeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionCount returns the number of tracked session IDs for identity.
func (s *Store) ActiveSessionCount(ctx context.Context, identity string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// TrackReplayAnomaly increments the refresh-reuse counter for a session ID.
func (s *Store) TrackReplayAnomaly(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	key := s.replayKey(sessionID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// ReplayAnomalies returns how often a rotated refresh token was replayed
// against sessionID.
func (s *Store) ReplayAnomalies(ctx context.Context, sessionID string) (int, error) {
	n, err := s.redis.Get(ctx, s.replayKey(sessionID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// RotateRefreshHash atomically replaces the refresh-token hash in the
// session using a Lua CAS script and pushes the expiry out to nextExpiry.
// A hash mismatch deletes the session: a rotated token that comes back is
// treated as stolen.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
//	Security: CAS prevents lost updates under concurrency.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
	now time.Time,
	nextExpiry time.Time,
) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.userKeyPrefix(),
		string(providedHash[:]),
		string(nextHash[:]),
		now.UnixMilli(),
		nextExpiry.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid refresh script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid refresh script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, errors.Join(redis.Nil, ErrRefreshSessionNotFound)
	case rotateStatusExpired:
		return nil, errors.Join(redis.Nil, ErrRefreshSessionExpired)
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
		if len(parts) < 4 {
			return nil, fmt.Errorf("%w: missing rotated session fields", ErrRedisUnavailable)
		}
		sess, decErr := decodeFields(sessionID, map[string]string{
			"identity": asString(parts[1]),
			"refresh":  string(nextHash[:]),
			"created":  asString(parts[2]),
			"expires":  asString(parts[3]),
		})
		if decErr != nil {
			return nil, decErr
		}
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, errors.Join(ErrRedisUnavailable, ErrRefreshSessionCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown refresh script status", ErrRedisUnavailable)
	}
}

func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	refresh := fields["refresh"]
	if fields["identity"] == "" || len(refresh) != 32 {
		return nil, ErrRefreshSessionCorrupt
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, ErrRefreshSessionCorrupt
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, ErrRefreshSessionCorrupt
	}

	sess := &Session{
		SessionID: sessionID,
		Identity:  fields["identity"],
		CreatedAt: created,
		ExpiresAt: expires,
	}
	copy(sess.RefreshHash[:], refresh)
	return sess, nil
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
