package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strconv"
)

// SessionID is the 128-bit identifier shared by login/signup attempts and
// token sessions.
type SessionID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32

	otpMin = 100000
	otpMax = 999999
)

var otpSpan = big.NewInt(otpMax - otpMin + 1)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewAttemptID returns the opaque id correlating one login or signup
// attempt with its challenge.
func NewAttemptID() (string, error) {
	sid, err := NewSessionID()
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}

// NewOTP returns a six digit code drawn uniformly from [100000, 999999].
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// HashCode binds a code to the attempt it was issued for so a stored hash
// is useless against any other attempt.
func HashCode(sessionID, code string) [32]byte {
	buf := make([]byte, 0, len(sessionID)+1+len(code))
	buf = append(buf, sessionID...)
	buf = append(buf, ':')
	buf = append(buf, code...)
	return sha256.Sum256(buf)
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}
