package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	maxFutureIATCap     = 24 * time.Hour
)

var (
	errMissingKid   = errors.New("missing kid")
	errUnknownKid   = errors.New("unknown kid")
	errIATInFuture  = errors.New("token iat too far in the future")
	errNoSigningKey = errors.New("no signing key configured")
)

// Config holds signing keys and validation rules. Now defaults to time.Now
// and is used for both issuing and validating.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// Manager issues and verifies signed access tokens. It is immutable after
// NewManager and safe for concurrent use.
type Manager struct {
	config Config
	keys   keyring
	parser *jwt.Parser
}

// keyring holds every key already decoded for the configured algorithm.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	verify any
	byKid  map[string]any
}

// AccessClaims are the claims carried by an access token. The verified
// identity travels in the registered "sub" claim.
type AccessClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Identity returns the subject the token was issued to.
func (c *AccessClaims) Identity() string {
	return c.Subject
}

// NewManager validates cfg, decodes its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config: cfg,
		keys:   keys,
		parser: jwt.NewParser(cfg.parserOptions(keys.method)...),
	}, nil
}

func (c *Config) normalize() error {
	switch {
	case c.AccessTTL <= 0:
		return errors.New("invalid TTL configuration")
	case c.Leeway < 0 || c.Leeway > maxLeeway:
		return errors.New("invalid leeway configuration")
	}
	if c.MaxFutureIAT == 0 {
		c.MaxFutureIAT = defaultMaxFutureIAT
	}
	if c.MaxFutureIAT < 0 || c.MaxFutureIAT > maxFutureIATCap {
		return errors.New("invalid MaxFutureIAT configuration")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.KeyID = strings.TrimSpace(c.KeyID)
	if c.KeyID != "" && len(c.VerifyKeys) > 0 {
		if _, ok := c.VerifyKeys[c.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

func (c *Config) parserOptions(method jwt.SigningMethod) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(c.Now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.Leeway),
	}
	if c.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	return opts
}

func loadKeys(cfg Config) (keyring, error) {
	var decode func([]byte) (any, error)
	kr := keyring{byKid: make(map[string]any, len(cfg.VerifyKeys))}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return kr, errors.New("hs256 requires private key")
		}
		kr.method = jwt.SigningMethodHS256
		kr.sign, kr.verify = cfg.PrivateKey, cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return kr, errors.New("ed25519 requires public key or verify key set")
		}
		kr.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return kr, err
			}
			kr.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublicKey(cfg.PublicKey)
			if err != nil {
				return kr, err
			}
			kr.verify = pub
		}
		decode = func(b []byte) (any, error) { return edPublicKey(b) }
	default:
		return kr, errors.New("unsupported signing method")
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return kr, errors.New("verify key map contains empty kid")
		}
		key, err := decode(raw)
		if err != nil {
			return kr, fmt.Errorf("invalid %s verify key for kid %q: %w", cfg.SigningMethod, kid, err)
		}
		kr.byKid[kid] = key
	}
	return kr, nil
}

// CreateAccess signs an access token for identity bound to session sid.
// Every token carries a fresh random jti, so two tokens minted in the same
// second for the same session still differ.
func (j *Manager) CreateAccess(identity, sid string) (string, error) {
	if identity == "" || sid == "" {
		return "", errors.New("access token requires identity and session id")
	}
	if j.keys.sign == nil {
		return "", errNoSigningKey
	}

	now := j.config.Now()
	claims := AccessClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.keys.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.keys.sign)
}

// AccessTTL reports the configured access-token lifetime.
func (j *Manager) AccessTTL() time.Duration {
	return j.config.AccessTTL
}

// ParseAccess verifies tokenStr and returns its claims. Signature, algorithm,
// kid, issuer, audience and expiry are all enforced.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := j.parser.ParseWithClaims(tokenStr, claims, j.verificationKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" || claims.SID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errIATInFuture
	}
	return claims, nil
}

// verificationKey picks the key for t. With a verify key set the token's kid
// selects it; with only KeyID the kid must match; otherwise the single
// configured key is used.
func (j *Manager) verificationKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.keys.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)

	if len(j.keys.byKid) > 0 {
		if kid == "" {
			return nil, errMissingKid
		}
		key, ok := j.keys.byKid[kid]
		if !ok {
			return nil, errUnknownKid
		}
		return key, nil
	}

	if j.config.KeyID != "" {
		if kid == "" {
			return nil, errMissingKid
		}
		if kid != j.config.KeyID {
			return nil, errUnknownKid
		}
	}
	if j.keys.verify == nil {
		return nil, errUnknownKid
	}
	return j.keys.verify, nil
}

// edPrivateKey accepts a raw 64-byte seed+key or a PKCS#8 PEM block.
func edPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return key, nil
}

// edPublicKey accepts a raw 32-byte key or a PKIX PEM block.
func edPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return key, nil
}
