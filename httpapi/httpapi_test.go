package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/httpapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	codes []string
	fail  error
}

func (n *recordingNotifier) SendOTP(_ context.Context, _ string, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	return n.fail
}

func (n *recordingNotifier) last(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.codes, "expected a code to have been sent")
	return n.codes[len(n.codes)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type rejectingChecker struct{}

func (rejectingChecker) CheckSignup(context.Context, string, string, string) error {
	return errors.New("email taken")
}

func (rejectingChecker) CheckLogin(context.Context, string, string) error {
	return errors.New("bad password")
}

type testEnv struct {
	router   *gin.Engine
	engine   *otpgate.Engine
	notifier *recordingNotifier
	delivery *recordingNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T, mutate func(*otpgate.Config, *httpapi.Options)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := otpgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	env := &testEnv{
		notifier: &recordingNotifier{},
		delivery: &recordingNotifier{},
		clock:    &testClock{now: time.UnixMilli(1_700_000_000_000)},
	}
	opts := httpapi.Options{Delivery: env.delivery}
	if mutate != nil {
		mutate(&cfg, &opts)
	}

	engine, err := otpgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(env.notifier).
		WithClock(env.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	opts.Config = engine.Config()
	env.engine = engine
	env.router = httpapi.New(engine, opts).Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies []*http.Cookie, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func cookieByName(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
}

// signedIn runs signup and verify and returns the verify response.
func (e *testEnv) signedIn(t *testing.T) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rr := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "Passw0rd!",
	}, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	boot := cookieByName(rr, "tempUserData")
	require.NotNil(t, boot)

	rr = e.do(t, http.MethodPost, "/api/auth/verify", map[string]string{
		"otp": e.notifier.last(t), "flow": "signup",
	}, []*http.Cookie{boot}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	decode(t, rr, &body)
	return rr, body
}

func TestSendOTP(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/send-otp", map[string]string{"email": "a@b.com", "otp": "123456"}, nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "123456", env.delivery.last(t))
}

func TestSendOTPNumericCode(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/send-otp", map[string]any{"email": "a@b.com", "otp": 123456}, nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "123456", env.delivery.last(t))

	tests := []struct {
		name string
		otp  any
		want string
	}{
		{"short number", 12345, "Invalid OTP format. Must be 6 digits."},
		{"fraction", 123456.5, "Invalid OTP format. Must be 6 digits."},
		{"zero", 0, "Email and OTP are required"},
		{"bool", true, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/send-otp", map[string]any{"email": "a@b.com", "otp": tt.otp}, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var body map[string]string
			decode(t, rr, &body)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestSendOTPValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{"missing otp", map[string]string{"email": "a@b.com"}, "Email and OTP are required"},
		{"missing email", map[string]string{"otp": "123456"}, "Email and OTP are required"},
		{"bad email", map[string]string{"email": "a@b", "otp": "123456"}, "Invalid email format"},
		{"short otp", map[string]string{"email": "a@b.com", "otp": "12345"}, "Invalid OTP format. Must be 6 digits."},
		{"alpha otp", map[string]string{"email": "a@b.com", "otp": "12a456"}, "Invalid OTP format. Must be 6 digits."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/send-otp", tt.body, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var body map[string]string
			decode(t, rr, &body)
			assert.Equal(t, map[string]string{"error": tt.want}, body)
		})
	}
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.delivery.fail = errors.New("smtp: auth failed")

	rr := env.do(t, http.MethodPost, "/api/send-otp", map[string]string{"email": "a@b.com", "otp": "123456"}, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "Failed to send OTP. Please try again.", body["error"])
	assert.Equal(t, "smtp: auth failed", body["details"])
}

func TestSendOTPDeliveryFailureHidesDetailsInProduction(t *testing.T) {
	env := newTestEnv(t, func(cfg *otpgate.Config, _ *httpapi.Options) {
		cfg.Security.ProductionMode = true
	})
	env.delivery.fail = errors.New("smtp: auth failed")

	rr := env.do(t, http.MethodPost, "/api/send-otp", map[string]string{"email": "a@b.com", "otp": "123456"}, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "details")
}

func TestSendOTPPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodOptions, "/api/send-otp", nil, nil, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
}

func TestSignupVerifySetsCookies(t *testing.T) {
	env := newTestEnv(t, nil)

	rr, body := env.signedIn(t)
	assert.Equal(t, "alice@example.com", body["identity"])
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, "signup", body["purpose"])

	access := cookieByName(rr, "authToken")
	require.NotNil(t, access)
	assert.False(t, access.HttpOnly)
	assert.Equal(t, 24*60*60, access.MaxAge)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.False(t, access.Secure)

	refresh := cookieByName(rr, "refreshToken")
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, 7*24*60*60, refresh.MaxAge)

	boot := cookieByName(rr, "tempUserData")
	require.NotNil(t, boot)
	assert.Less(t, boot.MaxAge, 0, "bootstrap cookie should be cleared")

	me := env.do(t, http.MethodGet, "/api/me", nil, nil, http.Header{"Authorization": {"Bearer " + access.Value}})
	assert.Equal(t, http.StatusOK, me.Code)
	var meBody map[string]any
	decode(t, me, &meBody)
	assert.Equal(t, "alice@example.com", meBody["identity"])
}

func TestProductionCookiesAreSecure(t *testing.T) {
	env := newTestEnv(t, func(cfg *otpgate.Config, _ *httpapi.Options) {
		cfg.Security.ProductionMode = true
	})

	rr, _ := env.signedIn(t)
	assert.True(t, cookieByName(rr, "authToken").Secure)
	assert.True(t, cookieByName(rr, "refreshToken").Secure)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "password",
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body httpapi.ErrorResponse
	decode(t, rr, &body)
	assert.Equal(t, "password", body.Field)
	assert.Contains(t, body.Error, "uppercase")

	rr = env.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "alice@example.com", "password": "Passw0rd!",
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	decode(t, rr, &body)
	assert.Equal(t, "Name is required", body.Error)
}

func TestLoginRejectedByCredentials(t *testing.T) {
	env := newTestEnv(t, func(_ *otpgate.Config, opts *httpapi.Options) {
		opts.Credentials = rejectingChecker{}
	})

	rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@b.com", "password": "whatever",
	}, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, cookieByName(rr, "tempLoginData"))
}

func TestLoginNotifyFailureKeepsAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	env.notifier.fail = errors.New("provider down")

	rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "a@b.com", "password": "whatever",
	}, nil, nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	var body httpapi.ErrorResponse
	decode(t, rr, &body)
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, "provider down", body.Details)
	require.NotNil(t, cookieByName(rr, "tempLoginData"))

	env.notifier.fail = nil
	verify := env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{
		"otp": env.notifier.last(t), "flow": "login", "session_id": body.SessionID,
	}, nil, nil)
	assert.Equal(t, http.StatusOK, verify.Code)
}

func TestVerifyErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": "123456", "flow": "login"}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com", "password": "x"}, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	boot := cookieByName(rr, "tempLoginData")

	wrong := "100000"
	if env.notifier.last(t) == wrong {
		wrong = "100001"
	}
	rr = env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": wrong, "flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	env.clock.Advance(301 * time.Second)
	rr = env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": env.notifier.last(t), "flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusGone, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": env.notifier.last(t), "flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVerifyLockedOut(t *testing.T) {
	env := newTestEnv(t, func(cfg *otpgate.Config, _ *httpapi.Options) {
		cfg.OTP.MaxAttempts = 1
	})

	rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com", "password": "x"}, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	boot := cookieByName(rr, "tempLoginData")

	wrong := "100000"
	if env.notifier.last(t) == wrong {
		wrong = "100001"
	}
	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": wrong, "flow": "login"}, []*http.Cookie{boot}, nil)
	}
	rr = env.do(t, http.MethodPost, "/api/auth/verify", map[string]string{"otp": env.notifier.last(t), "flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusLocked, rr.Code)
}

func TestResendCooldown(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com", "password": "x"}, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	boot := cookieByName(rr, "tempLoginData")

	env.clock.Advance(2 * time.Minute)
	rr = env.do(t, http.MethodPost, "/api/auth/resend", map[string]string{"flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "180", rr.Header().Get("Retry-After"))

	var body httpapi.ErrorResponse
	decode(t, rr, &body)
	assert.Equal(t, 180, body.RetryAfter)

	env.clock.Advance(3 * time.Minute)
	rr = env.do(t, http.MethodPost, "/api/auth/resend", map[string]string{"flow": "login"}, []*http.Cookie{boot}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPending(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@example.com", "password": "x"}, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	boot := cookieByName(rr, "tempLoginData")

	env.clock.Advance(100 * time.Second)
	rr = env.do(t, http.MethodGet, "/api/auth/pending?flow=login", nil, []*http.Cookie{boot}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	decode(t, rr, &body)
	assert.EqualValues(t, 200, body["expires_in"])
	assert.EqualValues(t, 200, body["resend_in"])
	assert.Equal(t, "a***@example.com", body["destination"])

	rr = env.do(t, http.MethodGet, "/api/auth/pending?flow=other", nil, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshRotatesCookies(t *testing.T) {
	env := newTestEnv(t, nil)
	signed, _ := env.signedIn(t)
	oldRefresh := cookieByName(signed, "refreshToken")

	rr := env.do(t, http.MethodPost, "/api/auth/refresh", nil, []*http.Cookie{oldRefresh}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	newRefresh := cookieByName(rr, "refreshToken")
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, oldRefresh.Value, newRefresh.Value)

	var pair otpgate.TokenPair
	decode(t, rr, &pair)
	assert.Equal(t, newRefresh.Value, pair.RefreshToken)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, []*http.Cookie{oldRefresh}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	cleared := cookieByName(rr, "refreshToken")
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestRefreshFromBody(t *testing.T) {
	env := newTestEnv(t, nil)
	_, body := env.signedIn(t)
	tokens := body["tokens"].(map[string]any)

	rr := env.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": tokens["refresh_token"].(string)}, nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	signed, _ := env.signedIn(t)
	access := cookieByName(signed, "authToken")
	refresh := cookieByName(signed, "refreshToken")

	rr := env.do(t, http.MethodPost, "/api/auth/logout", nil, []*http.Cookie{refresh}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	for _, name := range []string{"authToken", "refreshToken", "tempUserData", "tempLoginData"} {
		c := cookieByName(rr, name)
		require.NotNil(t, c, name)
		assert.Less(t, c.MaxAge, 0, name)
	}

	me := env.do(t, http.MethodGet, "/api/me", nil, nil, http.Header{"Authorization": {"Bearer " + access.Value}})
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/logout", nil, []*http.Cookie{refresh}, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/me", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
