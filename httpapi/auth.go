package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type handleResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyResponse struct {
	Identity string            `json:"identity"`
	Name     string            `json:"name,omitempty"`
	Purpose  string            `json:"purpose"`
	Tokens   otpgate.TokenPair `json:"tokens"`
}

type pendingResponse struct {
	SessionID   string    `json:"session_id"`
	Destination string    `json:"destination"`
	Purpose     string    `json:"purpose"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int       `json:"expires_in"`
	ResendAt    time.Time `json:"resend_at"`
	ResendIn    int       `json:"resend_in"`
	Attempts    int       `json:"attempts"`
	Locked      bool      `json:"locked"`
}

type meResponse struct {
	Identity  string    `json:"identity"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// bind decodes and validates the JSON body into req. It writes the 400
// itself and reports whether the handler may continue.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "validation"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		field, msg := validationFailure(err)
		h.respondError(c, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "validation", Field: field})
		return false
	}
	return true
}

// POST /api/auth/signup
func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if h.credentials != nil {
		if err := h.credentials.CheckSignup(ctx, req.Name, req.Email, req.Password); err != nil {
			_ = c.Error(err)
			h.respondError(c, http.StatusConflict, ErrorResponse{Error: "signup rejected", Code: "signup_rejected"})
			return
		}
	}

	handle, err := h.svc.BeginSignup(ctx, req.Name, req.Email)
	h.finishBegin(c, otpgate.PurposeSignup, bootstrap{Name: strings.TrimSpace(req.Name), Email: req.Email}, handle, err)
}

// POST /api/auth/login
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if h.credentials != nil {
		if err := h.credentials.CheckLogin(ctx, req.Email, req.Password); err != nil {
			_ = c.Error(err)
			h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials", Code: "invalid_credentials"})
			return
		}
	}

	handle, err := h.svc.BeginLogin(ctx, req.Email)
	h.finishBegin(c, otpgate.PurposeLogin, bootstrap{Email: req.Email}, handle, err)
}

// finishBegin stores the bootstrap cookie whenever a challenge exists,
// including when delivery failed, so the user can ask for a resend.
func (h *Handler) finishBegin(c *gin.Context, flow string, b bootstrap, handle otpgate.ChallengeHandle, err error) {
	var notify *otpgate.NotifyError
	if errors.As(err, &notify) {
		handle = notify.Handle
	}
	if handle.SessionID != "" {
		b.SessionID = handle.SessionID
		h.setBootstrap(c, flow, b)
	}
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, handleResponse{SessionID: handle.SessionID, ExpiresAt: handle.ExpiresAt})
}

// attemptID picks the attempt from the request body, falling back to the
// flow's bootstrap cookie.
func (h *Handler) attemptID(c *gin.Context, flow, fromBody string) (string, bool) {
	if fromBody != "" {
		return fromBody, true
	}
	b, err := h.readBootstrap(c, flow)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, ErrorResponse{Error: "no pending attempt, start again", Code: "no_pending_attempt"})
		return "", false
	}
	return b.SessionID, true
}

// POST /api/auth/verify
func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if !h.bind(c, &req) {
		return
	}
	sessionID, ok := h.attemptID(c, req.Flow, req.SessionID)
	if !ok {
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), sessionID, req.OTP)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}

	h.setTokens(c, res.Tokens)
	h.clearCookie(c, h.bootstrapCookieName(req.Flow), true)

	c.JSON(http.StatusOK, verifyResponse{
		Identity: res.Identity,
		Name:     res.Name,
		Purpose:  res.Purpose,
		Tokens:   res.Tokens,
	})
}

// POST /api/auth/resend
func (h *Handler) resend(c *gin.Context) {
	var req resendRequest
	if !h.bind(c, &req) {
		return
	}
	sessionID, ok := h.attemptID(c, req.Flow, req.SessionID)
	if !ok {
		return
	}

	handle, err := h.svc.Resend(c.Request.Context(), sessionID)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, handleResponse{SessionID: handle.SessionID, ExpiresAt: handle.ExpiresAt})
}

// GET /api/auth/pending?flow=signup|login
func (h *Handler) pending(c *gin.Context) {
	flow := c.Query("flow")
	if flow != otpgate.PurposeSignup && flow != otpgate.PurposeLogin {
		h.respondError(c, http.StatusBadRequest, ErrorResponse{Error: fieldMessages["flow"][""], Code: "validation", Field: "flow"})
		return
	}
	sessionID, ok := h.attemptID(c, flow, c.Query("session_id"))
	if !ok {
		return
	}

	p, err := h.svc.Pending(c.Request.Context(), sessionID)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, pendingResponse{
		SessionID:   p.SessionID,
		Destination: p.Destination,
		Purpose:     p.Purpose,
		ExpiresAt:   p.ExpiresAt,
		ExpiresIn:   ceilSeconds(p.ExpiresIn),
		ResendAt:    p.ResendAt,
		ResendIn:    ceilSeconds(p.ResendIn),
		Attempts:    p.Attempts,
		Locked:      p.Locked,
	})
}

// refreshToken reads the refresh token from the JSON body or, failing
// that, the refresh cookie.
func (h *Handler) refreshToken(c *gin.Context) string {
	if c.Request.ContentLength != 0 {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}
	token, _ := c.Cookie(h.cookies.RefreshName)
	return token
}

// POST /api/auth/refresh
func (h *Handler) refresh(c *gin.Context) {
	token := h.refreshToken(c)
	if token == "" {
		h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired refresh token", Code: "invalid_refresh_token"})
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, otpgate.ErrInvalidRefreshToken) {
			h.clearCookie(c, h.cookies.AccessName, false)
			h.clearCookie(c, h.cookies.RefreshName, true)
		}
		h.respondEngineError(c, err)
		return
	}

	h.setTokens(c, pair)
	c.JSON(http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *Handler) logout(c *gin.Context) {
	if token := h.refreshToken(c); token != "" {
		err := h.svc.Logout(c.Request.Context(), token)
		if err != nil && !errors.Is(err, otpgate.ErrInvalidRefreshToken) {
			h.respondEngineError(c, err)
			return
		}
		if err != nil {
			h.logger.Debug("logout with malformed refresh token", zap.String("request_id", otpgate.RequestIDFromContext(c.Request.Context())))
		}
	}

	h.clearAll(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/me
func (h *Handler) me(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c.Request.Context())
	if !ok {
		h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, meResponse{
		Identity:  claims.Identity,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
