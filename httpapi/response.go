package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MrEthical07/otpgate"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Details    string `json:"details,omitempty"`

	SessionID string `json:"session_id,omitempty"`
}

func (h *Handler) respondError(c *gin.Context, status int, resp ErrorResponse) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("api error response",
			zap.Int("status", status),
			zap.String("code", resp.Code),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", otpgate.RequestIDFromContext(c.Request.Context())),
		)
	}
	c.AbortWithStatusJSON(status, resp)
}

// respondEngineError maps an engine error onto a status and body.
func (h *Handler) respondEngineError(c *gin.Context, err error) {
	_ = c.Error(err)

	var validation *otpgate.ValidationError
	var cooldown *otpgate.CooldownError
	var notify *otpgate.NotifyError

	switch {
	case errors.As(err, &validation):
		h.respondError(c, http.StatusBadRequest, ErrorResponse{Error: validation.Reason, Code: "validation", Field: validation.Field})
	case errors.As(err, &notify):
		resp := ErrorResponse{Error: "Failed to send OTP. Please try again.", Code: "notify_failed", SessionID: notify.Handle.SessionID}
		if !h.production {
			resp.Details = notify.Err.Error()
		}
		h.respondError(c, http.StatusBadGateway, resp)
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.Remaining.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		h.respondError(c, http.StatusTooManyRequests, ErrorResponse{Error: "resend not allowed yet", Code: "cooldown_active", RetryAfter: secs})
	case errors.Is(err, otpgate.ErrMismatch):
		h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "incorrect code", Code: "mismatch"})
	case errors.Is(err, otpgate.ErrExpired):
		h.respondError(c, http.StatusGone, ErrorResponse{Error: "code expired", Code: "expired"})
	case errors.Is(err, otpgate.ErrNoActiveChallenge):
		h.respondError(c, http.StatusNotFound, ErrorResponse{Error: "no active code for this attempt", Code: "no_active_challenge"})
	case errors.Is(err, otpgate.ErrLockedOut):
		h.respondError(c, http.StatusLocked, ErrorResponse{Error: "too many incorrect attempts", Code: "locked_out"})
	case errors.Is(err, otpgate.ErrRateLimited):
		h.respondError(c, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests", Code: "rate_limited"})
	case errors.Is(err, otpgate.ErrInvalidRefreshToken):
		h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired refresh token", Code: "invalid_refresh_token"})
	case errors.Is(err, otpgate.ErrUnauthorized),
		errors.Is(err, otpgate.ErrSessionNotFound),
		errors.Is(err, otpgate.ErrTokenClockSkew):
		h.respondError(c, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "unauthorized"})
	case errors.Is(err, otpgate.ErrUnavailable), errors.Is(err, otpgate.ErrEngineNotReady):
		h.respondError(c, http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable", Code: "unavailable"})
	default:
		h.respondError(c, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"})
	}
}
