package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/gin-gonic/gin"
)

// bootstrap is the pending-attempt payload kept in the signup or login
// cookie between the credentials form and the code form.
type bootstrap struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
}

var errNoBootstrap = errors.New("no pending attempt")

func (h *Handler) bootstrapCookieName(flow string) string {
	if flow == otpgate.PurposeSignup {
		return h.cookies.SignupName
	}
	return h.cookies.LoginName
}

func (h *Handler) setCookie(c *gin.Context, name, value string, ttl time.Duration, httpOnly bool) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(name, value, int(ttl/time.Second), h.cookies.Path, h.cookies.Domain, h.production, httpOnly)
}

func (h *Handler) clearCookie(c *gin.Context, name string, httpOnly bool) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(name, "", -1, h.cookies.Path, h.cookies.Domain, h.production, httpOnly)
}

func (h *Handler) setBootstrap(c *gin.Context, flow string, b bootstrap) {
	raw, _ := json.Marshal(b)
	h.setCookie(c, h.bootstrapCookieName(flow), base64.RawURLEncoding.EncodeToString(raw), h.cookies.BootstrapTTL, true)
}

func (h *Handler) readBootstrap(c *gin.Context, flow string) (bootstrap, error) {
	value, err := c.Cookie(h.bootstrapCookieName(flow))
	if err != nil || value == "" {
		return bootstrap{}, errNoBootstrap
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return bootstrap{}, errNoBootstrap
	}
	var b bootstrap
	if err := json.Unmarshal(raw, &b); err != nil || b.SessionID == "" {
		return bootstrap{}, errNoBootstrap
	}
	return b, nil
}

// setTokens stores the pair the way the browser app expects: the access
// token readable by script so it can be sent as a Bearer header, the
// refresh token HttpOnly.
func (h *Handler) setTokens(c *gin.Context, pair otpgate.TokenPair) {
	h.setCookie(c, h.cookies.AccessName, pair.AccessToken, h.accessTTL, false)
	h.setCookie(c, h.cookies.RefreshName, pair.RefreshToken, h.refreshTTL, true)
}

func (h *Handler) clearAll(c *gin.Context) {
	h.clearCookie(c, h.cookies.AccessName, false)
	h.clearCookie(c, h.cookies.RefreshName, true)
	h.clearCookie(c, h.cookies.SignupName, true)
	h.clearCookie(c, h.cookies.LoginName, true)
}
