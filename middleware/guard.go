package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/otpgate"
	"github.com/gin-gonic/gin"
)

// ContextClaimsKey is the gin context key holding *otpgate.Claims after
// Guard admits a request.
const ContextClaimsKey = "claims"

// Validator checks an access token. *otpgate.Engine satisfies it.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*otpgate.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims Guard stored on the request context.
func ClaimsFromContext(ctx context.Context) (*otpgate.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*otpgate.Claims)
	return claims, ok
}

// Guard admits requests carrying a valid "Authorization: Bearer" access
// token and rejects everything else with 401 {"error":"unauthorized"}.
func Guard(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			abortUnauthorized(c)
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := v.Validate(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			abortUnauthorized(c)
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), claimsContextKey{}, claims))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
