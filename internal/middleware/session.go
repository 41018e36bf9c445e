package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/service"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
	"github.com/noah-isme/feste-api/pkg/logger"
	"github.com/noah-isme/feste-api/pkg/response"
)

const (
	// ContextClaimsKey is the gin context key storing session claims.
	ContextClaimsKey = "sessionClaims"
	// SessionCookie carries the access token for browser clients.
	SessionCookie = "access_token"
)

// TokenFromRequest extracts the access token from the Authorization header,
// falling back to the session cookie.
func TokenFromRequest(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, nil
	}
	return "", nil
}

// Session protects routes by requiring a valid access token.
func Session(sessions service.SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := TokenFromRequest(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if token == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := sessions.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalSession attaches claims when present but does not block.
func OptionalSession(sessions service.SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := TokenFromRequest(c)
		if err != nil || token == "" {
			c.Next()
			return
		}
		if claims, err := sessions.ValidateToken(token); err == nil {
			setClaims(c, claims)
		}
		c.Next()
	}
}

// ClaimsFromContext returns the session claims set by Session.
func ClaimsFromContext(c *gin.Context) *models.SessionClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.SessionClaims)
	return claims
}

func setClaims(c *gin.Context, claims *models.SessionClaims) {
	c.Set(ContextClaimsKey, claims)
	c.Set(logger.ActorKey, claims.Subject)
}
