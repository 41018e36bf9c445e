package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/service"
	"github.com/noah-isme/feste-api/pkg/logger"
	"github.com/noah-isme/feste-api/pkg/response"
)

// ContextPrincipalKey is the gin context key storing the admitted admin.
const ContextPrincipalKey = "adminPrincipal"

// RequireAdmin runs the access guard for every request under the admin area.
// Denials carry the redirect target in meta.redirect.
func RequireAdmin(guard *service.AccessGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := TokenFromRequest(c)
		if err != nil {
			token = ""
		}

		decision, principal, err := guard.Check(c.Request.Context(), token, c.Request.URL.RequestURI())
		if err != nil {
			var meta map[string]interface{}
			if decision != nil && decision.Redirect != "" {
				meta = map[string]interface{}{"redirect": decision.Redirect}
			}
			response.Error(c, err, meta)
			c.Abort()
			return
		}

		c.Set(ContextPrincipalKey, principal)
		c.Set(logger.ActorKey, principal.ID)
		c.Next()
	}
}

// PrincipalFromContext returns the admin admitted by RequireAdmin.
func PrincipalFromContext(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}
