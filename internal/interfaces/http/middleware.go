package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/auth"
)

const actorKey = "actor"

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	Validate(token string) (*auth.UserClaims, error)
}

// authMiddleware requires a valid "Bearer <token>" header and stores the
// caller as a service.Actor in the gin context. The actor is reloaded from
// the store on every request so role changes and deletions apply at once.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "authorization header required")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := s.tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		actor, err := s.services.Auth.Authenticate(c.Request.Context(), claims.UserID)
		if errors.Is(err, service.ErrInvalidCredentials) {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		if err != nil {
			s.logger.Error("Failed to authenticate request", "error", err, "user_id", claims.UserID)
			abort(c, http.StatusInternalServerError, "internal server error")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// requireRoles rejects callers whose role is not listed. It must run after
// authMiddleware.
func requireRoles(roles ...entity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "access denied: you do not have the required role")
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   message,
	})
}
