package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/mivvo/expertiz/internal/observability/context"
)

const (
	contextUserIDKey = "user_id"
	contextRoleKey   = "user_role"
)

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.tokens.Parse(strings.TrimSpace(header[len("bearer "):]))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Set(contextRoleKey, claims.Role)

		ctx := obscontext.WithUser(c.Request.Context(), userID.String(), claims.Role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequirePermission gates a route on the caller's role. Roles map to policy
// subjects, so a user carries role:user and admins inherit it.
func (s *Server) RequirePermission(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetString(contextRoleKey))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.authzSvc.Authorize(c.Request.Context(), "role:"+role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return 0, newValidationError(name, "invalid_id", "invalid identifier")
	}
	return id, nil
}
