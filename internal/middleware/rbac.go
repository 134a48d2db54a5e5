package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/response"
)

// RequireRoles blocks users whose role is not in the allowed set. Must run
// after Authenticate and RequireAuth.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdminOrSelf allows administrators through unconditionally and
// other users only when the :id route parameter is their own ID.
func RequireAdminOrSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if user.Role == models.RoleAdmin {
			c.Next()
			return
		}
		if id, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil && id == user.ID {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
