package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/service"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing the authenticated user.
	ContextUserKey = "currentUser"
	// ContextTokenKey stores the raw bearer token of the request.
	ContextTokenKey = "currentToken"
	// contextAuthErrKey stores why authentication failed, for RequireAuth.
	contextAuthErrKey = "authError"
)

// Authenticate resolves the bearer token into a user and attaches it to
// the context. It never aborts: a missing or bad token just leaves the
// request unauthenticated, and RequireAuth decides whether that matters.
func Authenticate(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		c.Set(ContextTokenKey, token)

		user, err := auth.Validate(c.Request.Context(), token)
		if err != nil {
			c.Set(contextAuthErrKey, err)
			c.Next()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireAuth blocks requests that did not authenticate. When validation
// failed earlier the typed failure is surfaced instead of a generic 401.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserKey); ok {
			c.Next()
			return
		}
		if err, ok := c.Get(contextAuthErrKey); ok {
			response.Error(c, err.(error))
		} else {
			response.Error(c, appErrors.ErrUnauthorized)
		}
		c.Abort()
	}
}

// CurrentUser returns the authenticated user attached to the context.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// BearerToken returns the raw token of the request, when one was sent.
func BearerToken(c *gin.Context) (string, bool) {
	value, ok := c.Get(ContextTokenKey)
	if !ok {
		return "", false
	}
	token, ok := value.(string)
	return token, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
