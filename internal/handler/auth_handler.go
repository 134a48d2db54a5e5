package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pierix/crm-api/internal/middleware"
	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/service"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/response"
)

// AuthHandler wires the session endpoints to the auth service.
type AuthHandler struct {
	auth    *service.AuthService
	metrics *service.MetricsService
}

func NewAuthHandler(auth *service.AuthService, metrics *service.MetricsService) *AuthHandler {
	return &AuthHandler{auth: auth, metrics: metrics}
}

// Register creates an account and returns a logged-in token pair.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	res, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Login authenticates by username or email and password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordLogin("failure")
		response.Error(c, err)
		return
	}

	h.metrics.RecordLogin("success")
	response.JSON(c, http.StatusOK, res, nil)
}

// Refresh exchanges a refresh token for a fresh pair. The token is read
// from the Authorization bearer header, with a refresh_token body field
// as fallback.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		var req models.RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "refresh token is required"))
			return
		}
		token = req.RefreshToken
	}

	res, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		h.metrics.RecordRefresh("failure")
		response.Error(c, err)
		return
	}

	h.metrics.RecordRefresh("success")
	response.JSON(c, http.StatusOK, res, nil)
}

// Validate reports whether the presented bearer token is usable. The
// answer is always 200; the verdict is in the body.
func (h *AuthHandler) Validate(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		response.JSON(c, http.StatusOK, models.TokenValidationResponse{Valid: false, Reason: "no bearer token presented"}, nil)
		return
	}

	if _, err := h.auth.Validate(c.Request.Context(), token); err != nil {
		response.JSON(c, http.StatusOK, models.TokenValidationResponse{
			Valid:  false,
			Reason: appErrors.FromError(err).Code,
		}, nil)
		return
	}
	response.JSON(c, http.StatusOK, models.TokenValidationResponse{Valid: true}, nil)
}

// Logout invalidates the caller's sessions. Always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token, ok := middleware.BearerToken(c); ok {
		h.auth.Logout(c.Request.Context(), token)
	}
	response.NoContent(c)
}

// Profile returns the authenticated user's profile.
func (h *AuthHandler) Profile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	profile, err := h.auth.Profile(c.Request.Context(), user.Username)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}
