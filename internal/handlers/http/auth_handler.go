package http

import (
	"net/http"
	"strings"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/services"
	"peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	AdminID        string `json:"admin_id" binding:"required,max=100"`
	OrganizationID string `json:"organization_id" binding:"required,max=100"`
}

// IssueToken issues an API token for an admin.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.AdminID = strings.TrimSpace(req.AdminID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)

	if err := validation.ValidateAdminID(req.AdminID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateOrganizationID(req.OrganizationID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	// TODO: authenticate the admin against an identity provider before
	// issuing tokens
	token, err := h.authService.GenerateToken(
		domain.AdminID(req.AdminID),
		domain.OrganizationID(req.OrganizationID),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
