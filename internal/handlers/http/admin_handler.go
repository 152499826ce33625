package http

import (
	"errors"
	"net/http"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	apperrors "peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the read side of the client registry to admin
// dashboards.
type AdminHandler struct {
	registry ports.ClientRegistry
}

func NewAdminHandler(registry ports.ClientRegistry) *AdminHandler {
	return &AdminHandler{registry: registry}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(authMiddleware)
	{
		api.GET("/admins/:id/clients", h.ListClients)
		api.GET("/clients/:id", h.GetClient)
	}
}

// ListClients returns the roster of an admin's clients with their presence.
func (h *AdminHandler) ListClients(c *gin.Context) {
	adminID := c.Param("id")
	if err := validation.ValidateAdminID(adminID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	// Admins may only read their own roster.
	if callerID, exists := c.Get("admin_id"); exists {
		if callerID.(domain.AdminID) != domain.AdminID(adminID) {
			c.Error(apperrors.NewForbiddenError("cannot read another admin's clients"))
			return
		}
	}

	summaries, err := h.registry.GetClientsByAdmin(c.Request.Context(), domain.AdminID(adminID))
	if err != nil {
		if errors.Is(err, domain.ErrAdminNotFound) {
			c.Error(apperrors.NewNotFoundError("admin"))
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to list clients", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"admin_id": adminID,
		"clients":  summaries,
		"count":    len(summaries),
	})
}

// GetClient returns one client record including its liveness timestamp.
func (h *AdminHandler) GetClient(c *gin.Context) {
	clientID := c.Param("id")
	if err := validation.ValidateClientID(clientID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	client, err := h.registry.GetClient(c.Request.Context(), domain.ClientID(clientID))
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			c.Error(apperrors.NewNotFoundError("client"))
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to fetch client", http.StatusInternalServerError))
		return
	}

	// Callers only see clients affiliated with them.
	if callerID, exists := c.Get("admin_id"); exists {
		if callerID.(domain.AdminID) != client.AdminID {
			c.Error(apperrors.NewForbiddenError("client belongs to another admin"))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"client_id":       client.ID,
		"admin_id":        client.AdminID,
		"organization_id": client.OrganizationID,
		"user_name":       client.UserName,
		"status":          client.Status,
		"last_seen":       client.LastSeen,
	})
}
