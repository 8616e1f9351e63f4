package handlers

import (
	"context"
	"net/http"

	"fdp-index/api/middleware"
	"fdp-index/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminService interface {
	AcceptAdminTrigger(ctx context.Context, actor, remoteAddr, clientURL string) (*models.Event, error)
	HandleWebhookPing(ctx context.Context, actor, remoteAddr, webhookUUID string) (*models.Event, error)
}

type AdminHandler struct {
	logger  *zap.Logger
	service AdminService
}

func NewAdminHandler(logger *zap.Logger, service AdminService) *AdminHandler {
	return &AdminHandler{logger: logger, service: service}
}

// Trigger re-verifies one entry, or all of them without clientUrl
func (h *AdminHandler) Trigger(c *gin.Context) {
	clientURL := c.Query("clientUrl")
	event, err := h.service.AcceptAdminTrigger(c.Request.Context(), actor(c), c.ClientIP(), clientURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Admin trigger accepted",
		zap.String("event_uuid", event.UUID),
		zap.String("client_url", clientURL))
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) PingWebhook(c *gin.Context) {
	webhookUUID := c.Param("uuid")
	event, err := h.service.HandleWebhookPing(c.Request.Context(), actor(c), c.ClientIP(), webhookUUID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Webhook ping accepted",
		zap.String("event_uuid", event.UUID),
		zap.String("webhook_uuid", webhookUUID))
	c.Status(http.StatusNoContent)
}

func actor(c *gin.Context) string {
	if token := middleware.CurrentToken(c); token != nil {
		return token.Name
	}
	return ""
}
