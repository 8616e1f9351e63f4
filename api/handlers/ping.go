package handlers

import (
	"context"
	"io"
	"net/http"

	"fdp-index/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPingSize = 64 << 10

type PingService interface {
	AcceptIncomingPing(ctx context.Context, remoteAddr string, body []byte) (*models.Event, error)
}

type PingHandler struct {
	logger  *zap.Logger
	service PingService
}

func NewPingHandler(logger *zap.Logger, service PingService) *PingHandler {
	return &PingHandler{logger: logger, service: service}
}

// HandlePing accepts a repository announcing itself
func (h *PingHandler) HandlePing(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPingSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot read request body"})
		return
	}

	event, err := h.service.AcceptIncomingPing(c.Request.Context(), c.ClientIP(), body)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Debug("Ping accepted",
		zap.String("event_uuid", event.UUID),
		zap.String("client_url", event.RelatedTo))
	c.Status(http.StatusNoContent)
}
