package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"fdp-index/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type EntryQuery interface {
	Page(ctx context.Context, state string, page, size int64) ([]*models.Entry, int64, error)
	All(ctx context.Context) ([]*models.Entry, error)
	IsActive(entry *models.Entry) bool
}

type EventHistory interface {
	RecentEvents(ctx context.Context, clientURL string) ([]*models.Event, error)
}

type EntryResponse struct {
	ClientURL         string                     `json:"clientUrl"`
	State             models.EntryState          `json:"state"`
	Active            bool                       `json:"active"`
	RegistrationTime  time.Time                  `json:"registrationTime"`
	ModificationTime  time.Time                  `json:"modificationTime"`
	LastRetrievalTime *time.Time                 `json:"lastRetrievalTime,omitempty"`
	CurrentMetadata   *models.RepositoryMetadata `json:"currentMetadata,omitempty"`
}

type PageInfo struct {
	Size          int64 `json:"size"`
	Number        int64 `json:"number"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int64 `json:"totalPages"`
}

type EntryPage struct {
	Content []EntryResponse `json:"content"`
	Page    PageInfo        `json:"page"`
}

type EntriesHandler struct {
	logger  *zap.Logger
	query   EntryQuery
	history EventHistory
}

func NewEntriesHandler(logger *zap.Logger, query EntryQuery, history EventHistory) *EntriesHandler {
	return &EntriesHandler{logger: logger, query: query, history: history}
}

func (h *EntriesHandler) List(c *gin.Context) {
	page, err := queryInt(c, "page", 0)
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	size, err := queryInt(c, "size", defaultPageSize)
	if err != nil || size < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
		return
	}
	size = min(size, maxPageSize)
	if page > math.MaxInt64/size {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}

	entries, total, err := h.query.Page(c.Request.Context(), c.DefaultQuery("state", "all"), page, size)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, EntryPage{
		Content: h.toResponses(entries),
		Page: PageInfo{
			Size:          size,
			Number:        page,
			TotalElements: total,
			TotalPages:    (total + size - 1) / size,
		},
	})
}

func (h *EntriesHandler) All(c *gin.Context) {
	entries, err := h.query.All(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponses(entries))
}

func (h *EntriesHandler) Events(c *gin.Context) {
	clientURL := c.Query("clientUrl")
	if clientURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientUrl is required"})
		return
	}

	events, err := h.history.RecentEvents(c.Request.Context(), clientURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *EntriesHandler) toResponses(entries []*models.Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			ClientURL:         e.ClientURL,
			State:             e.State,
			Active:            h.query.IsActive(e),
			RegistrationTime:  e.RegistrationTime,
			ModificationTime:  e.ModificationTime,
			LastRetrievalTime: e.LastRetrievalTime,
			CurrentMetadata:   e.CurrentMetadata,
		})
	}
	return out
}

func queryInt(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
