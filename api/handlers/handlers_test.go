package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fdp-index/api/middleware"
	"fdp-index/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) AcceptIncomingPing(ctx context.Context, remoteAddr string, body []byte) (*models.Event, error) {
	args := m.Called(remoteAddr, string(body))
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

func (m *MockService) AcceptAdminTrigger(ctx context.Context, actor, remoteAddr, clientURL string) (*models.Event, error) {
	args := m.Called(actor, clientURL)
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

func (m *MockService) HandleWebhookPing(ctx context.Context, actor, remoteAddr, webhookUUID string) (*models.Event, error) {
	args := m.Called(actor, webhookUUID)
	event, _ := args.Get(0).(*models.Event)
	return event, args.Error(1)
}

func (m *MockService) RecentEvents(ctx context.Context, clientURL string) ([]*models.Event, error) {
	args := m.Called(clientURL)
	events, _ := args.Get(0).([]*models.Event)
	return events, args.Error(1)
}

type MockEntryQuery struct {
	mock.Mock
}

func (m *MockEntryQuery) Page(ctx context.Context, state string, page, size int64) ([]*models.Entry, int64, error) {
	args := m.Called(state, page, size)
	entries, _ := args.Get(0).([]*models.Entry)
	return entries, args.Get(1).(int64), args.Error(2)
}

func (m *MockEntryQuery) All(ctx context.Context) ([]*models.Entry, error) {
	args := m.Called()
	entries, _ := args.Get(0).([]*models.Entry)
	return entries, args.Error(1)
}

func (m *MockEntryQuery) IsActive(entry *models.Entry) bool {
	return m.Called(entry.ClientURL).Bool(0)
}

func TestHandlePing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	body := `{"clientUrl":"https://fdp.example"}`

	tests := []struct {
		name       string
		setupMock  func(*MockService)
		wantStatus int
	}{
		{
			name: "Accepted",
			setupMock: func(m *MockService) {
				m.On("AcceptIncomingPing", mock.Anything, body).Return(&models.Event{UUID: "e1"}, nil)
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "Malformed",
			setupMock: func(m *MockService) {
				m.On("AcceptIncomingPing", mock.Anything, body).
					Return(&models.Event{UUID: "e2"}, fmt.Errorf("%w: bad", models.ErrMalformedPing))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Rate limited",
			setupMock: func(m *MockService) {
				m.On("AcceptIncomingPing", mock.Anything, body).
					Return(nil, fmt.Errorf("%w for 10.0.0.1", models.ErrRateLimit))
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "Storage failure",
			setupMock: func(m *MockService) {
				m.On("AcceptIncomingPing", mock.Anything, body).Return(nil, fmt.Errorf("mongo down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setupMock(service)
			handler := NewPingHandler(zap.NewNop(), service)

			router := gin.New()
			router.POST("/", handler.HandlePing)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			service.AssertExpectations(t)
		})
	}
}

func TestAdminHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := &models.Token{Name: "ops", Roles: []string{models.RoleAdmin}}

	service := new(MockService)
	service.On("AcceptAdminTrigger", "ops", "https://fdp.example").Return(&models.Event{UUID: "a1"}, nil)
	service.On("AcceptAdminTrigger", "ops", "https://missing.example").
		Return(nil, fmt.Errorf("no entry: %w", models.ErrNotFound))
	service.On("HandleWebhookPing", "ops", "hook-1").Return(&models.Event{UUID: "w1"}, nil)
	service.On("HandleWebhookPing", "ops", "hook-2").Return(nil, fmt.Errorf("webhook: %w", models.ErrNotFound))

	handler := NewAdminHandler(zap.NewNop(), service)
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(middleware.TokenKey, admin) })
	router.POST("/admin/trigger", handler.Trigger)
	router.POST("/admin/webhooks/:uuid/ping", handler.PingWebhook)

	cases := map[string]int{
		"/admin/trigger?clientUrl=https://fdp.example":     http.StatusNoContent,
		"/admin/trigger?clientUrl=https://missing.example": http.StatusNotFound,
		"/admin/webhooks/hook-1/ping":                      http.StatusNoContent,
		"/admin/webhooks/hook-2/ping":                      http.StatusNotFound,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
	service.AssertExpectations(t)
}

func TestEntriesHandler_List(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now().UTC()

	query := new(MockEntryQuery)
	query.On("Page", "active", int64(1), int64(2)).Return([]*models.Entry{
		{ClientURL: "https://a.example", State: models.EntryStateValid, RegistrationTime: now, ModificationTime: now},
	}, int64(3), nil)
	query.On("Page", "sleeping", int64(0), int64(defaultPageSize)).
		Return(nil, int64(0), fmt.Errorf("%w: unknown state filter", models.ErrInvalidQuery))
	query.On("IsActive", "https://a.example").Return(true)

	handler := NewEntriesHandler(zap.NewNop(), query, new(MockService))
	router := gin.New()
	router.GET("/entries", handler.List)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries?page=1&size=2&state=active", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var page EntryPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, "https://a.example", page.Content[0].ClientURL)
	assert.True(t, page.Content[0].Active)
	assert.Equal(t, PageInfo{Size: 2, Number: 1, TotalElements: 3, TotalPages: 2}, page.Page)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries?state=sleeping", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries?size=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// page*size would not fit into int64
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries?page=4611686018427387904&size=20", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries?page=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	query.AssertNumberOfCalls(t, "Page", 2)
}

func TestEntriesHandler_AllAndEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	query := new(MockEntryQuery)
	query.On("All").Return([]*models.Entry{{ClientURL: "https://a.example"}, {ClientURL: "https://b.example"}}, nil)
	query.On("IsActive", mock.Anything).Return(false)

	service := new(MockService)
	service.On("RecentEvents", "https://a.example").Return([]*models.Event{
		models.NewAdminTriggerEvent("10.0.0.1", "ops", "https://a.example", time.Now().UTC()),
	}, nil)
	service.On("RecentEvents", "https://missing.example").Return(nil, fmt.Errorf("no entry: %w", models.ErrNotFound))

	handler := NewEntriesHandler(zap.NewNop(), query, service)
	router := gin.New()
	router.GET("/entries/all", handler.All)
	router.GET("/entries/events", handler.Events)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries/all", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all []EntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries/events?clientUrl=https://a.example", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "AdminTrigger", events[0]["type"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries/events?clientUrl=https://missing.example", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/entries/events", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
