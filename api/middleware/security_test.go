package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fdp-index/internal/models"
	"fdp-index/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := storage.NewMemoryTokenStore(
		&models.Token{Name: "ops", Token: "admin-token", Roles: []string{models.RoleAdmin}},
		&models.Token{Name: "reader", Token: "reader-token"},
	)
	security := NewSecurityMiddleware(zap.NewNop(), tokens)

	router := gin.New()
	router.Use(security.CORS())
	router.POST("/admin", security.Authenticate(), security.RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentToken(c).Name)
	})
	return router
}

func TestSecurityMiddleware_Admin(t *testing.T) {
	router := newRouter()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"No token", "", http.StatusUnauthorized},
		{"Malformed header", "Token admin-token", http.StatusUnauthorized},
		{"Unknown token", "Bearer nope", http.StatusUnauthorized},
		{"Missing role", "Bearer reader-token", http.StatusForbidden},
		{"Admin", "Bearer admin-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestSecurityMiddleware_CORSPreflight(t *testing.T) {
	router := newRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/admin", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
