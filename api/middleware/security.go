package middleware

import (
	"errors"
	"net/http"
	"strings"

	"fdp-index/internal/models"
	"fdp-index/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenKey is the gin context key holding the authenticated *models.Token
const TokenKey = "token"

type SecurityMiddleware struct {
	logger *zap.Logger
	tokens storage.TokenStore
}

func NewSecurityMiddleware(logger *zap.Logger, tokens storage.TokenStore) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger: logger,
		tokens: tokens,
	}
}

// Authenticate resolves the bearer token of the request. Requests without a
// token pass through anonymously; an unknown token is rejected.
func (m *SecurityMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		value, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || value == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			c.Abort()
			return
		}

		token, err := m.tokens.FindByToken(c.Request.Context(), value)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				m.logger.Error("Failed to look up token", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
				c.Abort()
				return
			}
			prefixLen := len(value)
			if prefixLen > 4 {
				prefixLen = 4
			}
			m.logger.Warn("Invalid token", zap.String("ip", c.ClientIP()), zap.String("token_prefix", value[:prefixLen]))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(TokenKey, token)
		m.logger.Debug("Successfully authenticated token", zap.String("token_name", token.Name))
		c.Next()
	}
}

// RequireRole rejects requests whose token lacks role
func (m *SecurityMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := CurrentToken(c)
		if token == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if !token.HasRole(role) {
			m.logger.Warn("Forbidden", zap.String("token_name", token.Name), zap.String("role", role))
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *SecurityMiddleware) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// CurrentToken returns the token set by Authenticate, if any
func CurrentToken(c *gin.Context) *models.Token {
	v, ok := c.Get(TokenKey)
	if !ok {
		return nil
	}
	token, _ := v.(*models.Token)
	return token
}
