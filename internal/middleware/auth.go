package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/closeout/internal/auth"
)

const (
	// OperatorIDKey is the context key for storing the authenticated operator ID.
	OperatorIDKey = "operator_id"
	// EmailKey is the context key for storing the authenticated operator's email.
	EmailKey = "email"
)

// GetOperatorID extracts the operator ID from the request context.
// Returns empty string if not found.
func GetOperatorID(c *gin.Context) string {
	operatorID, _ := c.Value(OperatorIDKey).(string)
	return operatorID
}

// GetEmail extracts the operator email from the request context.
// Returns empty string if not found.
func GetEmail(c *gin.Context) string {
	email, _ := c.Value(EmailKey).(string)
	return email
}

// RequireAPIKey returns a middleware that authenticates hub-originated
// requests with a shared API key in the X-API-Key header. When key is
// empty the check is disabled and all requests pass through.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		presented := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		c.Next()
	}
}

// RequireOperator returns a middleware that validates JWT tokens and requires
// an authenticated operator. It extracts the token from the Authorization
// header, validates it, and adds the operator ID and email to the request
// context.
func RequireOperator(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrMissingToken.Error()})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}

		claims, err := jwtManager.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(OperatorIDKey, claims.OperatorID)
		c.Set(EmailKey, claims.Email)
		c.Next()
	}
}
