package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"syntra-checkout/internal/utils"
)

const (
	staffIDKey  = "staff_id"
	usernameKey = "username"
)

// JWTAuth requires a bearer token signed with secret and exposes the staff
// identity to handlers.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authorization header required",
				"error":   "UNAUTHORIZED",
			})
			return
		}

		claims, err := utils.ParseToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid or expired token",
				"error":   "UNAUTHORIZED",
			})
			return
		}

		c.Set(staffIDKey, claims.StaffID)
		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}

// StaffID is the authenticated staff member, or "" on unauthenticated routes.
func StaffID(c *gin.Context) string {
	return c.GetString(staffIDKey)
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
