package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader クライアントがAPIキーを送るヘッダー
const APIKeyHeader = "X-API-KEY"

// APIKeyMiddleware は X-API-KEY を検証します。apiKey が空なら素通しします。
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		provided := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// MaintenanceGuard はメンテナンス中の業務APIを503で止めます。
func MaintenanceGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isMaintenanceMode.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Server is in maintenance mode"})
			return
		}
		c.Next()
	}
}
