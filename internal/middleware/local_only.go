package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"BlinkPay/internal/models"
)

// LocalOnly 中间件：只允许本地访问（127.0.0.1 或 ::1）
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorEnvelope{
				Error: models.ActionError{Message: "forbidden: local access only"},
			})
			return
		}
		c.Next()
	}
}
