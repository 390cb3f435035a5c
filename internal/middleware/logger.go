package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"BlinkPay/utils"
)

// AccessLog 请求日志，写入 zap
func AccessLog(log *utils.Logger) gin.HandlerFunc {
	if log == nil {
		log = utils.NopLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("http request", kv...)
		case status >= 400:
			log.Warn("http request", kv...)
		default:
			log.Info("http request", kv...)
		}
	}
}
