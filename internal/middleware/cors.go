package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// ActionHeaders are the request headers Blink clients send to action endpoints.
var ActionHeaders = []string{"Content-Type", "Authorization", "Content-Encoding", "Accept-Encoding"}

// CORS 允许钱包/unfurl 客户端跨域调用 action 接口
func CORS() gin.HandlerFunc {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: ActionHeaders,
		ExposedHeaders: []string{"X-Action-Version", "X-Blockchain-Ids"},
	})

	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)

		// 预检请求直接返回
		if ctx.Request.Method == http.MethodOptions && ctx.GetHeader("Access-Control-Request-Method") != "" {
			ctx.AbortWithStatus(http.StatusOK)
			return
		}
		ctx.Next()
	}
}
