package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const probeTimeout = 3 * time.Second

// Healthz 存活探针（liveness probe），进程在即返回 200
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// Readyz 就绪探针（readiness probe）
// 启动等待期内、数据库或 RPC 不可用时返回 503
func (h *Handler) Readyz(c *gin.Context) {
	elapsed := time.Since(h.startedAt)
	if elapsed < h.ReadyDelay {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"type":      "readiness",
			"message":   "starting up",
			"elapsed":   elapsed.String(),
			"remaining": (h.ReadyDelay - elapsed).String(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	if h.DB == nil {
		notReady(c, "database not initialized", nil)
		return
	}
	if err := h.DB.Ping(ctx); err != nil {
		notReady(c, "database unreachable", err)
		return
	}
	if h.Chain != nil {
		if err := h.Chain.Health(ctx); err != nil {
			notReady(c, "rpc unhealthy", err)
			return
		}
	}

	// 已结算的最高 slot，便于判断推送是否滞后
	slot, err := h.DB.LatestSettledSlot(ctx)
	if err != nil {
		notReady(c, "database query failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "ready",
		"type":                "readiness",
		"uptime":              elapsed.String(),
		"latest_settled_slot": slot,
	})
}

func notReady(c *gin.Context, msg string, err error) {
	body := gin.H{
		"status":  "not ready",
		"type":    "readiness",
		"message": msg,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusServiceUnavailable, body)
}
