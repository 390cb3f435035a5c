package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"BlinkPay/internal/metrics"
	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
)

// Webhook 接收 Helius 增强交易推送：先验签，再解码、对账
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Log.Warn("webhook body over limit", "limit", tooLarge.Limit)
			c.JSON(http.StatusInternalServerError, errorBody("payload too large"))
			return
		}
		h.Log.Error("webhook body unreadable", "err", err)
		c.JSON(http.StatusInternalServerError, errorBody("cannot read body"))
		return
	}

	verdict := services.CheckSignature(body, c.GetHeader(h.WebhookAuth.SignatureHeader), h.WebhookAuth.Secret)
	h.Metrics.IncCounter(metrics.EventWebhookVerify, map[string]string{"outcome": verdict.String()})
	switch verdict {
	case services.VerifyDisabled:
		h.Log.Warn("webhook signature verification disabled")
	case services.VerifyRejected:
		h.Log.Warn("webhook signature rejected", "client_ip", c.ClientIP(), "err", services.ErrAuthenticationFailure)
		c.JSON(http.StatusUnauthorized, errorBody("invalid signature"))
		return
	}

	events, decodeFailures, err := h.Decoder.DecodeBatch(body)
	if err != nil {
		h.Log.Error("webhook payload rejected", "err", err)
		c.JSON(http.StatusInternalServerError, models.WebhookResponse{Success: false})
		return
	}

	// 客户端断开不应中断已开始的批次
	report := h.Reconciler.Reconcile(context.WithoutCancel(c.Request.Context()), events)

	resp := models.WebhookResponse{
		Success:   true,
		Processed: report.Processed(),
		Failed:    report.Failed() + len(decodeFailures),
		Skipped:   report.Skipped(),
	}
	h.Log.Info("webhook batch reconciled",
		"events", len(events),
		"processed", resp.Processed,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
		"retryable", report.Retryable())
	c.JSON(http.StatusOK, resp)
}
