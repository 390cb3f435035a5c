package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SettlementsBySignature 按交易签名查询结算记录
func (h *Handler) SettlementsBySignature(c *gin.Context) {
	sig := c.Param("signature")
	recs, err := h.Records.SettlementsBySignature(c.Request.Context(), sig)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if len(recs) == 0 {
		c.JSON(http.StatusNotFound, errorBody("settlement not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signature":   sig,
		"settlements": recs,
	})
}

// SettlementsByObligation 查询订单及其收款/手续费/退款记录
func (h *Handler) SettlementsByObligation(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.Records.Obligation(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	recs, err := h.Records.SettlementsByObligation(ctx, o.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"obligation":  o,
		"settlements": recs,
	})
}
