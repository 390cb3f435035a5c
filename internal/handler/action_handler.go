package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"BlinkPay/internal/models"
)

const (
	actionVersion = "2.1.3"
	// CAIP-2 id of Solana mainnet
	blockchainIDs = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
)

func setActionHeaders(c *gin.Context) {
	c.Header("X-Action-Version", actionVersion)
	c.Header("X-Blockchain-Ids", blockchainIDs)
}

// ActionGet 返回钱包展示的元数据，无副作用
func (h *Handler) ActionGet(c *gin.Context) {
	setActionHeaders(c)
	resp, err := h.Actions.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ActionPost 为付款人构建未签名交易
func (h *Handler) ActionPost(c *gin.Context) {
	setActionHeaders(c)

	var req models.ActionPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, errorBody("invalid request: account is required"))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody("invalid request: malformed body"))
		return
	}
	amount := strings.TrimSpace(string(req.Amount))
	if amount == "" {
		amount = c.Query("amount")
	}

	resp, err := h.Actions.Pay(c.Request.Context(), c.Param("id"), req.Account, amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ActionOptions(c *gin.Context) {
	setActionHeaders(c)
	c.Status(http.StatusOK)
}

func (h *Handler) ActionsManifest(c *gin.Context) {
	c.JSON(http.StatusOK, h.Actions.Manifest())
}
