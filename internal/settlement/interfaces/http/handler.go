// 包 http 结算模块的 HTTP 接口
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/settlement/application"
	"github.com/tradesim/fundaccounting/internal/settlement/domain"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/response"
)

// SettlementHandler 结算 HTTP 处理器
type SettlementHandler struct {
	settlement *application.SettlementManager
	clock      timesource.Provider
}

// NewSettlementHandler 创建结算 HTTP 处理器
func NewSettlementHandler(settlement *application.SettlementManager, clock timesource.Provider) *SettlementHandler {
	return &SettlementHandler{settlement: settlement, clock: clock}
}

// RegisterRoutes 注册路由
func (h *SettlementHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/settlements")
	{
		api.POST("/check", h.CheckBalance)
		api.POST("/fills", h.SettleFill)
		api.GET("", h.ListSettlements)
		api.GET("/:trade_id", h.GetSettlement)
	}
}

// FillRequest 成交事件请求体
type FillRequest struct {
	TradeID        string `json:"trade_id" binding:"required"`
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id" binding:"required"`
	Instrument     string `json:"instrument"`
	Currency       string `json:"currency" binding:"required"`
	Side           string `json:"side" binding:"required"`
	InitialSide    string `json:"initial_side" binding:"required"`
	IsRiskOff      bool   `json:"is_risk_off"`
	Quantity       string `json:"quantity" binding:"required"`
	ImpactedPrice  string `json:"impacted_price" binding:"required"`
	Commission     string `json:"commission"`
	StartTimestamp string `json:"start_timestamp"`
	EndTimestamp   string `json:"end_timestamp"`
}

// toDomain 解析请求体为领域成交事件，缺省时间戳取时间源当前值
func (r *FillRequest) toDomain(now time.Time) (*domain.Fill, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(r.ImpactedPrice)
	if err != nil {
		return nil, err
	}
	commission := decimal.Zero
	if r.Commission != "" {
		if commission, err = decimal.NewFromString(r.Commission); err != nil {
			return nil, err
		}
	}

	start, end := now, now
	if r.StartTimestamp != "" {
		if start, err = time.Parse(time.RFC3339, r.StartTimestamp); err != nil {
			return nil, err
		}
	}
	if r.EndTimestamp != "" {
		if end, err = time.Parse(time.RFC3339, r.EndTimestamp); err != nil {
			return nil, err
		}
	}

	return &domain.Fill{
		TradeID:        r.TradeID,
		OrderID:        r.OrderID,
		UserID:         r.UserID,
		Instrument:     r.Instrument,
		Currency:       r.Currency,
		Side:           domain.Side(r.Side),
		InitialSide:    domain.InitialSide(r.InitialSide),
		IsRiskOff:      r.IsRiskOff,
		Quantity:       quantity,
		ImpactedPrice:  price,
		Commission:     commission,
		StartTimestamp: start,
		EndTimestamp:   end,
	}, nil
}

// CheckBalance 成交前余额检查
func (h *SettlementHandler) CheckBalance(c *gin.Context) {
	fill, ok := h.bindFill(c)
	if !ok {
		return
	}

	if err := h.settlement.CheckBalanceBeforeFill(c.Request.Context(), fill); err != nil {
		logger.Error(c.Request.Context(), "pre-fill check failed", "trade_id", fill.TradeID, "error", err)
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "sufficient"})
}

// SettleFill 结算一笔成交
func (h *SettlementHandler) SettleFill(c *gin.Context) {
	fill, ok := h.bindFill(c)
	if !ok {
		return
	}

	result, err := h.settlement.SettleFill(c.Request.Context(), fill)
	if err != nil {
		logger.Error(c.Request.Context(), "fill settlement failed", "trade_id", fill.TradeID, "error", err)
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
		return
	}

	response.Success(c, gin.H{
		"trade_id":     fill.TradeID,
		"account_type": result.AccountType,
		"amount":       result.Amount,
		"is_deposit":   result.IsDeposit,
		"realized_pnl": result.RealizedPnL,
	})
}

// ListSettlements 查询用户最近结算流水
func (h *SettlementHandler) ListSettlements(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid limit", "")
		return
	}

	settlements, err := h.settlement.ListSettlements(c.Request.Context(), userID, limit)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, settlements)
}

// GetSettlement 按成交号查询结算流水
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	tradeID := c.Param("trade_id")
	settlement, err := h.settlement.GetSettlement(c.Request.Context(), tradeID)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
		return
	}
	response.Success(c, settlement)
}

// bindFill 解析并校验成交请求
func (h *SettlementHandler) bindFill(c *gin.Context) (*domain.Fill, bool) {
	var req FillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return nil, false
	}
	fill, err := req.toDomain(h.clock.Now())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return nil, false
	}
	return fill, true
}
