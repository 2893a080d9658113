// 包 http 组合模块的 HTTP 接口
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/portfolio/application"
	"github.com/tradesim/fundaccounting/internal/portfolio/domain"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/response"
)

// PortfolioHandler 组合 HTTP 处理器
type PortfolioHandler struct {
	portfolio *application.PortfolioManager
}

// NewPortfolioHandler 创建组合 HTTP 处理器
func NewPortfolioHandler(portfolio *application.PortfolioManager) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio}
}

// RegisterRoutes 注册路由
func (h *PortfolioHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/portfolio")
	{
		api.POST("/valuation-cycle", h.RunValuationCycle)
		api.GET("/returns", h.GetReturns)
		api.GET("/returns/period", h.GetPeriodReturn)
		api.GET("/returns/history", h.GetHistory)
		api.POST("/periods/roll", h.RollPeriod)
	}
}

// ValuationCycleRequest 估值周期请求
type ValuationCycleRequest struct {
	UserID string            `json:"user_id" binding:"required"`
	Prices map[string]string `json:"prices"`
}

// RunValuationCycle 执行一轮估值周期
func (h *PortfolioHandler) RunValuationCycle(c *gin.Context) {
	var req ValuationCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	prices := make(map[string]decimal.Decimal, len(req.Prices))
	for symbol, raw := range req.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid price for "+symbol, "")
			return
		}
		prices[symbol] = price
	}

	if err := h.portfolio.RunValuationCycle(c.Request.Context(), req.UserID, prices); err != nil {
		logger.Error(c.Request.Context(), "valuation cycle failed", "user_id", req.UserID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "completed"})
}

// GetReturns 查询最新收益指标；给定分类与子分类时只查单条
func (h *PortfolioHandler) GetReturns(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}

	category := c.Query("category")
	subcategory := c.Query("subcategory")
	if category != "" && subcategory != "" {
		metrics, err := h.portfolio.GetMetrics(c.Request.Context(), userID, category, subcategory)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
			return
		}
		response.Success(c, metrics)
		return
	}

	metrics, err := h.portfolio.GetAllMetrics(c.Request.Context(), userID)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, metrics)
}

// GetPeriodReturn 查询期内收益
func (h *PortfolioHandler) GetPeriodReturn(c *gin.Context) {
	userID := c.Query("user_id")
	periodType := domain.PeriodType(c.Query("period_type"))
	category := c.Query("category")
	subcategory := c.Query("subcategory")
	if userID == "" || category == "" || subcategory == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id, category and subcategory are required", "")
		return
	}
	if !periodType.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid period_type", "")
		return
	}

	ret, err := h.portfolio.GetPeriodReturn(c.Request.Context(), userID, periodType, category, subcategory)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), "")
		return
	}
	response.Success(c, gin.H{
		"period_type":         periodType,
		"category":            category,
		"subcategory":         subcategory,
		"subcategory_return":  ret.Subcategory,
		"contribution_return": ret.Contribution,
	})
}

// GetHistory 查询收益历史
func (h *PortfolioHandler) GetHistory(c *gin.Context) {
	userID := c.Query("user_id")
	category := c.Query("category")
	subcategory := c.Query("subcategory")
	if userID == "" || category == "" || subcategory == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id, category and subcategory are required", "")
		return
	}

	history, err := h.portfolio.GetHistory(c.Request.Context(), userID, category, subcategory)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, history)
}

// RollPeriodRequest 周期滚动请求
type RollPeriodRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	PeriodType string `json:"period_type" binding:"required"`
}

// RollPeriod 滚动周期基线
func (h *PortfolioHandler) RollPeriod(c *gin.Context) {
	var req RollPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	periodType := domain.PeriodType(req.PeriodType)
	if !periodType.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid period_type", "")
		return
	}

	if err := h.portfolio.RollPeriod(c.Request.Context(), req.UserID, periodType); err != nil {
		logger.Error(c.Request.Context(), "roll period failed", "user_id", req.UserID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "rolled"})
}
