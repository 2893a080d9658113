// 包 http 持仓模块的 HTTP 接口
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/position/application"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/response"
)

// PositionHandler 持仓 HTTP 处理器
type PositionHandler struct {
	positions *application.PositionManager
	clock     timesource.Provider
}

// NewPositionHandler 创建持仓 HTTP 处理器
func NewPositionHandler(positions *application.PositionManager, clock timesource.Provider) *PositionHandler {
	return &PositionHandler{positions: positions, clock: clock}
}

// RegisterRoutes 注册路由
func (h *PositionHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/positions")
	{
		api.GET("", h.GetPositions)
		api.GET("/balances", h.GetPortfolioBalances)
		api.GET("/:symbol", h.GetPosition)
		api.POST("/mark", h.MarkPortfolio)
	}
}

// GetPositions 查询用户持仓（current=false 读上一周期快照）
func (h *PositionHandler) GetPositions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	current := c.DefaultQuery("snapshot", "current") != "previous"

	response.Success(c, h.positions.GetPositions(userID, current))
}

// GetPosition 查询单个持仓
func (h *PositionHandler) GetPosition(c *gin.Context) {
	userID := c.Query("user_id")
	symbol := c.Param("symbol")
	if userID == "" || symbol == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id and symbol are required", "")
		return
	}
	current := c.DefaultQuery("snapshot", "current") != "previous"

	pos, ok := h.positions.GetPosition(userID, symbol, current)
	if !ok {
		response.ErrorWithStatus(c, http.StatusNotFound, "position not found", "")
		return
	}
	response.Success(c, pos)
}

// GetPortfolioBalances 查询按币种汇总的组合盯市市值
func (h *PositionHandler) GetPortfolioBalances(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}
	current := c.DefaultQuery("snapshot", "current") != "previous"

	response.Success(c, h.positions.Book(userID).ComputePortfolioBalances(current))
}

// MarkRequest 盯市请求
type MarkRequest struct {
	UserID string            `json:"user_id" binding:"required"`
	Prices map[string]string `json:"prices" binding:"required"`
}

// MarkPortfolio 按行情盯市重估
func (h *PositionHandler) MarkPortfolio(c *gin.Context) {
	var req MarkRequest
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

	marked, err := h.positions.MarkPortfolio(c.Request.Context(), req.UserID, prices, h.clock.Now())
	if err != nil {
		logger.Error(c.Request.Context(), "mark portfolio failed", "user_id", req.UserID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"marked": marked})
}
