// 包 http 账务模块的 HTTP 接口
package http

import (
	"net/http"
	"strconv"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/account/application"
	accdomain "github.com/tradesim/fundaccounting/internal/account/domain"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/response"
)

// AccountHandler 账务 HTTP 处理器
type AccountHandler struct {
	accounts *application.AccountManager
	clock    timesource.Provider
}

// NewAccountHandler 创建账务 HTTP 处理器
func NewAccountHandler(accounts *application.AccountManager, clock timesource.Provider) *AccountHandler {
	return &AccountHandler{accounts: accounts, clock: clock}
}

// RegisterRoutes 注册路由
func (h *AccountHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/accounts")
	{
		api.GET("/balances", h.GetBalances)
		api.GET("/balance", h.GetBalance)
		api.POST("/deposit", h.Deposit)
		api.POST("/withdraw", h.Withdraw)
		api.GET("/cashflows", h.GetCashFlows)

		tcc := api.Group("/tcc")
		{
			tcc.POST("/deposit/try", h.TccTryDeposit)
			tcc.POST("/deposit/confirm", h.TccConfirmDeposit)
			tcc.POST("/deposit/cancel", h.TccCancelDeposit)
		}
	}
}

// GetBalances 查询用户全部余额
func (h *AccountHandler) GetBalances(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id is required", "")
		return
	}

	balances, err := h.accounts.GetBalances(c.Request.Context(), userID)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get balances", "user_id", userID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, balances)
}

// GetBalance 查询单个 (账户桶, 货币) 余额
func (h *AccountHandler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	accountType := accdomain.AccountType(c.Query("account_type"))
	currency := c.Query("currency")
	if userID == "" || currency == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "user_id and currency are required", "")
		return
	}
	if !accountType.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid account_type", "")
		return
	}

	balance, err := h.accounts.GetBalance(c.Request.Context(), userID, accountType, currency)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{
		"user_id":      userID,
		"account_type": accountType,
		"currency":     currency,
		"balance":      balance,
	})
}

// TransferRequest 出入金请求
type TransferRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

func (r *TransferRequest) amount() (decimal.Decimal, error) {
	return decimal.NewFromString(r.Amount)
}

// Deposit 投资人入金
func (h *AccountHandler) Deposit(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	amount, err := req.amount()
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}

	if err := h.accounts.Deposit(c.Request.Context(), req.UserID, req.Currency, amount, h.clock.Now()); err != nil {
		logger.Error(c.Request.Context(), "deposit failed", "user_id", req.UserID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "deposited"})
}

// Withdraw 投资人出金
func (h *AccountHandler) Withdraw(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	amount, err := req.amount()
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}

	if err := h.accounts.Withdraw(c.Request.Context(), req.UserID, req.Currency, amount, h.clock.Now()); err != nil {
		logger.Error(c.Request.Context(), "withdrawal failed", "user_id", req.UserID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"status": "withdrawn"})
}

// GetCashFlows 分页查询现金流
func (h *AccountHandler) GetCashFlows(c *gin.Context) {
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
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid offset", "")
		return
	}

	records, total, err := h.accounts.GetCashFlows(c.Request.Context(), userID, limit, offset)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get cash flows", "user_id", userID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"total": total,
	})
}

// --- TCC endpoints (called by the DTM coordinator) ---

// TccTryDeposit TCC Try
func (h *AccountHandler) TccTryDeposit(c *gin.Context) {
	h.handleTcc(c, func(barrier *dtmcli.BranchBarrier, req *TransferRequest, amount decimal.Decimal) error {
		return h.accounts.TccTryDeposit(c.Request.Context(), barrier, req.UserID, req.Currency, amount)
	})
}

// TccConfirmDeposit TCC Confirm
func (h *AccountHandler) TccConfirmDeposit(c *gin.Context) {
	h.handleTcc(c, func(barrier *dtmcli.BranchBarrier, req *TransferRequest, amount decimal.Decimal) error {
		return h.accounts.TccConfirmDeposit(c.Request.Context(), barrier, req.UserID, req.Currency, amount, h.clock.Now())
	})
}

// TccCancelDeposit TCC Cancel
func (h *AccountHandler) TccCancelDeposit(c *gin.Context) {
	h.handleTcc(c, func(barrier *dtmcli.BranchBarrier, req *TransferRequest, amount decimal.Decimal) error {
		return h.accounts.TccCancelDeposit(c.Request.Context(), barrier, req.UserID, req.Currency, amount)
	})
}

// handleTcc TCC 分支通用处理：解析屏障参数与请求体，执行分支逻辑
func (h *AccountHandler) handleTcc(c *gin.Context, fn func(barrier *dtmcli.BranchBarrier, req *TransferRequest, amount decimal.Decimal) error) {
	barrier, err := dtmcli.BarrierFromQuery(c.Request.URL.Query())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid barrier parameters", err.Error())
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	amount, err := req.amount()
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid amount", "")
		return
	}

	if err := fn(barrier, &req, amount); err != nil {
		logger.Error(c.Request.Context(), "tcc branch failed",
			"user_id", req.UserID, "op", barrier.Op, "error", err)
		// 409 让 DTM 按失败回滚而不是无限重试
		response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
		return
	}
	response.Success(c, gin.H{"dtm_result": "SUCCESS"})
}
