// Package http exposes the portfolio service REST API.
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/application"
	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/middleware"
	"github.com/avkuzmin/cryptofolio/pkg/response"
)

// PortfolioHandler 处理组合与交易相关的 HTTP 请求
type PortfolioHandler struct {
	portfolios   *application.PortfolioService
	transactions *application.TransactionService
	valuation    *application.ValuationService
	assets       *application.AssetService
	monitor      *application.PriceMonitor
}

func NewPortfolioHandler(
	portfolios *application.PortfolioService,
	transactions *application.TransactionService,
	valuation *application.ValuationService,
	assets *application.AssetService,
	monitor *application.PriceMonitor,
) *PortfolioHandler {
	return &PortfolioHandler{
		portfolios:   portfolios,
		transactions: transactions,
		valuation:    valuation,
		assets:       assets,
		monitor:      monitor,
	}
}

// RegisterRoutes 注册路由；所有端点都要求 JWT 认证，由调用方挂载
func (h *PortfolioHandler) RegisterRoutes(router *gin.RouterGroup) {
	portfolios := router.Group("/portfolios")
	{
		portfolios.POST("", h.CreatePortfolio)
		portfolios.GET("/me", h.GetMyPortfolio)
		portfolios.GET("/:id", h.GetPortfolio)
		portfolios.DELETE("/:id", h.DeletePortfolio)
		portfolios.GET("/:id/holdings", h.ListHoldings)
		portfolios.POST("/:id/revalue", h.RevaluePortfolio)
		portfolios.GET("/:id/transactions", h.ListTransactions)
		portfolios.POST("/:id/transactions", h.CreateTransaction)
	}

	transactions := router.Group("/transactions")
	{
		transactions.GET("/:id", h.GetTransaction)
		transactions.DELETE("/:id", h.DeleteTransaction)
	}

	assets := router.Group("/assets")
	{
		assets.POST("", h.CreateAsset)
		assets.GET("", h.ListAssets)
		assets.GET("/:id", h.GetAsset)
		assets.DELETE("/:id", h.DeleteAsset)
	}

	monitor := router.Group("/monitor")
	{
		monitor.GET("/status", h.MonitorStatus)
		monitor.POST("/manual-check", h.TriggerMonitorCheck)
		monitor.POST("/start", h.StartMonitor)
		monitor.POST("/stop", h.StopMonitor)
	}
}

func (h *PortfolioHandler) CreatePortfolio(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	id, err := h.portfolios.Create(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioExists) {
			response.ErrorWithStatus(c, http.StatusConflict, "portfolio already exists")
			return
		}
		if errors.Is(err, domain.ErrUserNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "user not found")
			return
		}
		logger.Error(c.Request.Context(), "failed to create portfolio", "user_id", userID, "error", err)
		response.Error(c, "failed to create portfolio")
		return
	}

	p, err := h.portfolios.Get(c.Request.Context(), id)
	if err != nil {
		h.portfolioError(c, err)
		return
	}
	response.Created(c, p)
}

func (h *PortfolioHandler) GetMyPortfolio(c *gin.Context) {
	userID := c.GetUint64(middleware.UserIDKey)

	p, err := h.portfolios.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "portfolio not found")
			return
		}
		logger.Error(c.Request.Context(), "failed to load portfolio", "user_id", userID, "error", err)
		response.Error(c, "failed to load portfolio")
		return
	}
	response.Success(c, p)
}

func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	p, err := h.portfolios.Get(c.Request.Context(), portfolioID)
	if err != nil {
		h.portfolioError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *PortfolioHandler) DeletePortfolio(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	if err := h.portfolios.Delete(c.Request.Context(), portfolioID); err != nil {
		h.portfolioError(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *PortfolioHandler) ListHoldings(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	holdings, err := h.portfolios.ListHoldings(c.Request.Context(), portfolioID)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.portfolioError(c, err)
		return
	}
	response.Success(c, holdings)
}

// RevaluePortfolio 按缓存价格重算组合市值
func (h *PortfolioHandler) RevaluePortfolio(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	if err := h.valuation.RevaluePortfolio(c.Request.Context(), portfolioID); err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.portfolioError(c, err)
		return
	}

	p, err := h.portfolios.Get(c.Request.Context(), portfolioID)
	if err != nil {
		h.portfolioError(c, err)
		return
	}
	response.Success(c, p)
}

type createTransactionRequest struct {
	AssetID  uint64          `json:"asset_id" binding:"required"`
	Type     string          `json:"transaction_type" binding:"required"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Date     time.Time       `json:"transaction_date"`
}

// CreateTransaction 记录一笔买入或卖出，并在提交后按最新价格重算市值
func (h *PortfolioHandler) CreateTransaction(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	txID, err := h.transactions.Apply(c.Request.Context(), application.ApplyTransactionCommand{
		PortfolioID: portfolioID,
		AssetID:     req.AssetID,
		Type:        domain.TransactionType(req.Type),
		Quantity:    req.Quantity,
		Price:       req.Price,
		Date:        req.Date,
	})
	if err != nil {
		h.transactionError(c, err)
		return
	}

	// 市值重算失败不回滚已提交的交易，只记录日志
	if err := h.valuation.RevaluePortfolio(c.Request.Context(), portfolioID); err != nil {
		logger.Warn(c.Request.Context(), "revaluation after transaction failed",
			"portfolio_id", portfolioID, "error", err)
	}

	record, err := h.transactions.Get(c.Request.Context(), txID)
	if err != nil {
		h.transactionError(c, err)
		return
	}
	response.Created(c, record)
}

func (h *PortfolioHandler) ListTransactions(c *gin.Context) {
	portfolioID, ok := h.ownedPortfolioID(c)
	if !ok {
		return
	}

	txs, err := h.transactions.List(c.Request.Context(), portfolioID)
	if err != nil {
		h.portfolioError(c, err)
		return
	}
	response.Success(c, txs)
}

func (h *PortfolioHandler) GetTransaction(c *gin.Context) {
	txID, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.transactions.Get(c.Request.Context(), txID)
	if err != nil {
		h.transactionError(c, err)
		return
	}
	if !h.requireTransactionOwnership(c, record) {
		return
	}
	response.Success(c, record)
}

// DeleteTransaction 撤销一笔交易并重算市值
func (h *PortfolioHandler) DeleteTransaction(c *gin.Context) {
	txID, ok := pathID(c)
	if !ok {
		return
	}

	record, err := h.transactions.Get(c.Request.Context(), txID)
	if err != nil {
		h.transactionError(c, err)
		return
	}
	if !h.requireTransactionOwnership(c, record) {
		return
	}

	if err := h.transactions.Delete(c.Request.Context(), txID); err != nil {
		h.transactionError(c, err)
		return
	}

	if err := h.valuation.RevaluePortfolio(c.Request.Context(), record.PortfolioID); err != nil {
		logger.Warn(c.Request.Context(), "revaluation after deletion failed",
			"portfolio_id", record.PortfolioID, "error", err)
	}
	response.Success(c, nil)
}

type createAssetRequest struct {
	Name      string `json:"name" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	AssetType string `json:"asset_type" binding:"required"`
}

func (h *PortfolioHandler) CreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	asset := &domain.Asset{
		Name:      req.Name,
		Symbol:    req.Symbol,
		AssetType: domain.AssetType(req.AssetType),
	}
	if _, err := h.assets.Create(c.Request.Context(), asset); err != nil {
		logger.Error(c.Request.Context(), "failed to create asset", "name", req.Name, "error", err)
		response.Error(c, "failed to create asset")
		return
	}
	response.Created(c, asset)
}

func (h *PortfolioHandler) ListAssets(c *gin.Context) {
	assets, err := h.assets.List(c.Request.Context())
	if err != nil {
		response.Error(c, "failed to list assets")
		return
	}
	response.Success(c, assets)
}

func (h *PortfolioHandler) GetAsset(c *gin.Context) {
	assetID, ok := pathID(c)
	if !ok {
		return
	}

	asset, err := h.assets.Get(c.Request.Context(), assetID)
	if err != nil {
		if errors.Is(err, domain.ErrAssetNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "asset not found")
			return
		}
		response.Error(c, "failed to load asset")
		return
	}
	response.Success(c, asset)
}

func (h *PortfolioHandler) DeleteAsset(c *gin.Context) {
	assetID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.assets.Delete(c.Request.Context(), assetID); err != nil {
		if errors.Is(err, domain.ErrAssetNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "asset not found")
			return
		}
		response.Error(c, "failed to delete asset")
		return
	}
	response.Success(c, nil)
}

// MonitorStatus 查询价格监控调度器状态
func (h *PortfolioHandler) MonitorStatus(c *gin.Context) {
	response.Success(c, h.monitor.Status())
}

// TriggerMonitorCheck 手动触发一次价格检查
func (h *PortfolioHandler) TriggerMonitorCheck(c *gin.Context) {
	err := h.monitor.TriggerManualCheck(c.Request.Context())
	switch {
	case err == nil:
		response.Success(c, h.monitor.Status())
	case errors.Is(err, application.ErrMonitorNotRunning):
		response.ErrorWithStatus(c, http.StatusConflict, "price monitor is not running")
	case errors.Is(err, application.ErrCheckInProgress):
		response.ErrorWithStatus(c, http.StatusConflict, "price check already in progress")
	default:
		logger.Error(c.Request.Context(), "manual price check failed", "error", err)
		response.Error(c, "price check failed")
	}
}

func (h *PortfolioHandler) StartMonitor(c *gin.Context) {
	if err := h.monitor.Start(c.Request.Context()); err != nil {
		if errors.Is(err, application.ErrMonitorAlreadyStarted) {
			response.ErrorWithStatus(c, http.StatusConflict, "price monitor already started")
			return
		}
		response.Error(c, "failed to start price monitor")
		return
	}
	response.Success(c, h.monitor.Status())
}

func (h *PortfolioHandler) StopMonitor(c *gin.Context) {
	if err := h.monitor.Stop(); err != nil {
		if errors.Is(err, application.ErrMonitorNotRunning) {
			response.ErrorWithStatus(c, http.StatusConflict, "price monitor is not running")
			return
		}
		response.Error(c, "failed to stop price monitor")
		return
	}
	response.Success(c, h.monitor.Status())
}

// ownedPortfolioID 解析路径中的组合 ID 并校验属于当前用户
func (h *PortfolioHandler) ownedPortfolioID(c *gin.Context) (uint64, bool) {
	portfolioID, ok := pathID(c)
	if !ok {
		return 0, false
	}

	userID := c.GetUint64(middleware.UserIDKey)
	if err := h.portfolios.CheckOwnership(c.Request.Context(), userID, portfolioID); err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "portfolio not found")
			return 0, false
		}
		if errors.Is(err, domain.ErrNotPortfolioOwner) {
			response.ErrorWithStatus(c, http.StatusForbidden, "not the portfolio owner")
			return 0, false
		}
		response.Error(c, "ownership check failed")
		return 0, false
	}
	return portfolioID, true
}

func (h *PortfolioHandler) requireTransactionOwnership(c *gin.Context, record *domain.Transaction) bool {
	userID := c.GetUint64(middleware.UserIDKey)
	if err := h.portfolios.CheckOwnership(c.Request.Context(), userID, record.PortfolioID); err != nil {
		response.ErrorWithStatus(c, http.StatusForbidden, "not the portfolio owner")
		return false
	}
	return true
}

func (h *PortfolioHandler) portfolioError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrPortfolioNotFound) {
		response.ErrorWithStatus(c, http.StatusNotFound, "portfolio not found")
		return
	}
	logger.Error(c.Request.Context(), "portfolio operation failed", "error", err)
	response.Error(c, "portfolio operation failed")
}

func (h *PortfolioHandler) transactionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "transaction not found")
	case errors.Is(err, domain.ErrPortfolioNotFound):
		response.ErrorWithStatus(c, http.StatusNotFound, "portfolio not found")
	case errors.Is(err, domain.ErrOverdraft),
		errors.Is(err, domain.ErrNoPosition),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidTransactionType):
		response.ErrorWithStatus(c, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error(c.Request.Context(), "transaction operation failed", "error", err)
		response.Error(c, "transaction operation failed")
	}
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
