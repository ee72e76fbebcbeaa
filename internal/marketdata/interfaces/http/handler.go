// Package http exposes the market data service REST API.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/application"
	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/response"
)

// MarketDataHandler 处理行情查询与监控列表维护
type MarketDataHandler struct {
	ingest *application.IngestService
}

func NewMarketDataHandler(ingest *application.IngestService) *MarketDataHandler {
	return &MarketDataHandler{ingest: ingest}
}

func (h *MarketDataHandler) RegisterRoutes(router *gin.RouterGroup) {
	quotes := router.Group("/quotes")
	{
		quotes.GET("/:name", h.GetQuote)
	}

	tracked := router.Group("/tracked-assets")
	{
		tracked.GET("", h.ListTracked)
		tracked.POST("", h.Track)
		tracked.DELETE("/:name", h.Untrack)
	}

	router.POST("/fetch", h.TriggerFetch)
}

func (h *MarketDataHandler) GetQuote(c *gin.Context) {
	name := c.Param("name")
	quote, err := h.ingest.Quote(c.Request.Context(), name)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to read quote", "asset", name, "error", err)
		response.Error(c, "failed to read quote")
		return
	}
	if quote == nil {
		response.ErrorWithStatus(c, http.StatusNotFound, "no quote for asset")
		return
	}
	response.Success(c, quote)
}

func (h *MarketDataHandler) ListTracked(c *gin.Context) {
	assets, err := h.ingest.List(c.Request.Context())
	if err != nil {
		response.Error(c, "failed to list tracked assets")
		return
	}
	response.Success(c, assets)
}

type trackRequest struct {
	Name   string `json:"name" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`
}

func (h *MarketDataHandler) Track(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	asset, err := h.ingest.Track(c.Request.Context(), req.Name, req.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrTrackedAssetExists) {
			response.ErrorWithStatus(c, http.StatusConflict, "asset already tracked")
			return
		}
		logger.Error(c.Request.Context(), "failed to track asset", "asset", req.Name, "error", err)
		response.Error(c, "failed to track asset")
		return
	}
	response.Created(c, asset)
}

func (h *MarketDataHandler) Untrack(c *gin.Context) {
	name := c.Param("name")
	if err := h.ingest.Untrack(c.Request.Context(), name); err != nil {
		if errors.Is(err, domain.ErrTrackedAssetNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "asset not tracked")
			return
		}
		response.Error(c, "failed to untrack asset")
		return
	}
	response.Success(c, nil)
}

// TriggerFetch 手动触发一次行情拉取
func (h *MarketDataHandler) TriggerFetch(c *gin.Context) {
	if err := h.ingest.FetchAndStore(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			response.ErrorWithStatus(c, http.StatusBadGateway, err.Error())
			return
		}
		logger.Error(c.Request.Context(), "manual price fetch failed", "error", err)
		response.Error(c, "price fetch failed")
		return
	}
	response.Success(c, nil)
}
