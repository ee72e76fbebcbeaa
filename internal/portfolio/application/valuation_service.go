package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
)

// ValuationService recomputes a portfolio's market value from its holdings
// and the price cache.
type ValuationService struct {
	ledger  domain.LedgerRepository
	cache   domain.MarketDataCache
	metrics *metrics.Metrics
}

// NewValuationService wires the valuation use case. metrics may be nil.
func NewValuationService(ledger domain.LedgerRepository, cache domain.MarketDataCache, m *metrics.Metrics) *ValuationService {
	return &ValuationService{ledger: ledger, cache: cache, metrics: m}
}

// RevaluePortfolio sets current_value = Σ(quantity × cached price) over all
// holdings. A holding without a usable cache entry aborts the whole
// recomputation with ErrPriceUnavailable; no partial sum is persisted. The
// operation is idempotent and safe to call redundantly.
func (s *ValuationService) RevaluePortfolio(ctx context.Context, portfolioID uint64) error {
	if _, err := s.ledger.GetPortfolio(ctx, portfolioID); err != nil {
		return err
	}

	holdings, err := s.ledger.ListHoldings(ctx, portfolioID)
	if err != nil {
		return err
	}

	value := decimal.Zero
	for _, h := range holdings {
		snapshot, err := s.cache.GetSnapshot(ctx, h.AssetName)
		if err != nil {
			return err
		}
		if snapshot == nil || snapshot.CurrentPrice.IsZero() {
			return fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, h.AssetName)
		}
		value = value.Add(h.Quantity.Mul(snapshot.CurrentPrice))
	}

	if err := s.ledger.UpdateCurrentValue(ctx, portfolioID, value); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RevaluationsTotal.Inc()
	}
	logger.Debug(ctx, "portfolio revalued", "portfolio_id", portfolioID, "current_value", value.String())
	return nil
}
