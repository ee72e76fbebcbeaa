package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
)

// PortfolioService is CRUD around the portfolio aggregate plus the
// price-enriched holdings view.
type PortfolioService struct {
	ledger domain.LedgerRepository
	users  domain.UserRepository
	cache  domain.MarketDataCache
}

// NewPortfolioService wires portfolio CRUD.
func NewPortfolioService(ledger domain.LedgerRepository, users domain.UserRepository, cache domain.MarketDataCache) *PortfolioService {
	return &PortfolioService{ledger: ledger, users: users, cache: cache}
}

// Create makes the user's portfolio. A user has at most one.
func (s *PortfolioService) Create(ctx context.Context, userID uint64) (uint64, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return 0, err
	}

	if existing, err := s.ledger.GetPortfolioByUserID(ctx, userID); err == nil && existing != nil {
		return 0, domain.ErrPortfolioExists
	} else if err != nil && !errors.Is(err, domain.ErrPortfolioNotFound) {
		return 0, err
	}

	id, err := s.ledger.CreatePortfolio(ctx, &domain.Portfolio{UserID: userID})
	if err != nil {
		return 0, err
	}

	logger.Info(ctx, "portfolio created", "portfolio_id", id, "user_id", userID)
	return id, nil
}

// Get returns one portfolio by id.
func (s *PortfolioService) Get(ctx context.Context, id uint64) (*domain.Portfolio, error) {
	return s.ledger.GetPortfolio(ctx, id)
}

// GetByUserID returns the user's portfolio.
func (s *PortfolioService) GetByUserID(ctx context.Context, userID uint64) (*domain.Portfolio, error) {
	return s.ledger.GetPortfolioByUserID(ctx, userID)
}

// Delete removes the portfolio; holdings and transactions cascade.
func (s *PortfolioService) Delete(ctx context.Context, id uint64) error {
	if err := s.ledger.DeletePortfolio(ctx, id); err != nil {
		return err
	}
	logger.Info(ctx, "portfolio deleted", "portfolio_id", id)
	return nil
}

// CheckOwnership verifies the portfolio belongs to the user.
func (s *PortfolioService) CheckOwnership(ctx context.Context, userID, portfolioID uint64) error {
	portfolio, err := s.ledger.GetPortfolioByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if portfolio.ID != portfolioID {
		return domain.ErrNotPortfolioOwner
	}
	return nil
}

// HoldingWithPrice is a holding enriched with its cached market snapshot.
type HoldingWithPrice struct {
	domain.HoldingView
	CurrentPrice string  `json:"current_price"`
	Change24h    float64 `json:"usd_24h_change"`
	LastUpdated  string  `json:"last_updated"`
}

// ListHoldings returns the portfolio's holdings with current cached prices.
// A holding whose asset has no cache entry fails the whole listing.
func (s *PortfolioService) ListHoldings(ctx context.Context, portfolioID uint64) ([]HoldingWithPrice, error) {
	holdings, err := s.ledger.ListHoldings(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	out := make([]HoldingWithPrice, 0, len(holdings))
	for _, h := range holdings {
		snapshot, err := s.cache.GetSnapshot(ctx, h.AssetName)
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, h.AssetName)
		}
		out = append(out, HoldingWithPrice{
			HoldingView:  h,
			CurrentPrice: snapshot.CurrentPrice.String(),
			Change24h:    snapshot.Change24h,
			LastUpdated:  snapshot.LastUpdated,
		})
	}
	return out, nil
}

// AssetService is CRUD for asset reference data.
type AssetService struct {
	assets domain.AssetRepository
}

// NewAssetService wires asset CRUD.
func NewAssetService(assets domain.AssetRepository) *AssetService {
	return &AssetService{assets: assets}
}

// Create registers a new reference asset.
func (s *AssetService) Create(ctx context.Context, asset *domain.Asset) (uint64, error) {
	return s.assets.Create(ctx, asset)
}

// Get returns one asset by id.
func (s *AssetService) Get(ctx context.Context, id uint64) (*domain.Asset, error) {
	return s.assets.Get(ctx, id)
}

// List returns all reference assets.
func (s *AssetService) List(ctx context.Context) ([]domain.Asset, error) {
	return s.assets.List(ctx)
}

// Delete removes an asset. Assets referenced by transactions stay in
// practice; no integrity check is performed here.
func (s *AssetService) Delete(ctx context.Context, id uint64) error {
	return s.assets.Delete(ctx, id)
}
