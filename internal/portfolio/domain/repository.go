package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerTx is the transactional view of the ledger store. Every method runs
// inside the database transaction opened by LedgerRepository.InTx; either all
// mutations commit or none do.
type LedgerTx interface {
	GetPortfolio(id uint64) (*Portfolio, error)
	// AdjustTotalInvested adds delta to the portfolio's invested total in
	// place (total_invested = total_invested + delta). A relative update
	// keeps concurrent transactions on different assets of the same
	// portfolio from overwriting each other's contribution: only the
	// holding row is locked, so an absolute write computed from a snapshot
	// read would lose one of the deltas.
	AdjustTotalInvested(portfolioID uint64, delta decimal.Decimal) error

	CreateTransaction(t *Transaction) (uint64, error)
	GetTransaction(id uint64) (*Transaction, error)
	DeleteTransaction(id uint64) error

	// GetHoldingForUpdate loads and locks the holding row for the
	// (portfolio, asset) pair; returns nil when no holding exists.
	GetHoldingForUpdate(portfolioID, assetID uint64) (*PortfolioAsset, error)
	CreateHolding(h *PortfolioAsset) error
	UpdateHoldingQuantity(id uint64, quantity decimal.Decimal) error
	DeleteHolding(id uint64) error
}

// LedgerRepository is durable storage for portfolios, holdings and
// transactions.
type LedgerRepository interface {
	// InTx runs fn inside one atomic database transaction at an isolation
	// level preventing lost updates on concurrent holding mutations.
	InTx(ctx context.Context, fn func(LedgerTx) error) error

	CreatePortfolio(ctx context.Context, p *Portfolio) (uint64, error)
	GetPortfolio(ctx context.Context, id uint64) (*Portfolio, error)
	GetPortfolioByUserID(ctx context.Context, userID uint64) (*Portfolio, error)
	// DeletePortfolio cascades to the portfolio's holdings and transactions.
	DeletePortfolio(ctx context.Context, id uint64) error
	UpdateCurrentValue(ctx context.Context, id uint64, value decimal.Decimal) error

	ListHoldings(ctx context.Context, portfolioID uint64) ([]HoldingView, error)
	GetTransaction(ctx context.Context, id uint64) (*Transaction, error)
	ListTransactions(ctx context.Context, portfolioID uint64) ([]Transaction, error)

	// DistinctHeldAssets returns every asset appearing in a holding with
	// positive quantity, across all portfolios.
	DistinctHeldAssets(ctx context.Context) ([]Asset, error)
	// UsersHoldingAsset returns the distinct user ids holding the named
	// asset with positive quantity.
	UsersHoldingAsset(ctx context.Context, assetName string) ([]uint64, error)
}

// AssetRepository is CRUD for asset reference data.
type AssetRepository interface {
	Create(ctx context.Context, a *Asset) (uint64, error)
	Get(ctx context.Context, id uint64) (*Asset, error)
	GetByName(ctx context.Context, name string) (*Asset, error)
	List(ctx context.Context) ([]Asset, error)
	Delete(ctx context.Context, id uint64) error
}

// UserRepository maintains the local user projection fed by user events.
type UserRepository interface {
	Upsert(ctx context.Context, u *User) error
	Get(ctx context.Context, id uint64) (*User, error)
	Delete(ctx context.Context, id uint64) error
}

// PriceSnapshot is one asset's cached market state, written by the
// market-data service and read-only here.
type PriceSnapshot struct {
	CurrentPrice decimal.Decimal
	Change24h    float64
	LastUpdated  string
}

// MarketDataCache reads price snapshots and manages alert cooldown markers.
// Absence of a snapshot is a data condition, not an error.
type MarketDataCache interface {
	// GetSnapshot returns nil (no error) when the asset has no cache entry.
	GetSnapshot(ctx context.Context, assetName string) (*PriceSnapshot, error)
	HasCooldown(ctx context.Context, assetName string) (bool, error)
	// SetCooldown sets the marker only if absent (compare-and-set) and
	// reports whether this call created it.
	SetCooldown(ctx context.Context, assetName string, ttl time.Duration) (bool, error)
}
