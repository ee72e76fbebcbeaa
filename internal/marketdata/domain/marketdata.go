// Package domain defines the market data service model: tracked assets and
// the price quotes fetched for them.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTrackedAssetNotFound = errors.New("tracked asset not found")
	ErrTrackedAssetExists   = errors.New("tracked asset already exists")
	ErrUpstreamUnavailable  = errors.New("market data provider unavailable")
)

// TrackedAsset is one asset whose price the service ingests. Name is the
// provider's canonical id (e.g. "bitcoin") and doubles as the cache key
// suffix read by the portfolio service.
type TrackedAsset struct {
	ID     uint64 `gorm:"column:id;primaryKey" json:"id"`
	Name   string `gorm:"column:name;type:varchar(64);uniqueIndex;not null" json:"name"`
	Symbol string `gorm:"column:symbol;type:varchar(16);not null" json:"symbol"`
}

func (TrackedAsset) TableName() string { return "tracked_assets" }

// Quote is one asset's fetched market state.
type Quote struct {
	AssetName   string          `json:"asset_name"`
	Price       decimal.Decimal `json:"price"`
	Change24h   float64         `json:"usd_24h_change"`
	LastUpdated time.Time       `json:"last_updated"`
}

// TrackedAssetRepository stores the ingestion watch list.
type TrackedAssetRepository interface {
	Create(ctx context.Context, a *TrackedAsset) (uint64, error)
	GetByName(ctx context.Context, name string) (*TrackedAsset, error)
	List(ctx context.Context) ([]TrackedAsset, error)
	Delete(ctx context.Context, id uint64) error
}

// PriceProvider fetches current quotes from the upstream market data API.
type PriceProvider interface {
	// FetchQuotes returns quotes for the named assets. Assets unknown to
	// the provider are absent from the result, not an error.
	FetchQuotes(ctx context.Context, assetNames []string) (map[string]Quote, error)
}

// QuoteStore publishes quotes to the shared cache read by consumers.
type QuoteStore interface {
	StoreQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, assetName string) (*Quote, error)
}
