// Package redis reads the shared market data cache written by the
// market-data service and manages alert cooldown markers.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/cache"
)

const (
	marketDataKeyPrefix = "market_data:"
	alertSentKeyPrefix  = "price_alert_sent:"

	fieldCurrentPrice = "current_price"
	fieldChange24h    = "usd_24h_change"
	fieldLastUpdated  = "last_updated"
)

// MarketDataCache implements domain.MarketDataCache over the shared Redis
// instance. Snapshots live in hashes keyed market_data:<asset name>.
type MarketDataCache struct {
	cache *cache.RedisCache
}

func NewMarketDataCache(c *cache.RedisCache) *MarketDataCache {
	return &MarketDataCache{cache: c}
}

// GetSnapshot returns nil without error for assets that were never ingested
// or whose entry expired.
func (m *MarketDataCache) GetSnapshot(ctx context.Context, assetName string) (*domain.PriceSnapshot, error) {
	fields, err := m.cache.HGetAll(ctx, marketDataKeyPrefix+assetName)
	if err != nil {
		return nil, fmt.Errorf("read market data for %s: %w", assetName, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseSnapshot(assetName, fields)
}

// parseSnapshot decodes one market data hash. Malformed entries surface as
// ErrPriceUnavailable so callers map them to the same taxonomy as a missing
// price instead of an internal failure.
func parseSnapshot(assetName string, fields map[string]string) (*domain.PriceSnapshot, error) {
	price, err := decimal.NewFromString(fields[fieldCurrentPrice])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed price for %s: %v", domain.ErrPriceUnavailable, assetName, err)
	}

	snapshot := &domain.PriceSnapshot{
		CurrentPrice: price,
		LastUpdated:  fields[fieldLastUpdated],
	}
	if raw, ok := fields[fieldChange24h]; ok {
		change, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed 24h change for %s: %v", domain.ErrPriceUnavailable, assetName, err)
		}
		snapshot.Change24h = change.InexactFloat64()
	}
	return snapshot, nil
}

func (m *MarketDataCache) HasCooldown(ctx context.Context, assetName string) (bool, error) {
	n, err := m.cache.Exists(ctx, alertSentKeyPrefix+assetName)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetCooldown writes the marker only when absent; Redis SETNX makes the
// compare-and-set atomic across monitor replicas.
func (m *MarketDataCache) SetCooldown(ctx context.Context, assetName string, ttl time.Duration) (bool, error) {
	return m.cache.SetNX(ctx, alertSentKeyPrefix+assetName, "1", ttl)
}
