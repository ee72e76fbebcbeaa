// Package redis publishes quotes to the shared cache consumed by the
// portfolio service.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
	"github.com/avkuzmin/cryptofolio/pkg/cache"
)

const (
	marketDataKeyPrefix = "market_data:"

	fieldCurrentPrice = "current_price"
	fieldChange24h    = "usd_24h_change"
	fieldLastUpdated  = "last_updated"
)

// QuoteStore writes quotes as hashes keyed market_data:<asset name>. Field
// names and the RFC3339 timestamp format are a cross-service contract.
type QuoteStore struct {
	cache *cache.RedisCache
}

func NewQuoteStore(c *cache.RedisCache) *QuoteStore {
	return &QuoteStore{cache: c}
}

func (s *QuoteStore) StoreQuote(ctx context.Context, q domain.Quote) error {
	key := marketDataKeyPrefix + q.AssetName
	return s.cache.HSet(ctx, key,
		fieldCurrentPrice, q.Price.String(),
		fieldChange24h, fmt.Sprintf("%g", q.Change24h),
		fieldLastUpdated, q.LastUpdated.UTC().Format(time.RFC3339),
	)
}

func (s *QuoteStore) GetQuote(ctx context.Context, assetName string) (*domain.Quote, error) {
	fields, err := s.cache.HGetAll(ctx, marketDataKeyPrefix+assetName)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	price, err := decimal.NewFromString(fields[fieldCurrentPrice])
	if err != nil {
		return nil, fmt.Errorf("malformed cached price for %s: %w", assetName, err)
	}

	q := &domain.Quote{AssetName: assetName, Price: price}
	if raw, ok := fields[fieldChange24h]; ok {
		change, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed cached 24h change for %s: %w", assetName, err)
		}
		q.Change24h = change.InexactFloat64()
	}
	if raw, ok := fields[fieldLastUpdated]; ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			q.LastUpdated = ts
		}
	}
	return q, nil
}
