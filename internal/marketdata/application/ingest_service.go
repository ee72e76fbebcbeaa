// Package application implements market data ingestion: the periodic fetch
// from the upstream provider into the shared price cache.
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
)

// IngestService fetches quotes for every tracked asset and writes them to
// the quote store.
type IngestService struct {
	assets   domain.TrackedAssetRepository
	provider domain.PriceProvider
	store    domain.QuoteStore
	metrics  *metrics.Metrics

	mu sync.Mutex // one fetch at a time
}

func NewIngestService(assets domain.TrackedAssetRepository, provider domain.PriceProvider, store domain.QuoteStore, m *metrics.Metrics) *IngestService {
	return &IngestService{assets: assets, provider: provider, store: store, metrics: m}
}

// FetchAndStore runs one ingestion cycle. Assets missing from the provider
// response keep their previous cache entry; nothing is deleted here.
func (s *IngestService) FetchAndStore(ctx context.Context) error {
	if !s.mu.TryLock() {
		logger.Warn(ctx, "skipping overlapping price fetch")
		return nil
	}
	defer s.mu.Unlock()

	tracked, err := s.assets.List(ctx)
	if err != nil {
		return fmt.Errorf("list tracked assets: %w", err)
	}
	if len(tracked) == 0 {
		logger.Debug(ctx, "no tracked assets to fetch")
		return nil
	}

	names := make([]string, len(tracked))
	for i, a := range tracked {
		names[i] = a.Name
	}

	start := time.Now()
	quotes, err := s.provider.FetchQuotes(ctx, names)
	if err != nil {
		return err
	}

	stored := 0
	for _, name := range names {
		quote, ok := quotes[name]
		if !ok {
			logger.Warn(ctx, "provider returned no quote", "asset", name)
			continue
		}
		if err := s.store.StoreQuote(ctx, quote); err != nil {
			logger.Error(ctx, "failed to store quote", "asset", name, "error", err)
			continue
		}
		stored++
	}

	logger.Info(ctx, "price fetch completed",
		"tracked", len(names),
		"stored", stored,
		"duration", time.Since(start),
	)
	return nil
}

// Track adds an asset to the watch list and fetches its first quote
// immediately so consumers never see a tracked asset without a price.
func (s *IngestService) Track(ctx context.Context, name, symbol string) (*domain.TrackedAsset, error) {
	asset := &domain.TrackedAsset{Name: name, Symbol: symbol}
	if _, err := s.assets.Create(ctx, asset); err != nil {
		return nil, err
	}

	quotes, err := s.provider.FetchQuotes(ctx, []string{name})
	if err != nil {
		logger.Warn(ctx, "initial quote fetch failed", "asset", name, "error", err)
		return asset, nil
	}
	if quote, ok := quotes[name]; ok {
		if err := s.store.StoreQuote(ctx, quote); err != nil {
			logger.Error(ctx, "failed to store initial quote", "asset", name, "error", err)
		}
	}
	return asset, nil
}

// Untrack removes an asset from the watch list. Its cache entry is left to
// age out naturally.
func (s *IngestService) Untrack(ctx context.Context, name string) error {
	asset, err := s.assets.GetByName(ctx, name)
	if err != nil {
		return err
	}
	return s.assets.Delete(ctx, asset.ID)
}

// List returns the watch list.
func (s *IngestService) List(ctx context.Context) ([]domain.TrackedAsset, error) {
	return s.assets.List(ctx)
}

// Quote returns the cached quote for one asset, nil when absent.
func (s *IngestService) Quote(ctx context.Context, assetName string) (*domain.Quote, error) {
	return s.store.GetQuote(ctx, assetName)
}

// Scheduler drives periodic ingestion with cron.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// NewScheduler registers the fetch job at the given interval.
func NewScheduler(ctx context.Context, ingest *IngestService, interval time.Duration) (*Scheduler, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, func() {
		if err := ingest.FetchAndStore(ctx); err != nil {
			logger.Error(ctx, "scheduled price fetch failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("register fetch job: %w", err)
	}
	return &Scheduler{cron: c, baseCtx: ctx}, nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info(s.baseCtx, "market data scheduler started")
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info(s.baseCtx, "market data scheduler stopped")
}
