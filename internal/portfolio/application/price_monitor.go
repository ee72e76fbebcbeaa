package application

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
)

// MonitorState is the scheduler lifecycle state.
type MonitorState int32

const (
	MonitorStopped MonitorState = iota
	MonitorStarting
	MonitorRunning
	MonitorStopping
)

func (s MonitorState) String() string {
	switch s {
	case MonitorStarting:
		return "starting"
	case MonitorRunning:
		return "running"
	case MonitorStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

var (
	// ErrMonitorNotRunning rejects operations requiring the Running state.
	ErrMonitorNotRunning = errors.New("price monitor is not running")
	// ErrMonitorAlreadyStarted rejects a second Start.
	ErrMonitorAlreadyStarted = errors.New("price monitor already started")
	// ErrCheckInProgress reports that a scan is already executing; ticks
	// and manual triggers are never queued behind one another.
	ErrCheckInProgress = errors.New("price check already in progress")
)

// MonitorConfig tunes the price monitoring scheduler.
type MonitorConfig struct {
	// ThresholdPercent is the absolute 24h change triggering an alert.
	ThresholdPercent float64
	// CheckInterval between scans.
	CheckInterval time.Duration
	// InitialDelay before the first scan after Start.
	InitialDelay time.Duration
	// TickGrace is how late a tick may fire before it counts as missed.
	TickGrace time.Duration
	// Workers bounds the per-tick asset scan concurrency.
	Workers int
	// CooldownTTL suppresses repeat alerts per asset.
	CooldownTTL time.Duration
}

// DefaultMonitorConfig mirrors the reference deployment: 5% threshold,
// 15 minute interval, 6 hour alert cooldown.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ThresholdPercent: 5.0,
		CheckInterval:    15 * time.Minute,
		InitialDelay:     10 * time.Second,
		TickGrace:        5 * time.Minute,
		Workers:          4,
		CooldownTTL:      6 * time.Hour,
	}
}

// MonitorStatus is the externally visible scheduler state.
type MonitorStatus struct {
	State            string    `json:"state"`
	IntervalMinutes  int       `json:"interval_minutes"`
	ThresholdPercent float64   `json:"threshold_percent"`
	LastRun          time.Time `json:"last_run,omitempty"`
	LastAssetCount   int       `json:"last_asset_count"`
}

// PriceMonitor periodically scans every held asset, compares cached 24h
// price changes against the threshold and fans alert events out to holders,
// suppressing repeats per asset with a cooldown marker.
//
// Only one scan runs at a time: overlapping ticks are skipped, and manual
// triggers share the same single-flight guard as scheduled ticks.
type PriceMonitor struct {
	ledger    domain.LedgerRepository
	cache     domain.MarketDataCache
	publisher domain.EventPublisher
	cfg       MonitorConfig
	metrics   *metrics.Metrics

	state  atomic.Int32
	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	statusMu       sync.Mutex
	lastRun        time.Time
	lastAssetCount int
}

// NewPriceMonitor builds a monitor with injected dependencies. It owns no
// globals; the composition root hands it to whatever admin surface needs it.
func NewPriceMonitor(ledger domain.LedgerRepository, cache domain.MarketDataCache, publisher domain.EventPublisher, cfg MonitorConfig, m *metrics.Metrics) *PriceMonitor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = 6 * time.Hour
	}
	return &PriceMonitor{
		ledger:    ledger,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
	}
}

// Start launches the periodic scan loop.
func (pm *PriceMonitor) Start(ctx context.Context) error {
	if !pm.state.CompareAndSwap(int32(MonitorStopped), int32(MonitorStarting)) {
		return ErrMonitorAlreadyStarted
	}

	pm.stopCh = make(chan struct{})
	pm.doneCh = make(chan struct{})
	go pm.loop(ctx)

	pm.state.Store(int32(MonitorRunning))
	logger.Info(ctx, "price monitor started",
		"interval", pm.cfg.CheckInterval,
		"threshold_percent", pm.cfg.ThresholdPercent,
	)
	return nil
}

// Stop shuts the loop down, waiting for any in-flight scan to finish.
func (pm *PriceMonitor) Stop() error {
	if !pm.state.CompareAndSwap(int32(MonitorRunning), int32(MonitorStopping)) {
		return ErrMonitorNotRunning
	}

	close(pm.stopCh)
	<-pm.doneCh
	// The loop is down, but a manual check on another goroutine may still
	// hold the scan guard; wait for it before reporting stopped.
	pm.runMu.Lock()
	pm.runMu.Unlock()
	pm.state.Store(int32(MonitorStopped))
	logger.Info(context.Background(), "price monitor stopped")
	return nil
}

// TriggerManualCheck runs one scan out of band. Allowed only while Running;
// serialized against scheduled ticks by the shared single-flight guard.
func (pm *PriceMonitor) TriggerManualCheck(ctx context.Context) error {
	if pm.State() != MonitorRunning {
		return ErrMonitorNotRunning
	}
	logger.Info(ctx, "manual price check triggered")
	return pm.runCheck(ctx)
}

// State returns the current lifecycle state.
func (pm *PriceMonitor) State() MonitorState {
	return MonitorState(pm.state.Load())
}

// Status reports the scheduler's externally visible state.
func (pm *PriceMonitor) Status() MonitorStatus {
	pm.statusMu.Lock()
	defer pm.statusMu.Unlock()
	return MonitorStatus{
		State:            pm.State().String(),
		IntervalMinutes:  int(pm.cfg.CheckInterval / time.Minute),
		ThresholdPercent: pm.cfg.ThresholdPercent,
		LastRun:          pm.lastRun,
		LastAssetCount:   pm.lastAssetCount,
	}
}

func (pm *PriceMonitor) loop(ctx context.Context) {
	defer close(pm.doneCh)

	initial := pm.cfg.InitialDelay
	if initial <= 0 {
		initial = time.Nanosecond
	}
	timer := time.NewTimer(initial)
	defer timer.Stop()

	select {
	case <-pm.stopCh:
		return
	case <-timer.C:
		pm.tick(ctx, time.Now())
	}

	ticker := time.NewTicker(pm.cfg.CheckInterval)
	defer ticker.Stop()
	expected := time.Now().Add(pm.cfg.CheckInterval)

	for {
		select {
		case <-pm.stopCh:
			return
		case now := <-ticker.C:
			// A tick delivered far past its schedule is a miss, not
			// a late run.
			if pm.cfg.TickGrace > 0 && now.Sub(expected) > pm.cfg.TickGrace {
				logger.Warn(ctx, "price check tick missed",
					"scheduled", expected,
					"fired", now,
				)
			} else {
				pm.tick(ctx, now)
			}
			expected = now.Add(pm.cfg.CheckInterval)
		}
	}
}

// tick runs one scheduled scan; failures are logged and never crash the loop.
func (pm *PriceMonitor) tick(ctx context.Context, now time.Time) {
	if err := pm.runCheck(ctx); err != nil {
		if errors.Is(err, ErrCheckInProgress) {
			logger.Warn(ctx, "skipping overlapping price check", "fired", now)
			if pm.metrics != nil {
				pm.metrics.MonitorTicksSkipped.Inc()
			}
			return
		}
		logger.Error(ctx, "price check failed", "error", err)
	}
}

// runCheck scans all held assets once. Per-asset failures are logged and do
// not abort the scan of the remaining assets.
func (pm *PriceMonitor) runCheck(ctx context.Context) error {
	if !pm.runMu.TryLock() {
		return ErrCheckInProgress
	}
	defer pm.runMu.Unlock()

	start := time.Now()
	logger.Info(ctx, "starting price monitoring check")

	assets, err := pm.ledger.DistinctHeldAssets(ctx)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		logger.Info(ctx, "no held assets to monitor")
		pm.recordRun(start, 0)
		return nil
	}

	// Read-only cache lookups are cheap; a small worker pool keeps large
	// asset sets within one interval. Cooldown set-once per asset is
	// preserved because each asset is handled by exactly one worker, with
	// the marker itself written compare-and-set.
	jobs := make(chan domain.Asset)
	var wg sync.WaitGroup
	for i := 0; i < pm.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range jobs {
				pm.checkAsset(ctx, asset)
			}
		}()
	}
	for _, asset := range assets {
		jobs <- asset
	}
	close(jobs)
	wg.Wait()

	pm.recordRun(start, len(assets))
	if pm.metrics != nil {
		pm.metrics.MonitorTicksTotal.Inc()
		pm.metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info(ctx, "price monitoring check completed",
		"assets", len(assets),
		"duration", time.Since(start),
	)
	return nil
}

// checkAsset evaluates one asset and alerts its holders when warranted.
// All failure paths log and return; nothing propagates past the scan.
func (pm *PriceMonitor) checkAsset(ctx context.Context, asset domain.Asset) {
	snapshot, err := pm.cache.GetSnapshot(ctx, asset.Name)
	if err != nil {
		logger.Error(ctx, "failed to read market data", "asset", asset.Name, "error", err)
		return
	}
	if snapshot == nil {
		logger.Warn(ctx, "no market data for asset", "asset", asset.Name, "symbol", asset.Symbol)
		return
	}
	if snapshot.CurrentPrice.IsZero() {
		logger.Warn(ctx, "invalid price data for asset", "asset", asset.Name)
		return
	}

	if math.Abs(snapshot.Change24h) < pm.cfg.ThresholdPercent {
		return
	}

	onCooldown, err := pm.cache.HasCooldown(ctx, asset.Name)
	if err != nil {
		logger.Error(ctx, "failed to check alert cooldown", "asset", asset.Name, "error", err)
		return
	}
	if onCooldown {
		logger.Debug(ctx, "alert suppressed by cooldown", "asset", asset.Name)
		return
	}

	holders, err := pm.ledger.UsersHoldingAsset(ctx, asset.Name)
	if err != nil {
		logger.Error(ctx, "failed to find asset holders", "asset", asset.Name, "error", err)
		return
	}

	direction := "up"
	if snapshot.Change24h < 0 {
		direction = "down"
	}

	sent := 0
	for _, userID := range holders {
		event := domain.PriceChangeAlertEvent{
			UserID:        userID,
			AssetName:     asset.Name,
			AssetSymbol:   asset.Symbol,
			ChangePercent: math.Round(snapshot.Change24h*100) / 100,
			CurrentPrice:  snapshot.CurrentPrice,
			Direction:     direction,
		}
		if err := pm.publisher.PublishPriceChangeAlert(ctx, event); err != nil {
			logger.Error(ctx, "failed to publish price alert",
				"asset", asset.Name,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		sent++
	}

	// One marker per asset per cycle, regardless of holder count.
	if _, err := pm.cache.SetCooldown(ctx, asset.Name, pm.cfg.CooldownTTL); err != nil {
		logger.Error(ctx, "failed to set alert cooldown", "asset", asset.Name, "error", err)
	}

	if sent > 0 {
		if pm.metrics != nil {
			pm.metrics.PriceAlertsTotal.Add(float64(sent))
		}
		logger.Info(ctx, "price alerts published",
			"asset", asset.Symbol,
			"holders", sent,
			"change_percent", snapshot.Change24h,
		)
	}
}

func (pm *PriceMonitor) recordRun(start time.Time, assetCount int) {
	pm.statusMu.Lock()
	pm.lastRun = start
	pm.lastAssetCount = assetCount
	pm.statusMu.Unlock()
}
