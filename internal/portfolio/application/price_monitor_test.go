package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
)

func monitorFixture() (*memLedger, *memCache, *memPublisher, *PriceMonitor) {
	ledger := newMemLedger()
	cache := newMemCache()
	pub := &memPublisher{}
	cfg := DefaultMonitorConfig()
	cfg.InitialDelay = time.Hour // keep the loop quiet during direct runCheck tests
	pm := NewPriceMonitor(ledger, cache, pub, cfg, nil)
	return ledger, cache, pub, pm
}

func TestMonitorAlertsEveryHolderOnce(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	p1 := ledger.addPortfolio(101, decimal.Zero)
	p2 := ledger.addPortfolio(102, decimal.Zero)
	ledger.addHolding(p1.ID, btc.ID, dec("1"))
	ledger.addHolding(p2.ID, btc.ID, dec("0.3"))
	cache.setSnapshot("bitcoin", dec("48000"), 7.3)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}

	events := pub.published()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	holders := map[uint64]bool{}
	for _, e := range events {
		holders[e.UserID] = true
		if e.AssetName != "bitcoin" || e.AssetSymbol != "BTC" {
			t.Errorf("event asset = %s/%s, want bitcoin/BTC", e.AssetName, e.AssetSymbol)
		}
		if e.Direction != "up" {
			t.Errorf("direction = %s, want up", e.Direction)
		}
		if e.ChangePercent != 7.3 {
			t.Errorf("change percent = %v, want 7.3", e.ChangePercent)
		}
	}
	if !holders[101] || !holders[102] {
		t.Errorf("alerted holders = %v, want 101 and 102", holders)
	}
	if !cache.cooldowns["bitcoin"] {
		t.Error("expected cooldown marker set after alerting")
	}
}

func TestMonitorBelowThresholdIsSilent(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))
	cache.setSnapshot("bitcoin", dec("48000"), 4.99)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published %d events below threshold, want 0", len(got))
	}
	if cache.cooldowns["bitcoin"] {
		t.Error("cooldown must not be set when no alert fires")
	}
}

func TestMonitorNegativeChangeTriggersDown(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	eth := ledger.addAsset("ethereum", "ETH")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, eth.ID, dec("5"))
	cache.setSnapshot("ethereum", dec("2200"), -6.847)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].Direction != "down" {
		t.Errorf("direction = %s, want down", events[0].Direction)
	}
	if events[0].ChangePercent != -6.85 {
		t.Errorf("change percent = %v, want rounded -6.85", events[0].ChangePercent)
	}
}

func TestMonitorCooldownSuppressesRepeat(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))
	cache.setSnapshot("bitcoin", dec("48000"), 9.1)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("first runCheck: %v", err)
	}
	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("second runCheck: %v", err)
	}

	if got := pub.published(); len(got) != 1 {
		t.Errorf("published %d events across two scans, want 1", len(got))
	}
}

func TestMonitorSkipsAssetsWithoutMarketData(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	sol := ledger.addAsset("solana", "SOL")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))
	ledger.addHolding(p.ID, sol.ID, dec("100"))
	// Only bitcoin has a snapshot; solana must be skipped, not fail the scan.
	cache.setSnapshot("bitcoin", dec("48000"), 8.0)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	events := pub.published()
	if len(events) != 1 || events[0].AssetName != "bitcoin" {
		t.Errorf("events = %+v, want exactly one bitcoin alert", events)
	}
}

func TestMonitorIgnoresZeroQuantityHoldings(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, decimal.Zero)
	cache.setSnapshot("bitcoin", dec("48000"), 8.0)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	if got := pub.published(); len(got) != 0 {
		t.Errorf("published %d events for zero-quantity holding, want 0", len(got))
	}
}

func TestMonitorPublishFailureStillSetsCooldown(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	pub.err = errors.New("broker unavailable")
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))
	cache.setSnapshot("bitcoin", dec("48000"), 8.0)

	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
	if !cache.cooldowns["bitcoin"] {
		t.Error("cooldown marker must be set once the asset was processed")
	}
}

func TestMonitorLifecycle(t *testing.T) {
	_, _, _, pm := monitorFixture()

	if pm.State() != MonitorStopped {
		t.Fatalf("initial state = %s, want stopped", pm.State())
	}
	if err := pm.TriggerManualCheck(context.Background()); !errors.Is(err, ErrMonitorNotRunning) {
		t.Fatalf("manual check while stopped: err = %v, want ErrMonitorNotRunning", err)
	}
	if err := pm.Stop(); !errors.Is(err, ErrMonitorNotRunning) {
		t.Fatalf("stop while stopped: err = %v, want ErrMonitorNotRunning", err)
	}

	if err := pm.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if pm.State() != MonitorRunning {
		t.Fatalf("state after start = %s, want running", pm.State())
	}
	if err := pm.Start(context.Background()); !errors.Is(err, ErrMonitorAlreadyStarted) {
		t.Fatalf("second start: err = %v, want ErrMonitorAlreadyStarted", err)
	}

	if err := pm.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if pm.State() != MonitorStopped {
		t.Fatalf("state after stop = %s, want stopped", pm.State())
	}

	// Stopped-started-stopped cycles are allowed.
	if err := pm.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := pm.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestMonitorManualCheckRunsScan(t *testing.T) {
	ledger, cache, pub, pm := monitorFixture()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))
	cache.setSnapshot("bitcoin", dec("48000"), 8.0)

	if err := pm.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pm.Stop()

	if err := pm.TriggerManualCheck(context.Background()); err != nil {
		t.Fatalf("manual check: %v", err)
	}
	if got := pub.published(); len(got) != 1 {
		t.Errorf("published %d events, want 1", len(got))
	}

	status := pm.Status()
	if status.State != "running" {
		t.Errorf("status state = %s, want running", status.State)
	}
	if status.LastAssetCount != 1 {
		t.Errorf("last asset count = %d, want 1", status.LastAssetCount)
	}
	if status.LastRun.IsZero() {
		t.Error("last run timestamp not recorded")
	}
}

// blockingCache parks GetSnapshot until released, letting the test hold a
// scan open while probing the single-flight guard.
type blockingCache struct {
	*memCache
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingCache) GetSnapshot(ctx context.Context, assetName string) (*domain.PriceSnapshot, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.memCache.GetSnapshot(ctx, assetName)
}

func TestMonitorSingleFlight(t *testing.T) {
	ledger := newMemLedger()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))

	inner := newMemCache()
	inner.setSnapshot("bitcoin", dec("48000"), 8.0)
	cache := &blockingCache{
		memCache: inner,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	pub := &memPublisher{}
	cfg := DefaultMonitorConfig()
	cfg.InitialDelay = time.Hour
	pm := NewPriceMonitor(ledger, cache, pub, cfg, nil)

	done := make(chan error, 1)
	go func() { done <- pm.runCheck(context.Background()) }()
	<-cache.entered

	// A second scan while one is in flight is rejected, not queued.
	if err := pm.runCheck(context.Background()); !errors.Is(err, ErrCheckInProgress) {
		t.Errorf("overlapping runCheck: err = %v, want ErrCheckInProgress", err)
	}

	close(cache.release)
	if err := <-done; err != nil {
		t.Fatalf("first runCheck: %v", err)
	}

	// Once the first scan finishes another may run.
	if err := pm.runCheck(context.Background()); err != nil {
		t.Fatalf("follow-up runCheck: %v", err)
	}
}

func TestMonitorStopWaitsForLoop(t *testing.T) {
	_, _, _, pm := monitorFixture()
	if err := pm.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		pm.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after loop shutdown")
	}
}

func TestMonitorStopWaitsForManualCheck(t *testing.T) {
	ledger := newMemLedger()
	btc := ledger.addAsset("bitcoin", "BTC")
	p := ledger.addPortfolio(1, decimal.Zero)
	ledger.addHolding(p.ID, btc.ID, dec("1"))

	inner := newMemCache()
	inner.setSnapshot("bitcoin", dec("48000"), 8.0)
	cache := &blockingCache{
		memCache: inner,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	cfg := DefaultMonitorConfig()
	cfg.InitialDelay = time.Hour
	pm := NewPriceMonitor(ledger, cache, &memPublisher{}, cfg, nil)

	if err := pm.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	checkDone := make(chan error, 1)
	go func() { checkDone <- pm.TriggerManualCheck(context.Background()) }()
	<-cache.entered

	stopDone := make(chan struct{})
	go func() {
		pm.Stop()
		close(stopDone)
	}()

	// Stop must not report stopped while the manual check is still scanning.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight manual check finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(cache.release)
	if err := <-checkDone; err != nil {
		t.Fatalf("manual check: %v", err)
	}
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the manual check finished")
	}
	if pm.State() != MonitorStopped {
		t.Fatalf("state after stop = %s, want stopped", pm.State())
	}
}
