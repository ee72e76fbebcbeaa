package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
)

// memLedger is an in-memory LedgerRepository. InTx snapshots all state and
// restores it when fn fails, mimicking a database rollback.
type memLedger struct {
	mu           sync.Mutex
	portfolios   map[uint64]*domain.Portfolio
	holdings     map[uint64]*domain.PortfolioAsset
	transactions map[uint64]*domain.Transaction
	assets       map[uint64]*domain.Asset
	nextID       uint64
}

func newMemLedger() *memLedger {
	return &memLedger{
		portfolios:   make(map[uint64]*domain.Portfolio),
		holdings:     make(map[uint64]*domain.PortfolioAsset),
		transactions: make(map[uint64]*domain.Transaction),
		assets:       make(map[uint64]*domain.Asset),
		nextID:       1,
	}
}

func (m *memLedger) id() uint64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memLedger) addPortfolio(userID uint64, invested decimal.Decimal) *domain.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &domain.Portfolio{ID: m.id(), UserID: userID, TotalInvested: invested, CurrentValue: decimal.Zero}
	m.portfolios[p.ID] = p
	return p
}

func (m *memLedger) addAsset(name, symbol string) *domain.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &domain.Asset{ID: m.id(), Name: name, Symbol: symbol, AssetType: domain.AssetTypeCrypto}
	m.assets[a.ID] = a
	return a
}

func (m *memLedger) addHolding(portfolioID, assetID uint64, qty decimal.Decimal) *domain.PortfolioAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &domain.PortfolioAsset{ID: m.id(), PortfolioID: portfolioID, AssetID: assetID, Quantity: qty}
	m.holdings[h.ID] = h
	return h
}

func (m *memLedger) holdingFor(portfolioID, assetID uint64) *domain.PortfolioAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holdings {
		if h.PortfolioID == portfolioID && h.AssetID == assetID {
			copied := *h
			return &copied
		}
	}
	return nil
}

func (m *memLedger) snapshot() (map[uint64]*domain.Portfolio, map[uint64]*domain.PortfolioAsset, map[uint64]*domain.Transaction, uint64) {
	portfolios := make(map[uint64]*domain.Portfolio, len(m.portfolios))
	for k, v := range m.portfolios {
		copied := *v
		portfolios[k] = &copied
	}
	holdings := make(map[uint64]*domain.PortfolioAsset, len(m.holdings))
	for k, v := range m.holdings {
		copied := *v
		holdings[k] = &copied
	}
	transactions := make(map[uint64]*domain.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		copied := *v
		transactions[k] = &copied
	}
	return portfolios, holdings, transactions, m.nextID
}

func (m *memLedger) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	portfolios, holdings, transactions, nextID := m.snapshot()
	if err := fn((*memLedgerTx)(m)); err != nil {
		m.portfolios, m.holdings, m.transactions, m.nextID = portfolios, holdings, transactions, nextID
		return err
	}
	return nil
}

// memLedgerTx exposes the transactional view; the ledger mutex is already
// held by InTx.
type memLedgerTx memLedger

func (t *memLedgerTx) GetPortfolio(id uint64) (*domain.Portfolio, error) {
	p, ok := t.portfolios[id]
	if !ok {
		return nil, domain.ErrPortfolioNotFound
	}
	copied := *p
	return &copied, nil
}

// AdjustTotalInvested applies the delta against the live stored total, like
// the SQL relative update, so state mutated after the caller's snapshot read
// is never overwritten.
func (t *memLedgerTx) AdjustTotalInvested(portfolioID uint64, delta decimal.Decimal) error {
	p, ok := t.portfolios[portfolioID]
	if !ok {
		return domain.ErrPortfolioNotFound
	}
	p.TotalInvested = p.TotalInvested.Add(delta)
	return nil
}

func (t *memLedgerTx) CreateTransaction(tr *domain.Transaction) (uint64, error) {
	tr.ID = (*memLedger)(t).id()
	copied := *tr
	t.transactions[tr.ID] = &copied
	return tr.ID, nil
}

func (t *memLedgerTx) GetTransaction(id uint64) (*domain.Transaction, error) {
	tr, ok := t.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *tr
	return &copied, nil
}

func (t *memLedgerTx) DeleteTransaction(id uint64) error {
	if _, ok := t.transactions[id]; !ok {
		return domain.ErrTransactionNotFound
	}
	delete(t.transactions, id)
	return nil
}

func (t *memLedgerTx) GetHoldingForUpdate(portfolioID, assetID uint64) (*domain.PortfolioAsset, error) {
	for _, h := range t.holdings {
		if h.PortfolioID == portfolioID && h.AssetID == assetID {
			copied := *h
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *memLedgerTx) CreateHolding(h *domain.PortfolioAsset) error {
	for _, existing := range t.holdings {
		if existing.PortfolioID == h.PortfolioID && existing.AssetID == h.AssetID {
			return fmt.Errorf("duplicate holding for portfolio %d asset %d", h.PortfolioID, h.AssetID)
		}
	}
	h.ID = (*memLedger)(t).id()
	copied := *h
	t.holdings[h.ID] = &copied
	return nil
}

func (t *memLedgerTx) UpdateHoldingQuantity(id uint64, quantity decimal.Decimal) error {
	h, ok := t.holdings[id]
	if !ok {
		return domain.ErrNoPosition
	}
	h.Quantity = quantity
	return nil
}

func (t *memLedgerTx) DeleteHolding(id uint64) error {
	if _, ok := t.holdings[id]; !ok {
		return domain.ErrNoPosition
	}
	delete(t.holdings, id)
	return nil
}

func (m *memLedger) CreatePortfolio(ctx context.Context, p *domain.Portfolio) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	copied := *p
	m.portfolios[p.ID] = &copied
	return p.ID, nil
}

func (m *memLedger) GetPortfolio(ctx context.Context, id uint64) (*domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memLedgerTx)(m).GetPortfolio(id)
}

func (m *memLedger) GetPortfolioByUserID(ctx context.Context, userID uint64) (*domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.portfolios {
		if p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, domain.ErrPortfolioNotFound
}

func (m *memLedger) DeletePortfolio(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.portfolios[id]; !ok {
		return domain.ErrPortfolioNotFound
	}
	delete(m.portfolios, id)
	for hid, h := range m.holdings {
		if h.PortfolioID == id {
			delete(m.holdings, hid)
		}
	}
	for tid, tr := range m.transactions {
		if tr.PortfolioID == id {
			delete(m.transactions, tid)
		}
	}
	return nil
}

func (m *memLedger) UpdateCurrentValue(ctx context.Context, id uint64, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portfolios[id]
	if !ok {
		return domain.ErrPortfolioNotFound
	}
	p.CurrentValue = value
	return nil
}

func (m *memLedger) ListHoldings(ctx context.Context, portfolioID uint64) ([]domain.HoldingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HoldingView
	for _, h := range m.holdings {
		if h.PortfolioID != portfolioID {
			continue
		}
		asset := m.assets[h.AssetID]
		if asset == nil {
			return nil, domain.ErrAssetNotFound
		}
		out = append(out, domain.HoldingView{
			ID:          h.ID,
			PortfolioID: h.PortfolioID,
			AssetID:     h.AssetID,
			AssetName:   asset.Name,
			AssetSymbol: asset.Symbol,
			Quantity:    h.Quantity,
		})
	}
	return out, nil
}

func (m *memLedger) GetTransaction(ctx context.Context, id uint64) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*memLedgerTx)(m).GetTransaction(id)
}

func (m *memLedger) ListTransactions(ctx context.Context, portfolioID uint64) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, tr := range m.transactions {
		if tr.PortfolioID == portfolioID {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (m *memLedger) DistinctHeldAssets(ctx context.Context) ([]domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uint64]bool)
	var out []domain.Asset
	for _, h := range m.holdings {
		if !h.Quantity.IsPositive() || seen[h.AssetID] {
			continue
		}
		seen[h.AssetID] = true
		if asset := m.assets[h.AssetID]; asset != nil {
			out = append(out, *asset)
		}
	}
	return out, nil
}

func (m *memLedger) UsersHoldingAsset(ctx context.Context, assetName string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var assetID uint64
	for _, a := range m.assets {
		if a.Name == assetName {
			assetID = a.ID
		}
	}
	seen := make(map[uint64]bool)
	var out []uint64
	for _, h := range m.holdings {
		if h.AssetID != assetID || !h.Quantity.IsPositive() {
			continue
		}
		p := m.portfolios[h.PortfolioID]
		if p != nil && !seen[p.UserID] {
			seen[p.UserID] = true
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

// memCache is an in-memory MarketDataCache.
type memCache struct {
	mu        sync.Mutex
	snapshots map[string]domain.PriceSnapshot
	cooldowns map[string]bool
}

func newMemCache() *memCache {
	return &memCache{
		snapshots: make(map[string]domain.PriceSnapshot),
		cooldowns: make(map[string]bool),
	}
}

func (c *memCache) setSnapshot(name string, price decimal.Decimal, change float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[name] = domain.PriceSnapshot{
		CurrentPrice: price,
		Change24h:    change,
		LastUpdated:  time.Now().UTC().Format(time.RFC3339),
	}
}

func (c *memCache) GetSnapshot(ctx context.Context, assetName string) (*domain.PriceSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[assetName]
	if !ok {
		return nil, nil
	}
	copied := s
	return &copied, nil
}

func (c *memCache) HasCooldown(ctx context.Context, assetName string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldowns[assetName], nil
}

func (c *memCache) SetCooldown(ctx context.Context, assetName string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldowns[assetName] {
		return false, nil
	}
	c.cooldowns[assetName] = true
	return true, nil
}

// memPublisher records published alert events.
type memPublisher struct {
	mu     sync.Mutex
	events []domain.PriceChangeAlertEvent
	err    error
}

func (p *memPublisher) PublishPriceChangeAlert(ctx context.Context, event domain.PriceChangeAlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *memPublisher) published() []domain.PriceChangeAlertEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PriceChangeAlertEvent, len(p.events))
	copy(out, p.events)
	return out
}

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu    sync.Mutex
	users map[uint64]domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[uint64]domain.User)}
}

func (m *memUsers) Upsert(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *memUsers) Get(ctx context.Context, id uint64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *memUsers) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}
