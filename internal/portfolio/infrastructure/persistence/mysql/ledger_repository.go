// Package mysql persists the portfolio ledger with GORM.
package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/db"
)

// LedgerRepository implements domain.LedgerRepository on MySQL.
type LedgerRepository struct {
	db *db.DB
}

func NewLedgerRepository(database *db.DB) *LedgerRepository {
	return &LedgerRepository{db: database}
}

// InTx runs fn in a REPEATABLE READ transaction. Holding rows are taken with
// SELECT ... FOR UPDATE inside, so concurrent mutations of the same
// (portfolio, asset) pair serialize instead of losing updates.
func (r *LedgerRepository) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	return r.db.WithTxIsolation(ctx, sql.LevelRepeatableRead, func(tx *gorm.DB) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (r *LedgerRepository) CreatePortfolio(ctx context.Context, p *domain.Portfolio) (uint64, error) {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *LedgerRepository) GetPortfolio(ctx context.Context, id uint64) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPortfolioNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *LedgerRepository) GetPortfolioByUserID(ctx context.Context, userID uint64) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPortfolioNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DeletePortfolio removes the portfolio with its holdings and transactions in
// one transaction.
func (r *LedgerRepository) DeletePortfolio(ctx context.Context, id uint64) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		result := tx.Delete(&domain.Portfolio{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrPortfolioNotFound
		}
		if err := tx.Where("portfolio_id = ?", id).Delete(&domain.PortfolioAsset{}).Error; err != nil {
			return err
		}
		return tx.Where("portfolio_id = ?", id).Delete(&domain.Transaction{}).Error
	})
}

func (r *LedgerRepository) UpdateCurrentValue(ctx context.Context, id uint64, value decimal.Decimal) error {
	result := r.db.WithContext(ctx).Model(&domain.Portfolio{}).Where("id = ?", id).
		Update("current_value", value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPortfolioNotFound
	}
	return nil
}

func (r *LedgerRepository) ListHoldings(ctx context.Context, portfolioID uint64) ([]domain.HoldingView, error) {
	var views []domain.HoldingView
	err := r.db.WithContext(ctx).
		Table("portfolio_assets").
		Select("portfolio_assets.id, portfolio_assets.portfolio_id, portfolio_assets.asset_id, assets.name AS asset_name, assets.symbol AS asset_symbol, portfolio_assets.quantity").
		Joins("JOIN assets ON assets.id = portfolio_assets.asset_id").
		Where("portfolio_assets.portfolio_id = ?", portfolioID).
		Order("portfolio_assets.id").
		Scan(&views).Error
	return views, err
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id uint64) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *LedgerRepository) ListTransactions(ctx context.Context, portfolioID uint64) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("transaction_date DESC, id DESC").
		Find(&txs).Error
	return txs, err
}

func (r *LedgerRepository) DistinctHeldAssets(ctx context.Context) ([]domain.Asset, error) {
	var assets []domain.Asset
	err := r.db.WithContext(ctx).
		Table("assets").
		Select("DISTINCT assets.id, assets.name, assets.symbol, assets.asset_type").
		Joins("JOIN portfolio_assets ON portfolio_assets.asset_id = assets.id").
		Where("portfolio_assets.quantity > 0").
		Scan(&assets).Error
	return assets, err
}

func (r *LedgerRepository) UsersHoldingAsset(ctx context.Context, assetName string) ([]uint64, error) {
	var userIDs []uint64
	err := r.db.WithContext(ctx).
		Table("portfolio_assets").
		Select("DISTINCT portfolios.user_id").
		Joins("JOIN portfolios ON portfolios.id = portfolio_assets.portfolio_id").
		Joins("JOIN assets ON assets.id = portfolio_assets.asset_id").
		Where("assets.name = ? AND portfolio_assets.quantity > 0", assetName).
		Scan(&userIDs).Error
	return userIDs, err
}

// ledgerTx implements domain.LedgerTx over an open GORM transaction.
type ledgerTx struct {
	tx *gorm.DB
}

func (t *ledgerTx) GetPortfolio(id uint64) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := t.tx.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPortfolioNotFound
		}
		return nil, err
	}
	return &p, nil
}

// AdjustTotalInvested applies the delta in SQL so concurrent transactions on
// different assets of the same portfolio both land, without locking the
// portfolio row.
func (t *ledgerTx) AdjustTotalInvested(portfolioID uint64, delta decimal.Decimal) error {
	result := t.tx.Model(&domain.Portfolio{}).Where("id = ?", portfolioID).
		Update("total_invested", gorm.Expr("total_invested + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPortfolioNotFound
	}
	return nil
}

func (t *ledgerTx) CreateTransaction(record *domain.Transaction) (uint64, error) {
	if err := t.tx.Create(record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (t *ledgerTx) GetTransaction(id uint64) (*domain.Transaction, error) {
	var record domain.Transaction
	if err := t.tx.First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (t *ledgerTx) DeleteTransaction(id uint64) error {
	result := t.tx.Delete(&domain.Transaction{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (t *ledgerTx) GetHoldingForUpdate(portfolioID, assetID uint64) (*domain.PortfolioAsset, error) {
	var h domain.PortfolioAsset
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("portfolio_id = ? AND asset_id = ?", portfolioID, assetID).
		First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func (t *ledgerTx) CreateHolding(h *domain.PortfolioAsset) error {
	return t.tx.Create(h).Error
}

func (t *ledgerTx) UpdateHoldingQuantity(id uint64, quantity decimal.Decimal) error {
	result := t.tx.Model(&domain.PortfolioAsset{}).Where("id = ?", id).
		Update("quantity", quantity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNoPosition
	}
	return nil
}

func (t *ledgerTx) DeleteHolding(id uint64) error {
	result := t.tx.Delete(&domain.PortfolioAsset{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNoPosition
	}
	return nil
}
