// Package domain holds the portfolio service aggregates: portfolios, holdings,
// transactions and the asset reference data they point at.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the signed direction of a ledger transaction.
type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "buy"
	TransactionTypeSell TransactionType = "sell"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeBuy || t == TransactionTypeSell
}

// AssetType classifies reference assets.
type AssetType string

const (
	AssetTypeCrypto AssetType = "crypto"
	AssetTypeStock  AssetType = "stock"
	AssetTypeFiat   AssetType = "fiat"
)

// Portfolio aggregates one user's holdings. TotalInvested is the cumulative
// cost basis adjusted by every transaction; CurrentValue is derived from the
// market price cache on demand.
type Portfolio struct {
	ID            uint64          `gorm:"column:id;primaryKey" json:"id"`
	UserID        uint64          `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	TotalInvested decimal.Decimal `gorm:"column:total_invested;type:decimal(20,8);not null;default:0" json:"total_invested"`
	CurrentValue  decimal.Decimal `gorm:"column:current_value;type:decimal(20,8);not null;default:0" json:"current_value"`
}

// PortfolioAsset is a holding: one (portfolio, asset) pair with a quantity.
// Quantity is always positive; a fully sold holding is deleted, not kept at
// zero.
type PortfolioAsset struct {
	ID          uint64          `gorm:"column:id;primaryKey" json:"id"`
	PortfolioID uint64          `gorm:"column:portfolio_id;uniqueIndex:idx_portfolio_asset;not null" json:"portfolio_id"`
	AssetID     uint64          `gorm:"column:asset_id;uniqueIndex:idx_portfolio_asset;not null" json:"asset_id"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
}

// Transaction is the immutable record of one buy or sell. TotalPrice is
// computed as price*quantity at write time and never recomputed.
type Transaction struct {
	ID              uint64          `gorm:"column:id;primaryKey" json:"id"`
	PortfolioID     uint64          `gorm:"column:portfolio_id;index;not null" json:"portfolio_id"`
	AssetID         uint64          `gorm:"column:asset_id;index;not null" json:"asset_id"`
	Type            TransactionType `gorm:"column:transaction_type;type:varchar(8);not null" json:"transaction_type"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	TotalPrice      decimal.Decimal `gorm:"column:total_price;type:decimal(20,8);not null" json:"total_price"`
	TransactionDate time.Time       `gorm:"column:transaction_date;not null" json:"transaction_date"`
}

// Asset is reference data. Name is the market data cache lookup key
// (e.g. "bitcoin"); Symbol is the display ticker (e.g. "BTC").
type Asset struct {
	ID        uint64    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(64);uniqueIndex;not null" json:"name"`
	Symbol    string    `gorm:"column:symbol;type:varchar(16);not null" json:"symbol"`
	AssetType AssetType `gorm:"column:asset_type;type:varchar(8);not null" json:"asset_type"`
}

// User is a local projection of the user service, maintained by the
// user-event consumer. IDs are assigned upstream, never generated here.
type User struct {
	ID    uint64 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Email string `gorm:"column:email;type:varchar(255);not null" json:"email"`
}

// HoldingView is a holding joined with its asset reference data, as served to
// valuation and the HTTP layer.
type HoldingView struct {
	ID          uint64          `json:"id"`
	PortfolioID uint64          `json:"portfolio_id"`
	AssetID     uint64          `json:"asset_id"`
	AssetName   string          `json:"asset_name"`
	AssetSymbol string          `json:"asset_symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func (Portfolio) TableName() string      { return "portfolios" }
func (PortfolioAsset) TableName() string { return "portfolio_assets" }
func (Transaction) TableName() string    { return "transactions" }
func (Asset) TableName() string          { return "assets" }
func (User) TableName() string           { return "users" }

// NewTransaction builds a transaction record with its derived total.
func NewTransaction(portfolioID, assetID uint64, txType TransactionType, quantity, price decimal.Decimal, date time.Time) *Transaction {
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return &Transaction{
		PortfolioID:     portfolioID,
		AssetID:         assetID,
		Type:            txType,
		Quantity:        quantity,
		Price:           price,
		TotalPrice:      price.Mul(quantity),
		TransactionDate: date,
	}
}
