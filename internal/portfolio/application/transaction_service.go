// Package application implements the portfolio use cases: the transactional
// mutation engine, valuation and the price monitoring scheduler.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/portfolio/domain"
	"github.com/avkuzmin/cryptofolio/pkg/logger"
	"github.com/avkuzmin/cryptofolio/pkg/metrics"
)

// ApplyTransactionCommand describes one buy or sell to apply to a portfolio.
// PortfolioID comes from the caller's ownership check, never from client
// payload nesting.
type ApplyTransactionCommand struct {
	PortfolioID uint64
	AssetID     uint64
	Type        domain.TransactionType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Date        time.Time
}

// TransactionService applies and reverses ledger transactions. Each operation
// is one atomic unit: the transaction row, the holding row and the
// portfolio's invested total commit or roll back together.
type TransactionService struct {
	ledger  domain.LedgerRepository
	metrics *metrics.Metrics
}

// NewTransactionService wires the engine. metrics may be nil in tests.
func NewTransactionService(ledger domain.LedgerRepository, m *metrics.Metrics) *TransactionService {
	return &TransactionService{ledger: ledger, metrics: m}
}

// Apply validates and applies one transaction, returning its durable id.
func (s *TransactionService) Apply(ctx context.Context, cmd ApplyTransactionCommand) (uint64, error) {
	if !cmd.Type.Valid() {
		return 0, domain.ErrInvalidTransactionType
	}
	if !cmd.Quantity.IsPositive() {
		return 0, domain.ErrInvalidQuantity
	}
	if !cmd.Price.IsPositive() {
		return 0, domain.ErrInvalidPrice
	}

	var txID uint64
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.GetPortfolio(cmd.PortfolioID); err != nil {
			return err
		}

		// Insert first so the transaction has a durable id; a later
		// rejection rolls the row back with everything else.
		record := domain.NewTransaction(cmd.PortfolioID, cmd.AssetID, cmd.Type, cmd.Quantity, cmd.Price, cmd.Date)
		id, err := tx.CreateTransaction(record)
		if err != nil {
			return err
		}

		holding, err := tx.GetHoldingForUpdate(cmd.PortfolioID, cmd.AssetID)
		if err != nil {
			return err
		}

		// The invested total moves by a relative delta so that concurrent
		// transactions on other assets of the same portfolio, which hold
		// disjoint holding locks, cannot overwrite each other's change.
		cost := cmd.Price.Mul(cmd.Quantity)
		delta := cost

		switch {
		case cmd.Type == domain.TransactionTypeBuy && holding != nil:
			if err := tx.UpdateHoldingQuantity(holding.ID, holding.Quantity.Add(cmd.Quantity)); err != nil {
				return err
			}

		case cmd.Type == domain.TransactionTypeBuy:
			if err := tx.CreateHolding(&domain.PortfolioAsset{
				PortfolioID: cmd.PortfolioID,
				AssetID:     cmd.AssetID,
				Quantity:    cmd.Quantity,
			}); err != nil {
				return err
			}

		case holding == nil:
			return domain.ErrNoPosition

		case cmd.Quantity.GreaterThan(holding.Quantity):
			return fmt.Errorf("%w: have %s, sell %s", domain.ErrOverdraft,
				holding.Quantity.String(), cmd.Quantity.String())

		case cmd.Quantity.Equal(holding.Quantity):
			// Zero-quantity holdings are deleted, never retained.
			if err := tx.DeleteHolding(holding.ID); err != nil {
				return err
			}
			delta = cost.Neg()

		default:
			if err := tx.UpdateHoldingQuantity(holding.ID, holding.Quantity.Sub(cmd.Quantity)); err != nil {
				return err
			}
			delta = cost.Neg()
		}

		if err := tx.AdjustTotalInvested(cmd.PortfolioID, delta); err != nil {
			return err
		}

		txID = id
		return nil
	})
	if err != nil {
		s.count(string(cmd.Type), "rejected")
		return 0, err
	}

	s.count(string(cmd.Type), "applied")
	logger.Info(ctx, "transaction applied",
		"transaction_id", txID,
		"portfolio_id", cmd.PortfolioID,
		"asset_id", cmd.AssetID,
		"type", cmd.Type,
	)
	return txID, nil
}

// Delete reverses a transaction's effect and removes its record.
//
// The quantity delta is always subtracted from the current holding, matching
// the reference compensating behavior: this is only a correct undo when
// transactions are deleted in reverse-chronological order. The invested total
// is reversed with the sign convention used at creation.
func (s *TransactionService) Delete(ctx context.Context, transactionID uint64) error {
	err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		record, err := tx.GetTransaction(transactionID)
		if err != nil {
			return err
		}

		holding, err := tx.GetHoldingForUpdate(record.PortfolioID, record.AssetID)
		if err != nil {
			return err
		}
		if holding == nil {
			return fmt.Errorf("%w: holding already closed", domain.ErrNoPosition)
		}

		newQuantity := holding.Quantity.Sub(record.Quantity)
		switch {
		case newQuantity.IsNegative():
			return fmt.Errorf("%w: reversal of %s exceeds current holding %s", domain.ErrOverdraft,
				record.Quantity.String(), holding.Quantity.String())
		case newQuantity.IsZero():
			if err := tx.DeleteHolding(holding.ID); err != nil {
				return err
			}
		default:
			if err := tx.UpdateHoldingQuantity(holding.ID, newQuantity); err != nil {
				return err
			}
		}

		delta := record.TotalPrice
		if record.Type == domain.TransactionTypeBuy {
			delta = delta.Neg()
		}
		if err := tx.AdjustTotalInvested(record.PortfolioID, delta); err != nil {
			return err
		}

		return tx.DeleteTransaction(transactionID)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "transaction deleted", "transaction_id", transactionID)
	return nil
}

// Get returns one transaction record.
func (s *TransactionService) Get(ctx context.Context, transactionID uint64) (*domain.Transaction, error) {
	return s.ledger.GetTransaction(ctx, transactionID)
}

// List returns all transactions of a portfolio.
func (s *TransactionService) List(ctx context.Context, portfolioID uint64) ([]domain.Transaction, error) {
	return s.ledger.ListTransactions(ctx, portfolioID)
}

func (s *TransactionService) count(txType, result string) {
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(txType, result).Inc()
	}
}
