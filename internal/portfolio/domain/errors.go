package domain

import "errors"

var (
	// ErrPortfolioNotFound is returned when the referenced portfolio does not exist.
	ErrPortfolioNotFound = errors.New("portfolio not found")
	// ErrTransactionNotFound is returned when the referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrAssetNotFound is returned when the referenced asset does not exist.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrOverdraft rejects a sell exceeding the held quantity. The whole
	// operation rolls back: no transaction row, no holding mutation.
	ErrOverdraft = errors.New("sell quantity exceeds holding")
	// ErrNoPosition rejects a sell of an asset never bought, or a
	// transaction reversal whose holding is already gone.
	ErrNoPosition = errors.New("no position in asset")
	// ErrPriceUnavailable aborts a valuation when a holding has no usable
	// cache entry.
	ErrPriceUnavailable = errors.New("market price unavailable")

	// ErrInvalidQuantity rejects non-positive transaction quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidPrice rejects non-positive transaction prices.
	ErrInvalidPrice = errors.New("price must be positive")
	// ErrInvalidTransactionType rejects unknown transaction types.
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrPortfolioExists enforces the one-portfolio-per-user invariant.
	ErrPortfolioExists = errors.New("user already has a portfolio")
	// ErrNotPortfolioOwner rejects access to a portfolio the caller does not own.
	ErrNotPortfolioOwner = errors.New("user does not own portfolio")
)
