package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Kafka topics published and consumed by the portfolio service.
const (
	TopicPriceChangeAlert = "price_change_alert"
	TopicUserRegistered   = "user_registered"
	TopicUserUpdated      = "user_updated"
	TopicUserDeleted      = "user_deleted"
)

// PriceChangeAlertEvent notifies one holder that an asset moved past the
// monitoring threshold. One event is published per holding user.
type PriceChangeAlertEvent struct {
	UserID        uint64          `json:"user_id"`
	AssetName     string          `json:"asset_name"`
	AssetSymbol   string          `json:"asset_symbol"`
	ChangePercent float64         `json:"change_percent"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	// Direction is a display indicator: "up" or "down".
	Direction string `json:"direction"`
}

// UserEvent mirrors the user service lifecycle topics.
type UserEvent struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
}

// EventPublisher fans domain events out to the message broker. Delivery is
// at-most-once from the engine's point of view; durability is the broker's
// concern.
type EventPublisher interface {
	PublishPriceChangeAlert(ctx context.Context, event PriceChangeAlertEvent) error
}
