package domain

import "github.com/shopspring/decimal"

// 消费的 Kafka topic
const (
	TopicPriceChangeAlert = "price_change_alert"
	TopicEmailRequest     = "email_request"
	TopicUserRegistered   = "user_registered"
	TopicUserUpdated      = "user_updated"
	TopicUserDeleted      = "user_deleted"
)

// PriceChangeAlertEvent 价格异动告警事件，与组合服务发布的结构一致
type PriceChangeAlertEvent struct {
	UserID        uint64          `json:"user_id"`
	AssetName     string          `json:"asset_name"`
	AssetSymbol   string          `json:"asset_symbol"`
	ChangePercent float64         `json:"change_percent"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Direction     string          `json:"direction"`
}

// EmailRequestEvent 其他服务请求发送的定向邮件
type EmailRequestEvent struct {
	UserID  uint64 `json:"user_id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// UserEvent 用户生命周期事件
type UserEvent struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
}
