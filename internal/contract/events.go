// internal/contract/events.go
package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine 是事件中携带的订单行
type OrderLine struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	PromotionID string          `json:"promotionId,omitempty"`
}

// OrderCreated 由订单服务发布（order.created），库存服务消费后做校验
type OrderCreated struct {
	OrderID   string          `json:"orderId"`
	Owner     string          `json:"owner"`
	Total     decimal.Decimal `json:"total"`
	Lines     []OrderLine     `json:"lines"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PromoViolation 描述一个超出促销限额的订单行
type PromoViolation struct {
	ProductID   string `json:"productId"`
	PromotionID string `json:"promotionId"`
	Requested   int    `json:"requested"`
	Ceiling     int    `json:"ceiling"`
	UsedToday   int    `json:"usedToday"`
}

// OrderStatusChanged 是所有状态变更通知的载荷（order.updated / completed / cancelled / ready_for_payment）
type OrderStatusChanged struct {
	OrderID        string           `json:"orderId"`
	Owner          string           `json:"owner"`
	Status         string           `json:"status"`
	PreviousStatus string           `json:"previousStatus"`
	Reason         string           `json:"reason,omitempty"`
	Lines          []OrderLine      `json:"lines,omitempty"`
	Details        []LineVerdict    `json:"details,omitempty"`
	Violations     []PromoViolation `json:"violations,omitempty"`
	ChangedAt      time.Time        `json:"changedAt"`
}
