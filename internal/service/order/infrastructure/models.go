// internal/service/order/infrastructure/models.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 是订单头在数据库中的表示
type OrderModel struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Identifier string          `gorm:"size:64;not null;uniqueIndex"`
	Owner      string          `gorm:"size:128;not null;index:idx_orders_owner_created,priority:1"`
	Status     string          `gorm:"size:32;not null;index"`
	Total      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Reason     string          `gorm:"type:text"`
	CreatedAt  time.Time       `gorm:"index:idx_orders_owner_created,priority:2"`
	UpdatedAt  time.Time

	Lines []OrderLineModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderLineModel 订单行
type OrderLineModel struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	OrderID        uint64          `gorm:"not null;index"`
	ProductID      string          `gorm:"size:64;not null"`
	Quantity       int             `gorm:"not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PromotionID    string          `gorm:"size:64;index"`
	PromoDeduction decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (OrderLineModel) TableName() string {
	return "order_lines"
}

// OutboxModel 是待投递的事件。PublishedAt 为空表示尚未投递。
type OutboxModel struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement"`
	Exchange    string     `gorm:"size:128;not null"`
	RoutingKey  string     `gorm:"size:128;not null"`
	MessageKey  string     `gorm:"size:64;not null"`
	Payload     []byte     `gorm:"not null"`
	Attempts    int        `gorm:"not null;default:0"`
	LastError   string     `gorm:"type:text"`
	PublishedAt *time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (OutboxModel) TableName() string {
	return "order_outbox"
}

// Models 返回需要迁移的全部模型
func Models() []any {
	return []any{&OrderModel{}, &OrderLineModel{}, &OutboxModel{}}
}
