// internal/service/inventory/infrastructure/models.go
package infrastructure

import "time"

// ProductModel 是 Product 在数据库中的表示
type ProductModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	Stock     int    `gorm:"not null;default:0"`
	Active    bool   `gorm:"not null"`
	UpdatedAt time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

type PromotionModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	MaxQuantity int    `gorm:"not null;default:0"`
	Active      bool   `gorm:"not null"`
	UpdatedAt   time.Time
}

func (PromotionModel) TableName() string {
	return "promotions"
}

// StockDeductionModel 记录已扣减过库存的订单，order_id 唯一保证幂等
type StockDeductionModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID   string `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time
}

func (StockDeductionModel) TableName() string {
	return "stock_deductions"
}

// Models 返回需要迁移的全部模型
func Models() []any {
	return []any{&ProductModel{}, &PromotionModel{}, &StockDeductionModel{}}
}
