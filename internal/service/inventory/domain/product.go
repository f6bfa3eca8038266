// internal/service/inventory/domain/product.go
package domain

import "context"

// Product 是库存服务拥有的商品
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Stock  int    `json:"stock"`
	Active bool   `json:"active"`
}

// Promotion 是促销活动，MaxQuantity 是单个用户每天可购买的上限
type Promotion struct {
	ID          string `json:"id"`
	MaxQuantity int    `json:"maxQuantity"`
	Active      bool   `json:"active"`
}

// Ceiling 返回促销的每日上限。未启用（或不存在，p 为 nil）的促销上限为 0。
func (p *Promotion) Ceiling() int {
	if p == nil || !p.Active {
		return 0
	}
	return p.MaxQuantity
}

// Deduction 是一次扣减中的一行
type Deduction struct {
	ProductID string
	Quantity  int
}

// Catalog 查询商品和促销，找不到时返回 apperr.NotFound
type Catalog interface {
	FindProduct(ctx context.Context, id string) (*Product, error)
	FindPromotion(ctx context.Context, id string) (*Promotion, error)
}

// StockLedger 记录已完成订单的库存扣减
type StockLedger interface {
	// DeductForOrder 按订单号幂等：同一订单第二次调用返回 applied=false 且不改库存。
	// 库存扣到 0 为止，不会变成负数。
	DeductForOrder(ctx context.Context, orderID string, lines []Deduction) (applied bool, err error)
}

// ProductCache 是商品读缓存的失效入口
type ProductCache interface {
	InvalidateProducts(ctx context.Context, ids ...string) error
}
