// internal/service/order/application/dto.go
package application

import (
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/service/order/domain"
)

// CreateOrderItem 是创建订单请求中的一行
type CreateOrderItem struct {
	ProductID      string           `json:"productId"`
	Quantity       int              `json:"quantity"`
	UnitPrice      decimal.Decimal  `json:"unitPrice"`
	PromotionID    string           `json:"promotionId,omitempty"`
	PromoDeduction *decimal.Decimal `json:"promoDeduction,omitempty"`
}

// CreateOrderRequest 是创建订单用例的输入数据。Total 可选，给出时必须与各行小计之和一致。
type CreateOrderRequest struct {
	Owner string            `json:"owner"`
	Total *decimal.Decimal  `json:"total,omitempty"`
	Items []CreateOrderItem `json:"items"`
}

func (r *CreateOrderRequest) lineInputs() []domain.LineInput {
	out := make([]domain.LineInput, 0, len(r.Items))
	for _, it := range r.Items {
		in := domain.LineInput{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			PromotionID: it.PromotionID,
		}
		if it.PromoDeduction != nil {
			in.PromoDeduction = *it.PromoDeduction
		}
		out = append(out, in)
	}
	return out
}

// OrderLineResponse 订单行
type OrderLineResponse struct {
	ProductID      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	PromotionID    string          `json:"promotionId,omitempty"`
	PromoDeduction decimal.Decimal `json:"promoDeduction"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
}

// OrderResponse 是对外暴露的订单视图，不包含存储主键
type OrderResponse struct {
	ID        string              `json:"id"`
	Owner     string              `json:"owner"`
	Status    string              `json:"status"`
	Total     decimal.Decimal     `json:"total"`
	Reason    string              `json:"reason,omitempty"`
	Items     []OrderLineResponse `json:"items"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// OrderPage 分页结果
type OrderPage struct {
	Orders []OrderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

// ToOrderResponse 从领域对象转换为输出 DTO
func ToOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:        o.Identifier,
		Owner:     o.Owner,
		Status:    o.Status.String(),
		Total:     o.Total,
		Reason:    o.Reason,
		Items:     make([]OrderLineResponse, 0, len(o.Lines)),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	for _, l := range o.Lines {
		resp.Items = append(resp.Items, OrderLineResponse{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
			PromotionID:    l.PromotionID,
			PromoDeduction: l.PromoDeduction,
			LineTotal:      l.LineTotal,
		})
	}
	return resp
}

func toOrderResponses(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, ToOrderResponse(o))
	}
	return out
}
