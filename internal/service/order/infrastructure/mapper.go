// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"orderflow/internal/service/order/domain"
)

func toOrderModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:         o.ID,
		Identifier: o.Identifier,
		Owner:      o.Owner,
		Status:     string(o.Status),
		Total:      o.Total,
		Reason:     o.Reason,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, l := range o.Lines {
		m.Lines = append(m.Lines, OrderLineModel{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
			PromotionID:    l.PromotionID,
			PromoDeduction: l.PromoDeduction,
			LineTotal:      l.LineTotal,
		})
	}
	return m
}

func toDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:         m.ID,
		Identifier: m.Identifier,
		Owner:      m.Owner,
		Status:     domain.Status(m.Status),
		Total:      m.Total,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
	for _, l := range m.Lines {
		o.Lines = append(o.Lines, domain.OrderLine{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice,
			PromotionID:    l.PromotionID,
			PromoDeduction: l.PromoDeduction,
			LineTotal:      l.LineTotal,
		})
	}
	return o
}

func toDomainOrders(ms []OrderModel) []*domain.Order {
	out := make([]*domain.Order, 0, len(ms))
	for i := range ms {
		out = append(out, toDomainOrder(&ms[i]))
	}
	return out
}

func toOutboxModel(msg domain.OutboxMessage) *OutboxModel {
	return &OutboxModel{
		Exchange:   msg.Exchange,
		RoutingKey: msg.RoutingKey,
		MessageKey: msg.Key,
		Payload:    msg.Payload,
	}
}
