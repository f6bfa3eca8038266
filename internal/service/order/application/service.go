// internal/service/order/application/service.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/domain"
)

// OrderService 是订单的同步用例：创建、查询、人工改状态、模拟支付。
// 异步校验由 saga 包负责，这里只通过 outbox 发出 order.created。
type OrderService struct {
	orders domain.OrderRepository
	tracer trace.Tracer
	now    func() time.Time
}

func NewOrderService(orders domain.OrderRepository) *OrderService {
	return &OrderService{orders: orders, tracer: otel.Tracer("orderflow/order"), now: time.Now}
}

// CreateOrder 校验并持久化订单，order.created 与订单在同一事务写入 outbox
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder", trace.WithAttributes(
		attribute.String("order.owner", req.Owner),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	order, err := domain.NewOrder(req.Owner, req.lineInputs(), req.Total, s.now())
	if err != nil {
		span.SetStatus(codes.Error, "invalid order")
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist order")
		logger.Ctx(ctx).Error().Err(err).Str("owner", order.Owner).Msg("failed to create order")
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.Identifier))
	logger.Ctx(ctx).Info().
		Str("order", order.Identifier).
		Str("owner", order.Owner).
		Str("total", order.Total.String()).
		Msg("order created, awaiting inventory validation")
	resp := ToOrderResponse(order)
	return &resp, nil
}

func (s *OrderService) GetOrder(ctx context.Context, identifier string) (*OrderResponse, error) {
	order, err := s.orders.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(order)
	return &resp, nil
}

// ListByOwner 按创建时间倒序
func (s *OrderService) ListByOwner(ctx context.Context, owner string) ([]OrderResponse, error) {
	orders, err := s.orders.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return toOrderResponses(orders), nil
}

// ListOrders status 为空表示不过滤
func (s *OrderService) ListOrders(ctx context.Context, status, ownerSubstring string, page domain.Page) (*OrderPage, error) {
	filter := domain.ListFilter{OwnerSubstring: ownerSubstring}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &st
	}
	page = page.Normalize()
	orders, total, err := s.orders.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: toOrderResponses(orders), Total: total, Page: page.Number, Size: page.Size}, nil
}

// UpdateStatus 人工修改状态。只允许状态机中的边；目标与当前状态相同时不做任何事。
func (s *OrderService) UpdateStatus(ctx context.Context, identifier, status string) (*OrderResponse, error) {
	to, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if order.Status == to {
		resp := ToOrderResponse(order)
		return &resp, nil
	}
	if order.Status.IsTerminal() {
		return nil, apperr.Conflict("order %s is already %s", identifier, order.Status)
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, apperr.Conflict("order %s cannot move from %s to %s", identifier, order.Status, to)
	}

	updated, err := s.orders.CompareAndTransition(ctx, identifier, []domain.Status{order.Status}, domain.StatusChange{
		To:     to,
		Reason: "status changed manually",
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", identifier).Str("from", order.Status.String()).Str("to", to.String()).Msg("order status changed manually")
	resp := ToOrderResponse(updated)
	return &resp, nil
}

// SubmitPayment 模拟支付，扣款总是成功，ready_for_payment -> completed
func (s *OrderService) SubmitPayment(ctx context.Context, identifier string) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.SubmitPayment", trace.WithAttributes(attribute.String("order.id", identifier)))
	defer span.End()

	updated, err := s.orders.CompareAndTransition(ctx, identifier,
		[]domain.Status{domain.StatusReadyForPayment},
		domain.StatusChange{To: domain.StatusCompleted},
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", identifier).Str("total", updated.Total.String()).Msg("payment captured")
	resp := ToOrderResponse(updated)
	return &resp, nil
}
