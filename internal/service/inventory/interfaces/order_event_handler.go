// internal/service/inventory/interfaces/order_event_handler.go
package interfaces

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/inventory/application"
)

// EventPublisher 由 mq.Publisher 实现
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey, key string, value []byte) error
}

// OrderEventHandler 是 inventory-service.order-events 队列的驱动适配器
type OrderEventHandler struct {
	validator *application.Validator
	stock     *application.StockService
	publisher EventPublisher
	now       func() time.Time
}

func NewOrderEventHandler(validator *application.Validator, stock *application.StockService, publisher EventPublisher) *OrderEventHandler {
	return &OrderEventHandler{validator: validator, stock: stock, publisher: publisher, now: time.Now}
}

// Bind 把 order.created 和 order.completed 绑定到消费者
func (h *OrderEventHandler) Bind(c *mq.Consumer) *mq.Consumer {
	return c.
		Bind(contract.RoutingOrderCreated, h.HandleOrderCreated).
		Bind(contract.RoutingOrderCompleted, h.HandleOrderCompleted)
}

// HandleOrderCreated 校验订单并总是回复一条裁决，出错或 panic 时回复错误形态的裁决，
// 保证订单侧不会一直等待。只有裁决发布失败才返回 error（重新入队）。
func (h *OrderEventHandler) HandleOrderCreated(ctx context.Context, msg kafka.Message) error {
	var evt contract.OrderCreated
	_, decodeErr := contract.Unmarshal(msg.Value, &evt)
	if decodeErr == nil && evt.OrderID == "" {
		decodeErr = errors.New("order.created carries no orderId")
	}
	if decodeErr != nil {
		// 消息键就是订单号，仍可回复
		orderID := string(msg.Key)
		if orderID == "" {
			return mq.Permanent(apperr.Validation("decode order.created: %v", decodeErr))
		}
		logger.Ctx(ctx).Error().Err(decodeErr).Str("order", orderID).Msg("undecodable order.created, replying with error verdict")
		return h.reply(ctx, contract.ErrorVerdict(orderID, decodeErr))
	}

	verdict, err := h.validate(ctx, evt)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", evt.OrderID).Msg("inventory validation failed, replying with error verdict")
		verdict = contract.ErrorVerdict(evt.OrderID, err)
	}
	return h.reply(ctx, verdict)
}

func (h *OrderEventHandler) validate(ctx context.Context, evt contract.OrderCreated) (verdict contract.ValidationVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic during validation: %v", r)
		}
	}()
	return h.validator.Validate(ctx, evt)
}

func (h *OrderEventHandler) reply(ctx context.Context, verdict contract.ValidationVerdict) error {
	switch {
	case verdict.IsError():
		metrics.Verdicts.WithLabelValues("error").Inc()
	case verdict.IsStockValid:
		metrics.Verdicts.WithLabelValues("valid").Inc()
	default:
		metrics.Verdicts.WithLabelValues("invalid").Inc()
	}

	payload, err := contract.Marshal(contract.RoutingValidationResponse, verdict, h.now())
	if err != nil {
		return mq.Permanent(errors.Wrap(err, "encode validation response"))
	}
	if err := h.publisher.Publish(ctx, contract.ExchangeStockEvents, contract.RoutingValidationResponse, verdict.OrderID, payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", verdict.OrderID).Msg("failed to publish validation response")
		return err
	}
	logger.Ctx(ctx).Info().
		Str("order", verdict.OrderID).
		Bool("stock_valid", verdict.IsStockValid).
		Bool("has_promo", verdict.HasPromoItems).
		Msg("validation response published")
	return nil
}

// HandleOrderCompleted 扣减已完成订单的库存，不受关联表的过期窗口限制
func (h *OrderEventHandler) HandleOrderCompleted(ctx context.Context, msg kafka.Message) error {
	var evt contract.OrderStatusChanged
	if _, err := contract.Unmarshal(msg.Value, &evt); err != nil {
		return mq.Permanent(apperr.Validation("decode order.completed: %v", err))
	}
	if evt.OrderID == "" {
		return mq.Permanent(apperr.Validation("order.completed carries no orderId"))
	}
	return h.stock.Deduct(ctx, evt.OrderID, evt.Lines)
}
