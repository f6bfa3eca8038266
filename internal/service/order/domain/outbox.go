// internal/service/order/domain/outbox.go
package domain

import (
	"time"

	"orderflow/internal/contract"
)

// OutboxMessage 是与订单变更同事务落库、之后由分发器投递的一条消息
type OutboxMessage struct {
	Exchange   string
	RoutingKey string
	Key        string
	Payload    []byte
}

// StatusChange 描述一次状态迁移及其附带信息
type StatusChange struct {
	To         Status
	Reason     string
	Details    []contract.LineVerdict
	Violations []contract.PromoViolation
}

// CreatedMessage 构造 order.created 事件
func CreatedMessage(o *Order, now time.Time) (OutboxMessage, error) {
	payload, err := contract.Marshal(contract.RoutingOrderCreated, contract.OrderCreated{
		OrderID:   o.Identifier,
		Owner:     o.Owner,
		Total:     o.Total,
		Lines:     o.EventLines(),
		CreatedAt: o.CreatedAt,
	}, now)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		Exchange:   contract.ExchangeOrderEvents,
		RoutingKey: contract.RoutingOrderCreated,
		Key:        o.Identifier,
		Payload:    payload,
	}, nil
}

// StatusChangedMessage 构造状态变更事件，o 为迁移后的订单
func StatusChangedMessage(o *Order, previous Status, change StatusChange, now time.Time) (OutboxMessage, error) {
	routingKey := contract.StatusRoutingKey(string(o.Status))
	payload, err := contract.Marshal(routingKey, contract.OrderStatusChanged{
		OrderID:        o.Identifier,
		Owner:          o.Owner,
		Status:         string(o.Status),
		PreviousStatus: string(previous),
		Reason:         change.Reason,
		Lines:          o.EventLines(),
		Details:        change.Details,
		Violations:     change.Violations,
		ChangedAt:      now.UTC(),
	}, now)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		Exchange:   contract.ExchangeOrderEvents,
		RoutingKey: routingKey,
		Key:        o.Identifier,
		Payload:    payload,
	}, nil
}
