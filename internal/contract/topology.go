// internal/contract/topology.go
package contract

// Exchanges：每个 exchange 对应一个 Kafka 主题
const (
	ExchangeOrderEvents = "order.events"
	ExchangeStockEvents = "stock.events"
)

// 路由键
const (
	RoutingOrderCreated         = "order.created"
	RoutingOrderUpdated         = "order.updated"
	RoutingOrderCompleted       = "order.completed"
	RoutingOrderCancelled       = "order.cancelled"
	RoutingOrderReadyForPayment = "order.ready_for_payment"
	RoutingValidationResponse   = "stock.validation.response"
)

// 队列（消费组）
const (
	QueueInventoryOrderEvents     = "inventory-service.order-events"
	QueueOrderValidationResponses = "order-service.validation-responses"
)

// Exchanges 列出需要预先创建的主题
var Exchanges = []string{ExchangeOrderEvents, ExchangeStockEvents}

// StatusRoutingKey 把订单状态映射为状态变更事件的路由键，
// ready_for_payment / cancelled / completed 有专门的事件，其余（包括 failed）发 order.updated
func StatusRoutingKey(status string) string {
	switch status {
	case "ready_for_payment":
		return RoutingOrderReadyForPayment
	case "cancelled":
		return RoutingOrderCancelled
	case "completed":
		return RoutingOrderCompleted
	default:
		return RoutingOrderUpdated
	}
}
