// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderflow"

var (
	// SagaOutcomes 按结果统计每次裁决处理：ready_for_payment / cancelled / failed / dropped
	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "outcomes_total",
		Help:      "Validation verdicts handled by the saga orchestrator, by outcome.",
	}, []string{"outcome"})

	// CorrelationEntries 当前在途的关联表条目数
	CorrelationEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "correlation_entries",
		Help:      "In-flight entries held by the correlation store.",
	})

	CorrelationEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "correlation_evictions_total",
		Help:      "Correlation entries evicted by the staleness sweep.",
	})

	ReconciledOrders = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "reconciled_orders_total",
		Help:      "Stale pending orders marked failed by the reconciliation sweep.",
	})

	// Verdicts 库存服务发布的裁决：valid / invalid / error
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "verdicts_total",
		Help:      "Validation verdicts produced by the inventory validator.",
	}, []string{"result"})

	StockDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "stock_deductions_total",
		Help:      "Stock deductions for completed orders, by result.",
	}, []string{"result"})

	// ConsumedMessages 消费结果：ok / requeued / dead_lettered / skipped
	ConsumedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mq",
		Name:      "consumed_messages_total",
		Help:      "Messages consumed from the broker, by routing key and result.",
	}, []string{"topic", "routing_key", "result"})

	PublishedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mq",
		Name:      "published_messages_total",
		Help:      "Messages published to the broker, by routing key and result.",
	}, []string{"topic", "routing_key", "result"})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "dispatched_total",
		Help:      "Outbox rows dispatched, by result.",
	}, []string{"result"})
)
