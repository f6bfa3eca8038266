// internal/pkg/mq/publisher.go
package mq

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/metrics"
)

// Publisher 把消息发布到某个 exchange（Kafka 主题），路由键放在消息头里
type Publisher struct {
	writer MessageWriter
	tracer trace.Tracer
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer, tracer: otel.Tracer("orderflow/mq")}
}

// Publish 发布一条消息。key 决定分区（通常是订单号），当前 span 的追踪上下文会注入消息头。
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "mq.Publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.routing_key", routingKey),
			attribute.String("messaging.kafka.message.key", key),
		),
	)
	defer span.End()

	headers := KafkaHeaderCarrier{
		{Key: HeaderRoutingKey, Value: []byte(routingKey)},
		{Key: HeaderEventType, Value: []byte(routingKey)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   exchange,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.PublishedMessages.WithLabelValues(exchange, routingKey, "error").Inc()
		return apperr.Messaging(err, "publish "+routingKey)
	}
	metrics.PublishedMessages.WithLabelValues(exchange, routingKey, "ok").Inc()
	return nil
}
