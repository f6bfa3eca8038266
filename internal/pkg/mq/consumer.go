// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
)

// HandlerFunc 处理一条消息。返回 error 表示需要 nack（重新入队或进入死信）。
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

type binding struct {
	pattern string
	handler HandlerFunc
}

// Consumer 是一个队列：一个消费组加上若干路由键绑定。
// 消息逐条处理，处理（或移交 FailureHandler）完成后才提交位点。
type Consumer struct {
	name     string
	reader   MessageReader
	failure  *FailureHandler
	bindings []binding
	tracer   trace.Tracer
	backoff  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(name string, reader MessageReader, failure *FailureHandler) *Consumer {
	return &Consumer{
		name:    name,
		reader:  reader,
		failure: failure,
		tracer:  otel.Tracer("orderflow/mq"),
		backoff: time.Second,
	}
}

// Bind 将路由键模式绑定到处理函数，先绑定的优先
func (c *Consumer) Bind(pattern string, handler HandlerFunc) *Consumer {
	c.bindings = append(c.bindings, binding{pattern: pattern, handler: handler})
	return c
}

// Start 开始消费，非阻塞
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.bindings) == 0 {
		return errors.Errorf("consumer %s has no bindings", c.name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()
	logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("Kafka consumer started")
	return nil
}

// Stop 停止拉取，等待当前消息处理结束后关闭 reader
func (c *Consumer) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("failed to close kafka reader")
	}
	logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("Kafka consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("could not fetch message, retrying")
			if !sleep(ctx, c.backoff) {
				return
			}
			continue
		}

		if !c.Process(ctx, msg) {
			// 失败消息没能转发出去，不提交位点，交给下次重平衡重新投递
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("failed to commit message")
		}
	}
}

// Process 处理单条消息，返回 true 表示可以提交位点
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) bool {
	carrier := KafkaHeaderCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)

	routingKey := HeaderValue(msg.Headers, HeaderRoutingKey)
	ctx, span := c.tracer.Start(ctx, "mq.Consume "+routingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.consumer.group.name", c.name),
			attribute.String("messaging.routing_key", routingKey),
			attribute.Int("messaging.kafka.retry_count", RetryCount(msg.Headers)),
		),
	)
	defer span.End()

	if target := HeaderValue(msg.Headers, HeaderTargetQueue); target != "" && target != c.name {
		metrics.ConsumedMessages.WithLabelValues(msg.Topic, routingKey, "skipped").Inc()
		logger.Ctx(ctx).Debug().Str("consumer", c.name).Str("target_queue", target).Msg("requeued message belongs to another queue, skipping")
		return true
	}

	handler := c.match(routingKey)
	if handler == nil {
		metrics.ConsumedMessages.WithLabelValues(msg.Topic, routingKey, "skipped").Inc()
		logger.Ctx(ctx).Debug().Str("consumer", c.name).Str("routing_key", routingKey).Msg("no binding matches routing key, skipping")
		return true
	}

	err := safeHandle(ctx, handler, msg)
	if err == nil {
		metrics.ConsumedMessages.WithLabelValues(msg.Topic, routingKey, "ok").Inc()
		return true
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	for {
		outcome, ferr := c.failure.Handle(ctx, c.name, msg, err)
		if ferr == nil {
			metrics.ConsumedMessages.WithLabelValues(msg.Topic, routingKey, outcome).Inc()
			return true
		}
		logger.Ctx(ctx).Error().Err(ferr).Str("consumer", c.name).Msg("failed to route failed message, retrying")
		if !sleep(ctx, c.backoff) {
			return false
		}
	}
}

func (c *Consumer) match(routingKey string) HandlerFunc {
	for _, b := range c.bindings {
		if MatchRoutingKey(b.pattern, routingKey) {
			return b.handler
		}
	}
	return nil
}

func safeHandle(ctx context.Context, handler HandlerFunc, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while handling message: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
