// internal/pkg/mq/dlt.go
package mq

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
)

// DeadLetterConsumer 监听死信主题并记录日志
type DeadLetterConsumer struct {
	topic  string
	reader MessageReader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeadLetterConsumer(topic string, reader MessageReader) *DeadLetterConsumer {
	return &DeadLetterConsumer{topic: topic, reader: reader}
}

func (a *DeadLetterConsumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("DLT consumer started")
		for {
			msg, err := a.reader.FetchMessage(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				if !sleep(runCtx, time.Second) {
					return
				}
				continue
			}

			logDeadLetter(runCtx, msg)

			// 死信已经被“处理”（记录日志），直接提交
			if err := a.reader.CommitMessages(runCtx, msg); err != nil {
				logger.Ctx(runCtx).Error().Err(err).Str("topic", a.topic).Msg("failed to commit dead letter")
			}
		}
	}()
	return nil
}

func (a *DeadLetterConsumer) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	_ = a.reader.Close()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("DLT consumer stopped")
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	metrics.ConsumedMessages.WithLabelValues(msg.Topic, HeaderValue(msg.Headers, HeaderRoutingKey), "dead_letter_logged").Inc()
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("routing_key", HeaderValue(msg.Headers, HeaderRoutingKey)).
		Str("original_topic", HeaderValue(msg.Headers, HeaderOriginalTopic)).
		Str("original_partition", HeaderValue(msg.Headers, HeaderOriginalPartition)).
		Str("original_offset", HeaderValue(msg.Headers, HeaderOriginalOffset)).
		Str("exception_fqcn", HeaderValue(msg.Headers, HeaderExceptionFqcn)).
		Str("exception_message", HeaderValue(msg.Headers, HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("CRITICAL: Dead letter message received")
}
