// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
)

const (
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记一个不值得重试的错误（例如无法解析的消息体），直接进入死信主题
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// FailureHandler 处理消费失败的消息：先重新入队，超过次数后转入死信主题
type FailureHandler struct {
	writer     MessageWriter
	maxRetries int
}

func NewFailureHandler(writer MessageWriter, maxRetries int) *FailureHandler {
	return &FailureHandler{writer: writer, maxRetries: maxRetries}
}

// Handle 返回消息最终的去向。只有重新发布失败时才返回 error，此时调用方不应提交位点。
// 重新入队的消息带上 queue 作为目标队列，同一主题上的其他队列会跳过它。
func (h *FailureHandler) Handle(ctx context.Context, queue string, msg kafka.Message, cause error) (string, error) {
	retries := RetryCount(msg.Headers)
	log := logger.Ctx(ctx).With().
		Str("queue", queue).
		Str("topic", msg.Topic).
		Int64("offset", msg.Offset).
		Str("key", string(msg.Key)).
		Int("retries", retries).
		Logger()

	if !IsPermanent(cause) && retries < h.maxRetries {
		headers := SetHeader(cloneHeaders(msg.Headers), HeaderRetryCount, strconv.Itoa(retries+1))
		headers = SetHeader(headers, HeaderTargetQueue, queue)
		err := h.writer.WriteMessages(ctx, kafka.Message{
			Topic:   msg.Topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: headers,
		})
		if err != nil {
			return "", apperr.Messaging(err, "requeue message")
		}
		log.Warn().Err(cause).Msg("message handling failed, requeued")
		return OutcomeRequeued, nil
	}

	headers := cloneHeaders(msg.Headers)
	headers = SetHeader(headers, HeaderOriginalTopic, msg.Topic)
	headers = SetHeader(headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers = SetHeader(headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers = SetHeader(headers, HeaderExceptionFqcn, fmt.Sprintf("%T", errors.Cause(cause)))
	headers = SetHeader(headers, HeaderExceptionMessage, cause.Error())

	err := h.writer.WriteMessages(ctx, kafka.Message{
		Topic:   DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return "", apperr.Messaging(err, "dead-letter message")
	}
	log.Error().Err(cause).Msg("message moved to dead letter topic")
	return OutcomeDeadLettered, nil
}
