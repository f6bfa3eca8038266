// internal/service/order/interfaces/verdict_handler.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
)

// VerdictProcessor 由 saga.Orchestrator 实现
type VerdictProcessor interface {
	HandleVerdict(ctx context.Context, v contract.ValidationVerdict) error
}

// VerdictHandler 是 order-service.validation-responses 队列的驱动适配器：解码消息后交给编排器
type VerdictHandler struct {
	processor VerdictProcessor
}

func NewVerdictHandler(processor VerdictProcessor) *VerdictHandler {
	return &VerdictHandler{processor: processor}
}

// Handle 的签名符合 mq.HandlerFunc。无法解码的消息直接进入死信，不再重试。
func (h *VerdictHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var verdict contract.ValidationVerdict
	if _, err := contract.Unmarshal(msg.Value, &verdict); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("undecodable validation response")
		return mq.Permanent(apperr.Validation("decode validation response: %v", err))
	}
	if verdict.OrderID == "" {
		return mq.Permanent(apperr.Validation("validation response carries no orderId"))
	}
	return h.processor.HandleVerdict(ctx, verdict)
}

// Bind 把处理函数绑定到消费者
func (h *VerdictHandler) Bind(c *mq.Consumer) *mq.Consumer {
	return c.Bind(contract.RoutingValidationResponse, h.Handle)
}
