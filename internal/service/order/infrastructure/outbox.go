// internal/service/order/infrastructure/outbox.go
package infrastructure

import (
	"context"
	"time"

	"gorm.io/gorm"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/worker"
)

// OutboxRepository 读取和标记 order_outbox 中的消息
type OutboxRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FetchPending 按写入顺序返回尚未投递的消息
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]OutboxModel, error) {
	var rows []OutboxModel
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Persistence(err, "fetch pending outbox rows")
	}
	return rows, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uint64) error {
	err := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"published_at": r.now(), "last_error": ""}).Error
	if err != nil {
		return apperr.Persistence(err, "mark outbox row published")
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uint64, cause error) error {
	err := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause.Error(),
		}).Error
	if err != nil {
		return apperr.Persistence(err, "mark outbox row failed")
	}
	return nil
}

// EventPublisher 是分发器需要的发布能力，由 mq.Publisher 实现
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey, key string, value []byte) error
}

// OutboxDispatcher 把 outbox 中的消息投递到 Kafka。
// 投递失败不会回滚订单变更，下一轮继续重试。
type OutboxDispatcher struct {
	outbox    *OutboxRepository
	publisher EventPublisher
	batch     int
}

func NewOutboxDispatcher(outbox *OutboxRepository, publisher EventPublisher, batch int) *OutboxDispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxDispatcher{outbox: outbox, publisher: publisher, batch: batch}
}

// DispatchOnce 投递一批消息，返回成功条数。
// 遇到第一条失败即停止本批，保证同一订单的事件按顺序发出。
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	rows, err := d.outbox.FetchPending(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if err := d.publisher.Publish(ctx, row.Exchange, row.RoutingKey, row.MessageKey, row.Payload); err != nil {
			metrics.OutboxDispatched.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Uint64("outbox_id", row.ID).
				Str("routing_key", row.RoutingKey).
				Int("attempts", row.Attempts+1).
				Msg("outbox publish failed, will retry")
			if markErr := d.outbox.MarkFailed(ctx, row.ID, err); markErr != nil {
				return sent, markErr
			}
			return sent, nil
		}
		if err := d.outbox.MarkPublished(ctx, row.ID); err != nil {
			// 已发出但未标记，下一轮会重复投递，消费端按订单状态幂等处理
			return sent, err
		}
		metrics.OutboxDispatched.WithLabelValues("ok").Inc()
		sent++
	}
	return sent, nil
}

// NewOutboxWorker 包装成定时任务
func NewOutboxWorker(d *OutboxDispatcher, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("outbox-dispatcher", interval, func(ctx context.Context) error {
		_, err := d.DispatchOnce(ctx)
		return err
	})
}
