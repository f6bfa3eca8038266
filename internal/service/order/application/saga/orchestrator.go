// internal/service/order/application/saga/orchestrator.go
package saga

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/order/domain"
)

const outcomeDropped = "dropped"

// OrderStore 是编排器用到的订单存储能力
type OrderStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Order, error)
	CompareAndTransition(ctx context.Context, identifier string, from []domain.Status, change domain.StatusChange) (*domain.Order, error)
	PromoUsage(ctx context.Context, owner, promotionID string, from, to time.Time) (int, error)
}

// Orchestrator 消费库存校验裁决，驱动订单状态机
type Orchestrator struct {
	orders      OrderStore
	correlation CorrelationStore
	rule        LimitRule
	loc         *time.Location
	now         func() time.Time
	tracer      trace.Tracer
}

type Option func(*Orchestrator)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator loc 决定促销用量按哪个时区的自然日统计
func NewOrchestrator(orders OrderStore, correlation CorrelationStore, rule LimitRule, loc *time.Location, opts ...Option) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	o := &Orchestrator{
		orders:      orders,
		correlation: correlation,
		rule:        rule,
		loc:         loc,
		now:         time.Now,
		tracer:      otel.Tracer("orderflow/saga"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleVerdict 处理一条裁决。返回 error 时消息会被重新入队；
// 业务结论（包括订单被置为 failed）都返回 nil。
func (o *Orchestrator) HandleVerdict(ctx context.Context, v contract.ValidationVerdict) error {
	ctx, span := o.tracer.Start(ctx, "saga.HandleVerdict", trace.WithAttributes(
		attribute.String("order.id", v.OrderID),
		attribute.Bool("verdict.stock_valid", v.IsStockValid),
		attribute.Bool("verdict.has_promo", v.HasPromoItems),
		attribute.Bool("verdict.error", v.IsError()),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order", v.OrderID).Logger()

	// 1. 记录到关联表
	if err := o.correlation.Put(ctx, Entry{OrderID: v.OrderID, Verdict: v, Received: true, InsertedAt: o.now()}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store verdict")
		return errors.Wrap(err, "store verdict in correlation store")
	}
	// 无论结论如何都删除条目
	defer func() {
		if err := o.correlation.Delete(context.WithoutCancel(ctx), v.OrderID); err != nil {
			log.Warn().Err(err).Msg("failed to delete correlation entry, sweep will evict it")
		}
	}()

	order, err := o.orders.FindByIdentifier(ctx, v.OrderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn().Msg("verdict for unknown order, dropping")
			metrics.SagaOutcomes.WithLabelValues(outcomeDropped).Inc()
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "load order")
		return err
	}

	// 至少一次投递：订单已不是 pending 说明裁决处理过了
	if order.Status != domain.StatusPending {
		log.Info().Str("status", order.Status.String()).Msg("order is no longer pending, dropping redelivered verdict")
		metrics.SagaOutcomes.WithLabelValues(outcomeDropped).Inc()
		return nil
	}

	change, err := o.evaluate(ctx, order, v)
	if err != nil {
		err = apperr.Processing(err, "verdict processing")
		span.RecordError(err)
		log.Error().Err(err).Msg("verdict processing failed, forcing order to failed")
		change = failedChange(err, v.Details)
	}
	return o.apply(ctx, order, change)
}

// evaluate 查询促销用量后调用纯函数 Decide，panic 也转成 error
func (o *Orchestrator) evaluate(ctx context.Context, order *domain.Order, v contract.ValidationVerdict) (change domain.StatusChange, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	usage, err := o.promoUsage(ctx, order.Owner, PromotionIDs(v))
	if err != nil {
		return change, err
	}
	outcome, err := Decide(v, usage, o.rule)
	if err != nil {
		return change, err
	}
	return domain.StatusChange{
		To:         outcome.Status,
		Reason:     outcome.Reason,
		Details:    v.Details,
		Violations: outcome.Violations,
	}, nil
}

// promoUsage 并发查询每个促销的当日用量
func (o *Orchestrator) promoUsage(ctx context.Context, owner string, promotionIDs []string) (PromoUsage, error) {
	usage := make(PromoUsage, len(promotionIDs))
	if len(promotionIDs) == 0 {
		return usage, nil
	}
	from, to := o.dayWindow()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range promotionIDs {
		id := id
		g.Go(func() (err error) {
			// errgroup 不会把 goroutine 里的 panic 传回 Wait
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("panic during promo usage lookup for %s: %v", id, r)
				}
			}()
			n, err := o.orders.PromoUsage(gctx, owner, id, from, to)
			if err != nil {
				return errors.Wrapf(err, "promo usage for %s", id)
			}
			mu.Lock()
			usage[id] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return usage, nil
}

// dayWindow 返回配置时区下当天 [00:00, 次日 00:00) 对应的 UTC 区间
func (o *Orchestrator) dayWindow() (time.Time, time.Time) {
	local := o.now().In(o.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, o.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func (o *Orchestrator) apply(ctx context.Context, order *domain.Order, change domain.StatusChange) error {
	log := logger.Ctx(ctx).With().Str("order", order.Identifier).Str("to", change.To.String()).Logger()

	_, err := o.orders.CompareAndTransition(ctx, order.Identifier, []domain.Status{domain.StatusPending}, change)
	switch {
	case err == nil:
		metrics.SagaOutcomes.WithLabelValues(change.To.String()).Inc()
		log.Info().Str("reason", change.Reason).Msg("order transitioned")
		return nil
	case apperr.Is(err, apperr.KindConflict):
		// 并发的重复投递已经先一步完成了迁移
		log.Info().Err(err).Msg("order changed concurrently, dropping verdict")
		metrics.SagaOutcomes.WithLabelValues(outcomeDropped).Inc()
		return nil
	}

	log.Error().Err(err).Msg("failed to transition order")
	if change.To == domain.StatusFailed {
		return err
	}

	// 兜底：目标状态写入失败时尝试置为 failed，仍失败则重新入队
	fail := failedChange(apperr.Processing(err, "transition order"), change.Details)
	if _, ferr := o.orders.CompareAndTransition(ctx, order.Identifier, domain.NonTerminalStatuses(), fail); ferr != nil {
		if apperr.Is(ferr, apperr.KindConflict) {
			return nil
		}
		log.Error().Err(ferr).Msg("failed to force order to failed")
		return err
	}
	metrics.SagaOutcomes.WithLabelValues(domain.StatusFailed.String()).Inc()
	return nil
}

func failedChange(err error, details []contract.LineVerdict) domain.StatusChange {
	return domain.StatusChange{
		To:      domain.StatusFailed,
		Reason:  "Validation processing error: " + err.Error(),
		Details: details,
	}
}
