// internal/service/order/application/saga/reconciler.go
package saga

import (
	"context"
	"fmt"
	"time"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/worker"
	"orderflow/internal/service/order/domain"
)

const reconcilerLockResource = "order-reconciler"

// StaleOrderStore 是对账任务用到的订单存储能力
type StaleOrderStore interface {
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error)
	CompareAndTransition(ctx context.Context, identifier string, from []domain.Status, change domain.StatusChange) (*domain.Order, error)
}

// Locker 为对账提供跨实例互斥，可以为空
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

// Reconciler 把长时间停留在 pending 的订单置为 failed（校验事件丢失或库存服务一直没有响应）。
// 它与关联表的过期清理是两回事：后者只释放内存，不改订单状态。
type Reconciler struct {
	orders  StaleOrderStore
	timeout time.Duration
	batch   int
	locker  Locker
	now     func() time.Time
}

func NewReconciler(orders StaleOrderStore, timeout time.Duration, locker Locker) *Reconciler {
	return &Reconciler{orders: orders, timeout: timeout, batch: 200, locker: locker, now: time.Now}
}

// RunOnce 执行一轮对账，返回被置为 failed 的订单数
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.locker == nil {
		return r.reconcile(ctx)
	}
	var n int
	err := r.locker.WithLock(ctx, reconcilerLockResource, func(ctx context.Context) error {
		var err error
		n, err = r.reconcile(ctx)
		return err
	})
	return n, err
}

func (r *Reconciler) reconcile(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.timeout)
	stale, err := r.orders.FindStalePending(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}

	var (
		failed   int
		firstErr error
	)
	change := domain.StatusChange{
		To:     domain.StatusFailed,
		Reason: fmt.Sprintf("Validation response not received within %s", r.timeout),
	}
	for _, order := range stale {
		_, err := r.orders.CompareAndTransition(ctx, order.Identifier, []domain.Status{domain.StatusPending}, change)
		switch {
		case err == nil:
			failed++
			metrics.ReconciledOrders.Inc()
			logger.Ctx(ctx).Warn().Str("order", order.Identifier).Time("created_at", order.CreatedAt).Msg("stale pending order marked failed")
		case apperr.Is(err, apperr.KindConflict), apperr.Is(err, apperr.KindNotFound):
			// 裁决恰好在此期间到达
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

// NewReconcileWorker 包装成定时任务
func NewReconcileWorker(r *Reconciler, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("order-reconciler", interval, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}

// NewCorrelationSweeper 定期清理关联表中过期的条目
func NewCorrelationSweeper(store CorrelationStore, interval time.Duration) *worker.Periodic {
	return worker.NewPeriodic("correlation-sweeper", interval, func(ctx context.Context) error {
		n, err := store.Sweep(ctx, time.Now())
		if n > 0 {
			logger.Ctx(ctx).Info().Int("evicted", n).Msg("evicted stale correlation entries")
		}
		return err
	})
}
