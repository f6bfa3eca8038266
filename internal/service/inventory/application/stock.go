// internal/service/inventory/application/stock.go
package application

import (
	"context"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/inventory/domain"
)

// StockService 在订单完成后扣减库存
type StockService struct {
	ledger domain.StockLedger
	cache  domain.ProductCache
}

// NewStockService cache 可以为空
func NewStockService(ledger domain.StockLedger, cache domain.ProductCache) *StockService {
	return &StockService{ledger: ledger, cache: cache}
}

// Deduct 扣减已完成订单的库存。同一订单重复投递不会重复扣减。
func (s *StockService) Deduct(ctx context.Context, orderID string, lines []contract.OrderLine) error {
	// 同一商品的多行合并
	var (
		order  []string
		totals = make(map[string]int)
	)
	for _, l := range lines {
		if _, ok := totals[l.ProductID]; !ok {
			order = append(order, l.ProductID)
		}
		totals[l.ProductID] += l.Quantity
	}
	deductions := make([]domain.Deduction, 0, len(order))
	for _, id := range order {
		deductions = append(deductions, domain.Deduction{ProductID: id, Quantity: totals[id]})
	}

	applied, err := s.ledger.DeductForOrder(ctx, orderID, deductions)
	if err != nil {
		metrics.StockDeductions.WithLabelValues("error").Inc()
		return err
	}
	if !applied {
		metrics.StockDeductions.WithLabelValues("duplicate").Inc()
		logger.Ctx(ctx).Info().Str("order", orderID).Msg("stock already deducted for order, skipping")
		return nil
	}
	metrics.StockDeductions.WithLabelValues("applied").Inc()

	if s.cache != nil {
		if err := s.cache.InvalidateProducts(ctx, order...); err != nil {
			// 缓存带 TTL，失效失败只会短暂读到旧库存
			logger.Ctx(ctx).Warn().Err(err).Str("order", orderID).Msg("failed to invalidate product cache")
		}
	}
	logger.Ctx(ctx).Info().Str("order", orderID).Int("products", len(deductions)).Msg("stock deducted for completed order")
	return nil
}
