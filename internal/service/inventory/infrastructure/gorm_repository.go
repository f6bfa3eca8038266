// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/pkg/database"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/inventory/domain"
)

var errAlreadyDeducted = errors.New("stock already deducted")

// GormCatalog 是 domain.Catalog 的 GORM 实现
type GormCatalog struct {
	db *gorm.DB
}

var _ domain.Catalog = (*GormCatalog)(nil)

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var m ProductModel
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product %s not found", id)
		}
		return nil, apperr.Persistence(err, "find product")
	}
	return &domain.Product{ID: m.ID, Name: m.Name, Stock: m.Stock, Active: m.Active}, nil
}

func (c *GormCatalog) FindPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	var m PromotionModel
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("promotion %s not found", id)
		}
		return nil, apperr.Persistence(err, "find promotion")
	}
	return &domain.Promotion{ID: m.ID, MaxQuantity: m.MaxQuantity, Active: m.Active}, nil
}

// GormStockLedger 是 domain.StockLedger 的 GORM 实现
type GormStockLedger struct {
	db *gorm.DB
}

var _ domain.StockLedger = (*GormStockLedger)(nil)

func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

func (l *GormStockLedger) DeductForOrder(ctx context.Context, orderID string, lines []domain.Deduction) (bool, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先占住订单号，重复投递在这里被唯一索引挡住
		if err := tx.Create(&StockDeductionModel{OrderID: orderID}).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return errAlreadyDeducted
			}
			return apperr.Persistence(err, "record stock deduction")
		}
		for _, line := range lines {
			res := tx.Model(&ProductModel{}).
				Where("id = ?", line.ProductID).
				Update("stock", gorm.Expr("CASE WHEN stock > ? THEN stock - ? ELSE 0 END", line.Quantity, line.Quantity))
			if res.Error != nil {
				return apperr.Persistence(res.Error, "deduct stock")
			}
			if res.RowsAffected == 0 {
				logger.Ctx(ctx).Warn().Str("order", orderID).Str("product", line.ProductID).Msg("completed order references unknown product, nothing to deduct")
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyDeducted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
