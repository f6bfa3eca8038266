// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现。
// 所有写操作都会把对应的 outbox 消息放进同一个事务。
type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ domain.OrderRepository = (*GormOrderRepository)(nil)

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toOrderModel(order)
		if err := tx.Create(model).Error; err != nil {
			return apperr.Persistence(err, "insert order")
		}
		order.ID = model.ID

		msg, err := domain.CreatedMessage(order, r.now())
		if err != nil {
			return apperr.Persistence(err, "build order.created message")
		}
		return enqueue(tx, msg)
	})
}

func (r *GormOrderRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Order, error) {
	var model OrderModel
	err := r.withLines(r.db.WithContext(ctx)).Where("identifier = ?", identifier).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("order %s not found", identifier)
		}
		return nil, apperr.Persistence(err, "find order")
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindByOwner(ctx context.Context, owner string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.withLines(r.db.WithContext(ctx)).
		Where("owner = ?", owner).
		Order("created_at DESC").Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, apperr.Persistence(err, "find orders by owner")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]*domain.Order, int64, error) {
	page = page.Normalize()
	query := r.db.WithContext(ctx).Model(&OrderModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.OwnerSubstring != "" {
		query = query.Where("owner LIKE ? ESCAPE '!'", "%"+escapeLike(filter.OwnerSubstring)+"%")
	}

	// Count 和 Find 共用同一组条件
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Persistence(err, "count orders")
	}

	var models []OrderModel
	err := r.withLines(query).
		Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&models).Error
	if err != nil {
		return nil, 0, apperr.Persistence(err, "list orders")
	}
	return toDomainOrders(models), total, nil
}

func (r *GormOrderRepository) TransitionStatus(ctx context.Context, identifier string, to domain.Status) (*domain.Order, error) {
	return r.CompareAndTransition(ctx, identifier, domain.AllStatuses(), domain.StatusChange{To: to})
}

func (r *GormOrderRepository) CompareAndTransition(ctx context.Context, identifier string, from []domain.Status, change domain.StatusChange) (*domain.Order, error) {
	var out *domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current OrderModel
		if err := tx.Where("identifier = ?", identifier).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("order %s not found", identifier)
			}
			return apperr.Persistence(err, "load order")
		}
		previous := domain.Status(current.Status)
		if !containsStatus(from, previous) {
			return apperr.Conflict("order %s is %s and cannot move to %s", identifier, previous, change.To)
		}

		now := r.now()
		// 条件更新：状态在读取之后被并发修改时影响行数为 0
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", current.ID, current.Status).
			Updates(map[string]any{
				"status":     string(change.To),
				"reason":     change.Reason,
				"updated_at": now,
			})
		if res.Error != nil {
			return apperr.Persistence(res.Error, "update order status")
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("order %s changed concurrently", identifier)
		}

		var updated OrderModel
		if err := r.withLines(tx).First(&updated, current.ID).Error; err != nil {
			return apperr.Persistence(err, "reload order")
		}
		out = toDomainOrder(&updated)

		msg, err := domain.StatusChangedMessage(out, previous, change, now)
		if err != nil {
			return apperr.Persistence(err, "build status change message")
		}
		return enqueue(tx, msg)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormOrderRepository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.StatusPending), olderThan.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, apperr.Persistence(err, "find stale pending orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) PromoUsage(ctx context.Context, owner, promotionID string, from, to time.Time) (int, error) {
	var used int64
	err := r.db.WithContext(ctx).
		Table("order_lines").
		Select("COALESCE(SUM(order_lines.quantity), 0)").
		Joins("JOIN orders ON orders.id = order_lines.order_id").
		Where("orders.owner = ? AND orders.status = ? AND order_lines.promotion_id = ?",
			owner, string(domain.StatusCompleted), promotionID).
		Where("orders.created_at >= ? AND orders.created_at < ?", from.UTC(), to.UTC()).
		Scan(&used).Error
	if err != nil {
		return 0, apperr.Persistence(err, "sum promo usage")
	}
	return int(used), nil
}

func (r *GormOrderRepository) withLines(db *gorm.DB) *gorm.DB {
	return db.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("order_lines.id ASC") })
}

func enqueue(tx *gorm.DB, msg domain.OutboxMessage) error {
	if err := tx.Create(toOutboxModel(msg)).Error; err != nil {
		return apperr.Persistence(err, "insert outbox message")
	}
	return nil
}

// likeEscaper 让 % 和 _ 按字面匹配。MySQL 和 sqlite 对字符串里的反斜杠处理不同，所以用 ! 作转义符
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, st := range list {
		if st == s {
			return true
		}
	}
	return false
}
