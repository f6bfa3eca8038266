// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"
)

// ListFilter 订单列表的过滤条件
type ListFilter struct {
	Status         *Status
	OwnerSubstring string
}

// Page 分页参数，Number 从 1 开始
type Page struct {
	Number int
	Size   int
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。写操作会把对应的 outbox 消息放进同一个事务。
type OrderRepository interface {
	// Create 原子地写入订单头、订单行以及 order.created 消息
	Create(ctx context.Context, order *Order) error

	FindByIdentifier(ctx context.Context, identifier string) (*Order, error)

	// FindByOwner 按创建时间倒序
	FindByOwner(ctx context.Context, owner string) ([]*Order, error)

	// List 按创建时间倒序分页，同时返回总数
	List(ctx context.Context, filter ListFilter, page Page) ([]*Order, int64, error)

	// TransitionStatus 无条件覆盖状态，调用方负责只在合法的边上调用
	TransitionStatus(ctx context.Context, identifier string, to Status) (*Order, error)

	// CompareAndTransition 仅当当前状态属于 from 时才迁移，否则返回 Conflict
	CompareAndTransition(ctx context.Context, identifier string, from []Status, change StatusChange) (*Order, error)

	// FindStalePending 返回创建时间早于 olderThan 且仍为 pending 的订单
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Order, error)

	// PromoUsage 统计 owner 在 [from, to) 内已完成订单中某个促销的购买数量
	PromoUsage(ctx context.Context, owner, promotionID string, from, to time.Time) (int, error)
}
