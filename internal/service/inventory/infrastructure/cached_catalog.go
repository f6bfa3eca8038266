// internal/service/inventory/infrastructure/cached_catalog.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/inventory/domain"
)

const (
	productKeyPrefix   = "inventory:product:"
	promotionKeyPrefix = "inventory:promotion:"
)

// CachedCatalog 在 Catalog 前面加一层 Redis 读缓存。
// Redis 不可用时直接回源，不影响校验结果；找不到的记录不缓存。
type CachedCatalog struct {
	next   domain.Catalog
	client redis.UniversalClient
	ttl    time.Duration
}

var (
	_ domain.Catalog      = (*CachedCatalog)(nil)
	_ domain.ProductCache = (*CachedCatalog)(nil)
)

func NewCachedCatalog(next domain.Catalog, client redis.UniversalClient, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{next: next, client: client, ttl: ttl}
}

func (c *CachedCatalog) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if c.get(ctx, productKeyPrefix+id, &p) {
		return &p, nil
	}
	product, err := c.next.FindProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, productKeyPrefix+id, product)
	return product, nil
}

func (c *CachedCatalog) FindPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	var p domain.Promotion
	if c.get(ctx, promotionKeyPrefix+id, &p) {
		return &p, nil
	}
	promo, err := c.next.FindPromotion(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, promotionKeyPrefix+id, promo)
	return promo, nil
}

// InvalidateProducts 删除商品缓存，扣减库存后调用
func (c *CachedCatalog) InvalidateProducts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del product keys")
	}
	return nil
}

func (c *CachedCatalog) get(ctx context.Context, key string, out any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("redis get failed, falling back to database")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("corrupt cache entry, ignoring")
		return false
	}
	return true
}

func (c *CachedCatalog) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}
