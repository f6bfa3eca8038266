// internal/service/order/infrastructure/redis_correlation.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"orderflow/internal/service/order/application/saga"
)

const correlationKeyPrefix = "saga:correlation:"

// RedisCorrelationStore 是多实例部署时共享的关联表，过期由 Redis TTL 负责
type RedisCorrelationStore struct {
	client redis.UniversalClient
	window time.Duration
}

var _ saga.CorrelationStore = (*RedisCorrelationStore)(nil)

func NewRedisCorrelationStore(client redis.UniversalClient, window time.Duration) *RedisCorrelationStore {
	return &RedisCorrelationStore{client: client, window: window}
}

func (s *RedisCorrelationStore) Put(ctx context.Context, entry saga.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal correlation entry")
	}
	if err := s.client.Set(ctx, correlationKeyPrefix+entry.OrderID, raw, s.window).Err(); err != nil {
		return errors.Wrapf(err, "redis set correlation %s", entry.OrderID)
	}
	return nil
}

func (s *RedisCorrelationStore) Get(ctx context.Context, orderID string) (saga.Entry, bool, error) {
	raw, err := s.client.Get(ctx, correlationKeyPrefix+orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return saga.Entry{}, false, nil
	}
	if err != nil {
		return saga.Entry{}, false, errors.Wrapf(err, "redis get correlation %s", orderID)
	}
	var entry saga.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return saga.Entry{}, false, errors.Wrap(err, "unmarshal correlation entry")
	}
	return entry, true, nil
}

func (s *RedisCorrelationStore) Delete(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, correlationKeyPrefix+orderID).Err(); err != nil {
		return errors.Wrapf(err, "redis del correlation %s", orderID)
	}
	return nil
}

// Sweep 无需执行，键到期后由 Redis 删除
func (s *RedisCorrelationStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
