package saga

import (
	"context"
	"sync"
	"time"

	"orderflow/internal/pkg/apperr"
	"orderflow/internal/service/order/domain"
)

type usageQuery struct {
	owner, promotionID string
	from, to           time.Time
}

// fakeStore 是内存中的订单存储
type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	usage    map[string]int // owner|promotion
	usageErr error
	// casErr 对目标状态不是 failed 的迁移生效
	casErr  error
	panicOn string

	changes []domain.StatusChange
	queries []usageQuery
}

func newFakeStore(orders ...*domain.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]*domain.Order), usage: make(map[string]int)}
	for _, o := range orders {
		s.orders[o.Identifier] = o
	}
	return s
}

func (s *fakeStore) FindByIdentifier(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) CompareAndTransition(_ context.Context, id string, from []domain.Status, change domain.StatusChange) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil && change.To != domain.StatusFailed {
		return nil, s.casErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	allowed := false
	for _, st := range from {
		if st == o.Status {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperr.Conflict("order %s is %s", id, o.Status)
	}
	o.Status = change.To
	o.Reason = change.Reason
	s.changes = append(s.changes, change)
	cp := *o
	return &cp, nil
}

func (s *fakeStore) PromoUsage(_ context.Context, owner, promotionID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn == promotionID {
		panic("usage blew up")
	}
	s.queries = append(s.queries, usageQuery{owner, promotionID, from, to})
	if s.usageErr != nil {
		return 0, s.usageErr
	}
	return s.usage[owner+"|"+promotionID], nil
}

func (s *fakeStore) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status == domain.StatusPending && o.CreatedAt.Before(olderThan) && len(out) < limit {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) status(id string) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

func (s *fakeStore) reason(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Reason
}

type recordingLocker struct {
	resources []string
	err       error
}

func (l *recordingLocker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	l.resources = append(l.resources, resource)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}
