// internal/service/order/application/saga/correlation.go
package saga

import (
	"context"
	"sync"
	"time"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/metrics"
)

// Entry 是关联表中在途 Saga 的状态
type Entry struct {
	OrderID    string                     `json:"orderId"`
	Verdict    contract.ValidationVerdict `json:"verdict"`
	Received   bool                       `json:"received"`
	InsertedAt time.Time                  `json:"insertedAt"`
}

// CorrelationStore 以订单号为键保存在途的校验结果
type CorrelationStore interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, orderID string) (Entry, bool, error)
	Delete(ctx context.Context, orderID string) error
	// Sweep 清除插入时间早于 now - 过期窗口 的条目，返回清除数量。不会改动订单状态。
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type slot struct {
	entry Entry
	used  bool
}

// MemoryTable 是进程内的关联表：条目存放在 arena 中，index 把订单号映射到槽位，空槽位复用
type MemoryTable struct {
	mu     sync.Mutex
	window time.Duration
	arena  []slot
	index  map[string]int
	free   []int
}

func NewMemoryTable(window time.Duration) *MemoryTable {
	return &MemoryTable{window: window, index: make(map[string]int)}
}

func (t *MemoryTable) Put(_ context.Context, entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[entry.OrderID]; ok {
		t.arena[i].entry = entry
		return nil
	}
	var i int
	if n := len(t.free); n > 0 {
		i = t.free[n-1]
		t.free = t.free[:n-1]
		t.arena[i] = slot{entry: entry, used: true}
	} else {
		i = len(t.arena)
		t.arena = append(t.arena, slot{entry: entry, used: true})
	}
	t.index[entry.OrderID] = i
	metrics.CorrelationEntries.Set(float64(len(t.index)))
	return nil
}

func (t *MemoryTable) Get(_ context.Context, orderID string) (Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[orderID]
	if !ok {
		return Entry{}, false, nil
	}
	return t.arena[i].entry, true, nil
}

func (t *MemoryTable) Delete(_ context.Context, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(orderID)
	return nil
}

func (t *MemoryTable) Sweep(_ context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for id, i := range t.index {
		if now.Sub(t.arena[i].entry.InsertedAt) > t.window {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		t.remove(id)
	}
	metrics.CorrelationEvictions.Add(float64(len(stale)))
	return len(stale), nil
}

// Len 返回在途条目数
func (t *MemoryTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

func (t *MemoryTable) remove(orderID string) {
	i, ok := t.index[orderID]
	if !ok {
		return
	}
	t.arena[i] = slot{}
	t.free = append(t.free, i)
	delete(t.index, orderID)
	metrics.CorrelationEntries.Set(float64(len(t.index)))
}
