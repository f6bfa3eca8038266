package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/contract"
	"orderflow/internal/service/order/domain"
)

func TestMemoryTablePutGetDelete(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryTable(5 * time.Minute)

	require.NoError(t, table.Put(ctx, Entry{OrderID: "a", InsertedAt: clock}))
	require.NoError(t, table.Put(ctx, Entry{OrderID: "b", InsertedAt: clock}))
	assert.Equal(t, 2, table.Len())

	got, ok, err := table.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.OrderID)

	require.NoError(t, table.Put(ctx, Entry{OrderID: "a", Received: true, InsertedAt: clock}))
	got, _, _ = table.Get(ctx, "a")
	assert.True(t, got.Received)
	assert.Equal(t, 2, table.Len())

	require.NoError(t, table.Delete(ctx, "a"))
	_, ok, _ = table.Get(ctx, "a")
	assert.False(t, ok)
	require.NoError(t, table.Delete(ctx, "a"))

	// 空槽位被复用
	require.NoError(t, table.Put(ctx, Entry{OrderID: "c", InsertedAt: clock}))
	assert.Len(t, table.arena, 2)
}

func TestMemoryTableSweepEvictsOnlyStaleEntries(t *testing.T) {
	ctx := context.Background()
	table := NewMemoryTable(5 * time.Minute)

	require.NoError(t, table.Put(ctx, Entry{OrderID: "old", InsertedAt: clock.Add(-6 * time.Minute)}))
	require.NoError(t, table.Put(ctx, Entry{OrderID: "fresh", InsertedAt: clock.Add(-time.Minute)}))

	n, err := table.Sweep(ctx, clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := table.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = table.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestReconcilerFailsStalePendingOrders(t *testing.T) {
	stale := pendingOrder("stale", "alice")
	stale.CreatedAt = clock.Add(-20 * time.Minute)
	fresh := pendingOrder("fresh", "alice")
	done := &domain.Order{Identifier: "done", Status: domain.StatusCompleted, CreatedAt: clock.Add(-time.Hour)}
	store := newFakeStore(stale, fresh, done)

	r := NewReconciler(store, 15*time.Minute, nil)
	r.now = func() time.Time { return clock }

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusFailed, store.status("stale"))
	assert.Contains(t, store.reason("stale"), "not received within 15m0s")
	assert.Equal(t, domain.StatusPending, store.status("fresh"))
	assert.Equal(t, domain.StatusCompleted, store.status("done"))

	// 对账不影响关联表
	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcilerRunsUnderLock(t *testing.T) {
	stale := pendingOrder("stale", "alice")
	stale.CreatedAt = clock.Add(-time.Hour)
	store := newFakeStore(stale)
	locker := &recordingLocker{}

	r := NewReconciler(store, 15*time.Minute, locker)
	r.now = func() time.Time { return clock }

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{reconcilerLockResource}, locker.resources)

	locker.err = errors.New("lock busy")
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestVerdictThenSweepLeavesOrderStatusAlone(t *testing.T) {
	store := newFakeStore(pendingOrder("o-1", "alice"))
	table := NewMemoryTable(time.Minute)
	require.NoError(t, table.Put(context.Background(), Entry{OrderID: "o-1", Verdict: contract.NewVerdict("o-1", nil), InsertedAt: clock.Add(-time.Hour)}))

	n, err := table.Sweep(context.Background(), clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPending, store.status("o-1"))
}
