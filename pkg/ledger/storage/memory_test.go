package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
	"github.com/Sushimas123/sushimas-sub001/pkg/ledger/storage"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func at(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func insert(t *testing.T, s ledger.Store, e ledger.Entry) ledger.Entry {
	t.Helper()
	require.NoError(t, s.InsertEntry(context.Background(), &e))
	return e
}

func TestMemoryStore_InsertAssignsSequentialIDs(t *testing.T) {
	store := storage.NewMemoryStore()

	e1 := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})
	e2 := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(2)})

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
}

func TestMemoryStore_RunInTxRollsBackOnError(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	kept := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1), QtyIn: d(10)})

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertEntry(ctx, &ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(2)}); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, kept.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// 失敗したトランザクションの変更は一切残らない
	got, err := store.GetEntry(ctx, kept.ID)
	require.NoError(t, err)
	assert.True(t, d(10).Equal(got.QtyIn))

	entries, err := store.EntriesFrom(ctx, "A", "L", time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_RunInTxCommits(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(tx ledger.Store) error {
		// ネストした呼び出しは外側のトランザクションに参加する
		return tx.RunInTx(ctx, func(inner ledger.Store) error {
			return inner.InsertEntry(ctx, &ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})
		})
	})
	require.NoError(t, err)

	entries, err := store.EntriesFrom(ctx, "A", "L", time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_LedgerOrderTieBrokenByID(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// 同時刻のエントリは挿入順（ID順）で返る
	e1 := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(5)})
	e2 := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(5)})
	e0 := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})

	entries, err := store.EntriesFrom(ctx, "A", "L", time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, e0.ID, entries[0].ID)
	assert.Equal(t, e1.ID, entries[1].ID)
	assert.Equal(t, e2.ID, entries[2].ID)
}

func TestMemoryStore_EntriesBeforeExcludesBoundary(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})
	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(5)})

	entries, err := store.EntriesBefore(ctx, "A", "L", at(5))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_EntriesInRangeBounds(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})
	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(5)})
	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(10)})

	// 両端は包含
	entries, err := store.EntriesInRange(ctx, "A", "L", at(1), at(5))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// ゼロ値の境界は無制限
	entries, err = store.EntriesInRange(ctx, "A", "L", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = store.EntriesInRange(ctx, "A", "L", at(5), time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemoryStore_NextLockedEntry(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1)})
	locked := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(10), Locked: true})

	// 同時刻以降の最古のロック済みエントリを返す
	got, err := store.NextLockedEntry(ctx, "A", "L", at(10))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, locked.ID, got.ID)

	got, err = store.NextLockedEntry(ctx, "A", "L", at(5))
	require.NoError(t, err)
	require.NotNil(t, got)

	// ロック境界より後は期間が開いている
	got, err = store.NextLockedEntry(ctx, "A", "L", at(11))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_UpdateQuantitiesDoesNotTouchBalance(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	e := insert(t, store, ledger.Entry{
		ProductID: "A", LocationCode: "L", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})

	e.QtyIn = d(5)
	e.RunningBalance = d(777) // 残高列は更新対象外
	e.UpdatedBy = "editor"
	require.NoError(t, store.UpdateQuantities(ctx, &e))

	got, err := store.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, d(5).Equal(got.QtyIn))
	assert.True(t, d(10).Equal(got.RunningBalance))
	assert.Equal(t, "editor", got.UpdatedBy)
}

func TestMemoryStore_ApplyBalanceUpdates(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	e := insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L", EffectiveAt: at(1), RunningBalance: d(1)})

	err := store.ApplyBalanceUpdates(ctx, []ledger.BalanceUpdate{
		{EntryID: e.ID, Balance: d(42), UpdatedBy: "repair"},
	})
	require.NoError(t, err)

	got, err := store.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, d(42).Equal(got.RunningBalance))
	assert.Equal(t, "repair", got.UpdatedBy)

	err = store.ApplyBalanceUpdates(ctx, []ledger.BalanceUpdate{{EntryID: 999, Balance: d(1)}})
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestMemoryStore_Partitions(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insert(t, store, ledger.Entry{ProductID: "B", LocationCode: "L2", EffectiveAt: at(1)})
	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L1", EffectiveAt: at(1)})
	insert(t, store, ledger.Entry{ProductID: "A", LocationCode: "L1", EffectiveAt: at(2)})

	partitions, err := store.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, partitions, 2)
	assert.Equal(t, ledger.Partition{ProductID: "A", LocationCode: "L1"}, partitions[0])
	assert.Equal(t, ledger.Partition{ProductID: "B", LocationCode: "L2"}, partitions[1])
}

func TestMemoryStore_GetEntryNotFound(t *testing.T) {
	store := storage.NewMemoryStore()

	_, err := store.GetEntry(context.Background(), 42)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}
