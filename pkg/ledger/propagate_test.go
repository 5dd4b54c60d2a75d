package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
	"github.com/Sushimas123/sushimas-sub001/pkg/ledger/storage"
)

func insertRaw(t *testing.T, store *storage.MemoryStore, e ledger.Entry) ledger.Entry {
	t.Helper()
	require.NoError(t, store.InsertEntry(context.Background(), &e))
	return e
}

func TestPropagate_RepairsDriftedBalances(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// 保存残高が意図的にずれたエントリ列
	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})
	drifted := insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(2),
		QtyIn: d(5), RunningBalance: d(999),
	})

	prop := ledger.NewPropagator(store, zap.NewNop())
	repaired, err := prop.Propagate(ctx, "ITEM-A", "WH-01", time.Time{}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, repaired, "ずれたエントリのみ書き込まれること")

	got, err := store.GetEntry(ctx, drifted.ID)
	require.NoError(t, err)
	assert.True(t, d(15).Equal(got.RunningBalance))
}

func TestPropagate_WriteMinimization(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})
	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(2),
		QtyOut: d(4), RunningBalance: d(6),
	})

	// 全残高が正しい場合は一切書き込まない
	prop := ledger.NewPropagator(store, zap.NewNop())
	repaired, err := prop.Propagate(ctx, "ITEM-A", "WH-01", time.Time{}, "tester")
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestPropagate_LockedEntryNeverOverwritten(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})
	// 数量と矛盾する権威残高を持つチェックポイント
	checkpoint := insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(5),
		Locked: true, RunningBalance: d(42), SourceType: ledger.SourceStockCount,
	})
	after := insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(6),
		QtyIn: d(8), RunningBalance: d(0),
	})

	prop := ledger.NewPropagator(store, zap.NewNop())
	repaired, err := prop.Propagate(ctx, "ITEM-A", "WH-01", time.Time{}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	// チェックポイントは保存値のまま、後続はそこから再シード
	cp, err := store.GetEntry(ctx, checkpoint.ID)
	require.NoError(t, err)
	assert.True(t, d(42).Equal(cp.RunningBalance))

	got, err := store.GetEntry(ctx, after.ID)
	require.NoError(t, err)
	assert.True(t, d(50).Equal(got.RunningBalance))
}

func TestPropagate_SeedsFromHistoryBeforeFrom(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})
	tail := insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(10),
		QtyIn: d(1), RunningBalance: d(0),
	})

	// from より前の履歴から累計を初期化する
	prop := ledger.NewPropagator(store, zap.NewNop())
	repaired, err := prop.Propagate(ctx, "ITEM-A", "WH-01", at(10), "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, err := store.GetEntry(ctx, tail.ID)
	require.NoError(t, err)
	assert.True(t, d(11).Equal(got.RunningBalance))
}

func TestPropagate_OtherPartitionsUntouched(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	other := insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-B", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(3), RunningBalance: d(999),
	})
	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(0),
	})

	prop := ledger.NewPropagator(store, zap.NewNop())
	_, err := prop.Propagate(ctx, "ITEM-A", "WH-01", time.Time{}, "tester")
	require.NoError(t, err)

	got, err := store.GetEntry(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, d(999).Equal(got.RunningBalance), "他パーティションの残高は変更されないこと")
}

func TestBalanceAsOf_UsesStrictlyEarlierEntries(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(1),
		QtyIn: d(10), RunningBalance: d(10),
	})
	insertRaw(t, store, ledger.Entry{
		ProductID: "ITEM-A", LocationCode: "WH-01", EffectiveAt: at(5),
		QtyIn: d(5), RunningBalance: d(15),
	})

	calc := ledger.NewCalculator(store)

	// 同時刻のエントリは含まれない
	balance, err := calc.BalanceAsOf(ctx, "ITEM-A", "WH-01", at(5))
	require.NoError(t, err)
	assert.True(t, d(10).Equal(balance))

	balance, err = calc.BalanceAsOf(ctx, "ITEM-A", "WH-01", at(6))
	require.NoError(t, err)
	assert.True(t, d(15).Equal(balance))
}
