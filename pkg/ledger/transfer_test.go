package ledger_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
)

func seedStock(t *testing.T, engine *ledger.Engine, location string, day int, qty int64) {
	t.Helper()
	_, err := engine.RecordMovement(context.Background(), ledger.Movement{
		ProductID:    "ITEM-A",
		LocationCode: location,
		EffectiveAt:  at(day),
		QtyIn:        d(qty),
		Actor:        "tester",
	})
	require.NoError(t, err)
}

func TestCompleteTransfer_BothSidesRecorded(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)

	result, err := engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(30),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	require.NoError(t, err)

	// 両側が同一参照番号・保護ソースタイプで記録される
	assert.Equal(t, result.TransferRef, result.Outbound.SourceRef)
	assert.Equal(t, result.TransferRef, result.Inbound.SourceRef)
	assert.Equal(t, ledger.SourceTransfer, result.Outbound.SourceType)
	assert.Equal(t, ledger.SourceTransfer, result.Inbound.SourceType)
	assert.True(t, d(70).Equal(result.Outbound.RunningBalance))
	assert.True(t, d(30).Equal(result.Inbound.RunningBalance))

	// 両側の合計は変化しない
	from, err := engine.GetBalance(ctx, "ITEM-A", "WH-01", at(31))
	require.NoError(t, err)
	to, err := engine.GetBalance(ctx, "ITEM-A", "WH-02", at(31))
	require.NoError(t, err)
	assert.True(t, d(100).Equal(from.Add(to)))
}

func TestCompleteTransfer_GeneratesRef(t *testing.T) {
	engine, _ := newTestEngine(t)

	seedStock(t, engine, "WH-01", 1, 10)

	result, err := engine.CompleteTransfer(context.Background(), ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(5),
		EffectiveAt:  at(2),
		Actor:        "tester",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.TransferRef, "TR-"))
}

func TestCompleteTransfer_DuplicateRefRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)

	tr := ledger.Transfer{
		TransferRef:  "TR-FIXED-001",
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(10),
		EffectiveAt:  at(5),
		Actor:        "tester",
	}
	_, err := engine.CompleteTransfer(ctx, tr)
	require.NoError(t, err)

	_, err = engine.CompleteTransfer(ctx, tr)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransferRef)
}

func TestCompleteTransfer_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	base := ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(10),
		EffectiveAt:  at(1),
		Actor:        "tester",
	}

	sameLoc := base
	sameLoc.ToLocation = sameLoc.FromLocation
	_, err := engine.CompleteTransfer(ctx, sameLoc)
	var ve *ledger.ValidationError
	assert.ErrorAs(t, err, &ve)

	zeroQty := base
	zeroQty.Qty = decimal.Zero
	_, err = engine.CompleteTransfer(ctx, zeroQty)
	assert.ErrorAs(t, err, &ve)

	negQty := base
	negQty.Qty = d(-1)
	_, err = engine.CompleteTransfer(ctx, negQty)
	assert.ErrorAs(t, err, &ve)
}

func TestCompleteTransfer_LockedDestinationRejectsWholeTransfer(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)
	_, err := engine.LockPeriod(ctx, "ITEM-A", "WH-02", at(10), d(0), "COUNT-2024-01", "tester")
	require.NoError(t, err)

	// 移動先が締め期間内なら振替全体が失敗し、出庫側も残らない
	_, err = engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(10),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	var lpe *ledger.LockedPeriodError
	require.ErrorAs(t, err, &lpe)

	from, err := engine.GetBalance(ctx, "ITEM-A", "WH-01", at(31))
	require.NoError(t, err)
	assert.True(t, d(100).Equal(from), "出庫側に部分書き込みが残らないこと")
}

func TestReverseTransfer_RestoresBothBalances(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)

	result, err := engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(30),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	require.NoError(t, err)

	require.NoError(t, engine.ReverseTransfer(ctx, result.TransferRef, "tester"))

	from, err := engine.GetBalance(ctx, "ITEM-A", "WH-01", at(31))
	require.NoError(t, err)
	to, err := engine.GetBalance(ctx, "ITEM-A", "WH-02", at(31))
	require.NoError(t, err)
	assert.True(t, d(100).Equal(from))
	assert.True(t, to.IsZero())

	entries, err := engine.GetEntriesByRef(ctx, result.TransferRef)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReverseTransfer_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.ReverseTransfer(context.Background(), "TR-MISSING", "tester")
	assert.ErrorIs(t, err, ledger.ErrTransferNotFound)
}

func TestReverseTransfer_LockedPeriodRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)
	result, err := engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(30),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	require.NoError(t, err)

	// 振替後に期間を締めると取消もできなくなる
	_, err = engine.LockPeriod(ctx, "ITEM-A", "WH-01", at(10), d(70), "COUNT-2024-01", "tester")
	require.NoError(t, err)

	err = engine.ReverseTransfer(ctx, result.TransferRef, "tester")
	var lpe *ledger.LockedPeriodError
	require.ErrorAs(t, err, &lpe)

	// 両側とも削除されていない
	entries, err := engine.GetEntriesByRef(ctx, result.TransferRef)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReverseTransfer_EditSiblingDirectlyRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 100)
	result, err := engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(30),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	require.NoError(t, err)

	// 振替エントリは移動APIから編集・削除できない
	_, err = engine.EditMovement(ctx, result.Outbound.ID, d(1), decimal.Zero, "tester")
	var pse *ledger.ProtectedSourceError
	assert.ErrorAs(t, err, &pse)

	err = engine.DeleteMovement(ctx, result.Inbound.ID, "tester")
	assert.ErrorAs(t, err, &pse)
}

func TestCompleteTransfer_SamePartitionRoundTrip(t *testing.T) {
	// 同一商品の往復振替（WH-01→WH-02→WH-01）で残高が戻ること
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	seedStock(t, engine, "WH-01", 1, 50)

	_, err := engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-01",
		ToLocation:   "WH-02",
		Qty:          d(20),
		EffectiveAt:  at(5),
		Actor:        "tester",
	})
	require.NoError(t, err)

	_, err = engine.CompleteTransfer(ctx, ledger.Transfer{
		ProductID:    "ITEM-A",
		FromLocation: "WH-02",
		ToLocation:   "WH-01",
		Qty:          d(20),
		EffectiveAt:  at(6),
		Actor:        "tester",
	})
	require.NoError(t, err)

	from, err := engine.GetBalance(ctx, "ITEM-A", "WH-01", at(31))
	require.NoError(t, err)
	to, err := engine.GetBalance(ctx, "ITEM-A", "WH-02", at(31))
	require.NoError(t, err)
	assert.True(t, d(50).Equal(from))
	assert.True(t, to.IsZero())
}
