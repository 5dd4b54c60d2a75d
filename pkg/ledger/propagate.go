package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Propagator repairs the stored balance of every entry after a mutation
// point. It walks forward applying the checkpoint-jump rule and persists a
// new balance only where it differs from the stored one (write
// minimization); locked entries are never overwritten. All repairs for one
// invocation are applied as a single atomic batch.
// 変更点以降の全エントリの保存残高を修復する。チェックポイントジャンプ規則で
// 前方に走査し、保存値と異なる場合のみ書き込む（書き込み最小化）。ロック済み
// エントリは決して上書きしない。1回分の修正は単一のアトミックバッチで適用する。
type Propagator struct {
	store  Store
	logger *zap.Logger
}

// NewPropagator creates a new recalculation propagator
// 新しい再計算伝播処理を作成
func NewPropagator(store Store, logger *zap.Logger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// Propagate recomputes balances for every entry with effective_at >= from
// in the partition, seeding the running total from the history before
// from. Returns the number of entries whose balance was repaired.
// パーティション内の effective_at >= from の全エントリの残高を再計算する。
// 累計は from より前の履歴から初期化する。修正したエントリ数を返す。
func (p *Propagator) Propagate(ctx context.Context, productID, locationCode string, from time.Time, actor string) (int, error) {
	seed, err := NewCalculator(p.store).BalanceAsOf(ctx, productID, locationCode, from)
	if err != nil {
		return 0, err
	}

	entries, err := p.store.EntriesFrom(ctx, productID, locationCode, from)
	if err != nil {
		return 0, NewStorageError("entries_from", "後続エントリの取得に失敗しました", err)
	}

	var updates []BalanceUpdate
	total := seed
	for i := range entries {
		e := &entries[i]
		if e.Locked {
			// チェックポイントは権威値。上書きせず累計をリセット
			total = e.RunningBalance
			continue
		}
		next := total.Add(e.Delta())
		if !next.Equal(e.RunningBalance) {
			updates = append(updates, BalanceUpdate{EntryID: e.ID, Balance: next, UpdatedBy: actor})
		}
		total = next
	}

	if len(updates) > 0 {
		if err := p.store.ApplyBalanceUpdates(ctx, updates); err != nil {
			return 0, NewStorageError("apply_balance_updates", "残高修正の適用に失敗しました", err)
		}
		propagationWritesTotal.Add(float64(len(updates)))
	}

	p.logger.Debug("残高伝播完了",
		zap.String("product_id", productID),
		zap.String("location_code", locationCode),
		zap.Time("from", from),
		zap.Int("scanned", len(entries)),
		zap.Int("repaired", len(updates)),
	)

	return len(updates), nil
}
