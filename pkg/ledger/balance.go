package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Calculator computes running balances for a partition using the
// checkpoint-jump rule: walking the ordered history, a locked entry resets
// the running total to its stored balance, an unlocked entry advances it
// by qty_in - qty_out.
// チェックポイントジャンプ規則で残高を計算する。ロック済みエントリで累計をその
// 保存残高にリセットし、未ロックエントリで qty_in - qty_out を加算する。
type Calculator struct {
	store Store
}

// NewCalculator creates a new balance calculator
// 新しい残高計算機を作成
func NewCalculator(store Store) *Calculator {
	return &Calculator{store: store}
}

// BalanceAsOf returns the balance a new entry at asOf would be inserted
// into: the accumulation over all entries with effective_at < asOf.
// Zero when nothing precedes asOf. No side effects.
// asOf 時点に新規エントリを挿入する際の直前残高を返す。先行エントリがなければゼロ。
func (c *Calculator) BalanceAsOf(ctx context.Context, productID, locationCode string, asOf time.Time) (decimal.Decimal, error) {
	entries, err := c.store.EntriesBefore(ctx, productID, locationCode, asOf)
	if err != nil {
		return decimal.Zero, NewStorageError("entries_before", "先行エントリの取得に失敗しました", err)
	}
	return Accumulate(decimal.Zero, entries), nil
}

// Accumulate applies the checkpoint-jump rule over entries already ordered
// by (effective_at, id) and returns the final running total.
// (effective_at, id) 順のエントリ列にチェックポイントジャンプ規則を適用して累計を返す。
func Accumulate(seed decimal.Decimal, entries []Entry) decimal.Decimal {
	total := seed
	for i := range entries {
		e := &entries[i]
		if e.Locked {
			// ロック済み残高が権威値。それ以前の累計は破棄
			total = e.RunningBalance
			continue
		}
		total = total.Add(e.Delta())
	}
	return total
}
