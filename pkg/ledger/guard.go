package ledger

import (
	"context"
	"time"
)

// Guard decides whether a mutation at a given timestamp is permitted.
// A locked checkpoint closes the period at and before its effective_at;
// protected source types are immutable through the movement API entirely.
// 指定日時での変更可否を判定する。ロック済みチェックポイントはその有効日時
// 以前の期間を締める。保護ソースタイプは移動APIからは常に不変。
type Guard struct {
	store Store
}

// NewGuard creates a new lock guard
// 新しいロックガードを作成
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// AssertMutable returns a LockedPeriodError when a locked entry exists at
// or after the target timestamp in the partition. It runs before every
// insert, and before every edit/delete using the existing entry's
// timestamp, so edits cannot hop over a lock either.
// 対象日時以降にロック済みエントリが存在する場合は LockedPeriodError を返す。
// すべての挿入の前、および既存エントリの日時を用いた編集・削除の前に実行する。
func (g *Guard) AssertMutable(ctx context.Context, productID, locationCode string, at time.Time) error {
	locked, err := g.store.NextLockedEntry(ctx, productID, locationCode, at)
	if err != nil {
		return NewStorageError("next_locked_entry", "チェックポイント検索に失敗しました", err)
	}
	if locked != nil {
		return NewLockedPeriodError(productID, locationCode, locked.EffectiveAt, locked.SourceRef)
	}
	return nil
}

// AssertEditable rejects direct edits and deletes of locked entries and of
// entries owned by a protected workflow.
// ロック済みエントリおよび保護ワークフロー所有エントリの直接編集・削除を拒否する。
func (g *Guard) AssertEditable(e *Entry) error {
	if e.SourceType.Protected() || e.Locked {
		return NewProtectedSourceError(e.ID, e.SourceType)
	}
	return nil
}
