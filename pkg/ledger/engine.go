package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine implements the LedgerEngine interface. Every mutation runs inside
// one per-partition critical section (in-process keyed mutex plus a
// storage-level partition lock) covering guard check, persist and
// propagation, so concurrent mutations never repair stale state.
// LedgerEngineインターフェースの実装。すべての変更はパーティション単位の
// クリティカルセクション（プロセス内キー付きミューテックス＋ストレージレベルの
// パーティションロック）内で、ガード検査・永続化・伝播までを実行する。
type Engine struct {
	store     Store
	publisher EventPublisher
	logger    *zap.Logger
	config    *Config
	locks     *partitionLocks
}

var _ LedgerEngine = (*Engine)(nil)

// Config holds configuration for the ledger engine
// 元帳エンジンの設定を保持
type Config struct {
	RebuildParallelism  int  `yaml:"rebuild_parallelism"`   // フルリビルドの並列度
	WarnNegativeBalance bool `yaml:"warn_negative_balance"` // 残高が負になった場合に警告ログを出す
}

// NewEngine creates a new ledger engine. publisher may be nil.
// 新しい元帳エンジンを作成。publisherはnil可。
func NewEngine(store Store, publisher EventPublisher, logger *zap.Logger, config *Config) *Engine {
	if config == nil {
		config = &Config{
			RebuildParallelism:  4,
			WarnNegativeBalance: true,
		}
	}
	if config.RebuildParallelism <= 0 {
		config.RebuildParallelism = 1
	}

	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		config:    config,
		locks:     newPartitionLocks(),
	}
}

// RecordMovement validates and persists one stock movement, then repairs
// every later balance in the partition. Nothing is persisted when the
// guard or validation fails.
// 1件の在庫移動を検証・永続化し、パーティション内の後続残高を修復する。
// ガードまたはバリデーションに失敗した場合は何も永続化しない。
func (e *Engine) RecordMovement(ctx context.Context, mv Movement) (*Entry, error) {
	if mv.SourceType == "" {
		mv.SourceType = SourceManual
	}
	if !mv.SourceType.Valid() {
		return nil, NewValidationError("source_type", "未知のソースタイプです", string(mv.SourceType))
	}
	if mv.SourceType == SourceTransfer {
		// 振替エントリはTransfer Coordinatorのみが作成する
		return nil, NewValidationError("source_type", "振替エントリは振替ワークフローからのみ作成できます", string(mv.SourceType))
	}
	if err := e.validatePartition(mv.ProductID, mv.LocationCode); err != nil {
		return nil, err
	}
	if err := ValidateEffectiveAt(mv.EffectiveAt); err != nil {
		return nil, err
	}
	if err := ValidateQuantities(mv.QtyIn, mv.QtyOut); err != nil {
		return nil, err
	}
	if err := ValidateActor(mv.Actor); err != nil {
		return nil, err
	}

	p := Partition{ProductID: mv.ProductID, LocationCode: mv.LocationCode}
	unlock := e.locks.Lock(p)
	defer unlock()

	var entry *Entry
	err := e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.AcquirePartitionLock(ctx, p); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}
		if err := NewGuard(tx).AssertMutable(ctx, mv.ProductID, mv.LocationCode, mv.EffectiveAt); err != nil {
			return err
		}

		prior, err := NewCalculator(tx).BalanceAsOf(ctx, mv.ProductID, mv.LocationCode, mv.EffectiveAt)
		if err != nil {
			return err
		}

		now := time.Now()
		entry = &Entry{
			ProductID:      mv.ProductID,
			LocationCode:   mv.LocationCode,
			EffectiveAt:    mv.EffectiveAt,
			QtyIn:          mv.QtyIn,
			QtyOut:         mv.QtyOut,
			RunningBalance: prior.Add(mv.QtyIn).Sub(mv.QtyOut),
			SourceType:     mv.SourceType,
			SourceRef:      mv.SourceRef,
			CreatedBy:      mv.Actor,
			UpdatedBy:      mv.Actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return NewStorageError("insert_entry", "エントリ作成に失敗しました", err)
		}

		// 新規エントリは既存の後続エントリより過去日付の可能性があるため常に伝播
		if _, err := NewPropagator(tx, e.logger).Propagate(ctx, mv.ProductID, mv.LocationCode, mv.EffectiveAt, mv.Actor); err != nil {
			return err
		}

		// 同時刻の既存エントリがあると伝播が自エントリの残高も修正するため再取得
		entry, err = tx.GetEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return nil, e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("record").Inc()
	e.warnNegative(entry)
	e.logger.Info("在庫移動記録完了",
		zap.Int64("entry_id", entry.ID),
		zap.String("product_id", entry.ProductID),
		zap.String("location_code", entry.LocationCode),
		zap.Time("effective_at", entry.EffectiveAt),
		zap.String("qty_in", entry.QtyIn.String()),
		zap.String("qty_out", entry.QtyOut.String()),
		zap.String("balance", entry.RunningBalance.String()),
		zap.String("actor", mv.Actor),
	)
	e.publishMovement(ctx, entry, "record", mv.Actor)

	return entry, nil
}

// EditMovement updates an unlocked, unprotected entry's quantities and
// repairs every later balance. The guard runs against the entry's own
// timestamp so an edit cannot reach inside a closed period.
// 未ロック・非保護エントリの数量を更新し、後続残高を修復する。ガードは
// エントリ自身の日時に対して実行され、締め期間内の編集はできない。
func (e *Engine) EditMovement(ctx context.Context, entryID int64, qtyIn, qtyOut decimal.Decimal, actor string) (*Entry, error) {
	if err := ValidateQuantities(qtyIn, qtyOut); err != nil {
		return nil, err
	}
	if err := ValidateActor(actor); err != nil {
		return nil, err
	}

	// パーティションキーを知るための事前取得。確定判定はトランザクション内で再取得して行う
	existing, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(existing.Partition())
	defer unlock()

	var entry *Entry
	err = e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.AcquirePartitionLock(ctx, existing.Partition()); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}
		cur, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		guard := NewGuard(tx)
		if err := guard.AssertEditable(cur); err != nil {
			return err
		}
		if err := guard.AssertMutable(ctx, cur.ProductID, cur.LocationCode, cur.EffectiveAt); err != nil {
			return err
		}

		cur.QtyIn = qtyIn
		cur.QtyOut = qtyOut
		cur.UpdatedBy = actor
		cur.UpdatedAt = time.Now()
		if err := tx.UpdateQuantities(ctx, cur); err != nil {
			return NewStorageError("update_quantities", "数量更新に失敗しました", err)
		}

		// 伝播が編集対象自身の残高も再計算して書き込む
		if _, err := NewPropagator(tx, e.logger).Propagate(ctx, cur.ProductID, cur.LocationCode, cur.EffectiveAt, actor); err != nil {
			return err
		}

		entry, err = tx.GetEntry(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("edit").Inc()
	e.warnNegative(entry)
	e.logger.Info("在庫移動編集完了",
		zap.Int64("entry_id", entry.ID),
		zap.String("product_id", entry.ProductID),
		zap.String("location_code", entry.LocationCode),
		zap.String("qty_in", entry.QtyIn.String()),
		zap.String("qty_out", entry.QtyOut.String()),
		zap.String("balance", entry.RunningBalance.String()),
		zap.String("actor", actor),
	)
	e.publishMovement(ctx, entry, "edit", actor)

	return entry, nil
}

// DeleteMovement removes an unlocked, unprotected entry and repairs every
// balance after its former timestamp using the remaining entries.
// 未ロック・非保護エントリを削除し、残存エントリで旧日時以降の残高を修復する。
func (e *Engine) DeleteMovement(ctx context.Context, entryID int64, actor string) error {
	if err := ValidateActor(actor); err != nil {
		return err
	}

	existing, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(existing.Partition())
	defer unlock()

	var deleted Entry
	err = e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.AcquirePartitionLock(ctx, existing.Partition()); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}
		cur, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		guard := NewGuard(tx)
		if err := guard.AssertEditable(cur); err != nil {
			return err
		}
		if err := guard.AssertMutable(ctx, cur.ProductID, cur.LocationCode, cur.EffectiveAt); err != nil {
			return err
		}

		deleted = *cur
		if err := tx.DeleteEntry(ctx, entryID); err != nil {
			return NewStorageError("delete_entry", "エントリ削除に失敗しました", err)
		}

		_, err = NewPropagator(tx, e.logger).Propagate(ctx, cur.ProductID, cur.LocationCode, cur.EffectiveAt, actor)
		return err
	})
	if err != nil {
		return e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("delete").Inc()
	e.logger.Info("在庫移動削除完了",
		zap.Int64("entry_id", deleted.ID),
		zap.String("product_id", deleted.ProductID),
		zap.String("location_code", deleted.LocationCode),
		zap.Time("effective_at", deleted.EffectiveAt),
		zap.String("actor", actor),
	)
	e.publishMovement(ctx, &deleted, "delete", actor)

	return nil
}

// LockPeriod creates an immutable checkpoint entry whose stored balance is
// authoritative (typically from a physical stock count). Fails when a
// locked entry already exists at or after asOf. Later entries are
// re-propagated so they re-seed from the new checkpoint.
// 権威残高を持つ不変のチェックポイントエントリを作成する（通常は実地棚卸由来）。
// asOf 以降にロック済みエントリが既に存在する場合は失敗する。後続エントリは
// 新チェックポイントから再シードされるよう再伝播する。
func (e *Engine) LockPeriod(ctx context.Context, productID, locationCode string, asOf time.Time, balance decimal.Decimal, sourceRef, actor string) (*Entry, error) {
	if err := e.validatePartition(productID, locationCode); err != nil {
		return nil, err
	}
	if err := ValidateEffectiveAt(asOf); err != nil {
		return nil, err
	}
	if sourceRef == "" {
		return nil, NewValidationError("source_ref", "チェックポイントの参照番号が指定されていません", sourceRef)
	}
	if err := ValidateActor(actor); err != nil {
		return nil, err
	}

	p := Partition{ProductID: productID, LocationCode: locationCode}
	unlock := e.locks.Lock(p)
	defer unlock()

	var entry *Entry
	err := e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.AcquirePartitionLock(ctx, p); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}
		conflict, err := tx.NextLockedEntry(ctx, productID, locationCode, asOf)
		if err != nil {
			return NewStorageError("next_locked_entry", "チェックポイント検索に失敗しました", err)
		}
		if conflict != nil {
			return NewLockedPeriodError(productID, locationCode, conflict.EffectiveAt, conflict.SourceRef)
		}

		now := time.Now()
		entry = &Entry{
			ProductID:      productID,
			LocationCode:   locationCode,
			EffectiveAt:    asOf,
			QtyIn:          decimal.Zero,
			QtyOut:         decimal.Zero,
			RunningBalance: balance,
			Locked:         true,
			SourceType:     SourceStockCount,
			SourceRef:      sourceRef,
			CreatedBy:      actor,
			UpdatedBy:      actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return NewStorageError("insert_entry", "チェックポイント作成に失敗しました", err)
		}

		_, err = NewPropagator(tx, e.logger).Propagate(ctx, productID, locationCode, asOf, actor)
		return err
	})
	if err != nil {
		return nil, e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("lock_period").Inc()
	e.logger.Info("期間締め完了",
		zap.Int64("entry_id", entry.ID),
		zap.String("product_id", productID),
		zap.String("location_code", locationCode),
		zap.Time("as_of", asOf),
		zap.String("balance", balance.String()),
		zap.String("source_ref", sourceRef),
		zap.String("actor", actor),
	)
	if e.publisher != nil {
		event := PeriodLockedEvent{
			EventID:      NewEventID(),
			EntryID:      entry.ID,
			ProductID:    productID,
			LocationCode: locationCode,
			AsOf:         asOf,
			Balance:      balance,
			SourceRef:    sourceRef,
			Actor:        actor,
			Timestamp:    time.Now(),
		}
		if err := e.publisher.PublishPeriodLocked(ctx, event); err != nil {
			e.logger.Error("イベント発行に失敗しました", zap.Error(err))
		}
	}

	return entry, nil
}

// GetBalance returns the balance as of a timestamp. Read-only; does not
// block on in-flight writes.
// 指定日時時点の残高を返す。読み取り専用で、進行中の書き込みをブロックしない。
func (e *Engine) GetBalance(ctx context.Context, productID, locationCode string, asOf time.Time) (decimal.Decimal, error) {
	if err := e.validatePartition(productID, locationCode); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateEffectiveAt(asOf); err != nil {
		return decimal.Zero, err
	}
	return NewCalculator(e.store).BalanceAsOf(ctx, productID, locationCode, asOf)
}

// GetEntries returns a partition's entries within [from, to] in ledger
// order. A zero from means the beginning of history, a zero to no upper
// bound.
// パーティションの [from, to] 範囲のエントリを元帳順で返す。fromゼロ値は履歴の
// 先頭、toゼロ値は上限なし。
func (e *Engine) GetEntries(ctx context.Context, productID, locationCode string, from, to time.Time) ([]Entry, error) {
	if err := e.validatePartition(productID, locationCode); err != nil {
		return nil, err
	}
	entries, err := e.store.EntriesInRange(ctx, productID, locationCode, from, to)
	if err != nil {
		return nil, NewStorageError("entries_in_range", "エントリ履歴の取得に失敗しました", err)
	}
	return entries, nil
}

// GetEntriesByRef returns every entry sharing a source reference (e.g. the
// two sides of a transfer)
// 参照番号を共有する全エントリを返す（振替の両側など）
func (e *Engine) GetEntriesByRef(ctx context.Context, sourceRef string) ([]Entry, error) {
	if sourceRef == "" {
		return nil, NewValidationError("source_ref", "参照番号が指定されていません", sourceRef)
	}
	entries, err := e.store.EntriesByRef(ctx, sourceRef)
	if err != nil {
		return nil, NewStorageError("entries_by_ref", "参照番号検索に失敗しました", err)
	}
	return entries, nil
}

// ヘルパーメソッド

func (e *Engine) validatePartition(productID, locationCode string) error {
	if err := ValidateProductID(productID); err != nil {
		return err
	}
	return ValidateLocationCode(locationCode)
}

// countRejection increments the rejection counter for lock guard failures
// ロックガード拒否のカウンターを加算
func (e *Engine) countRejection(err error) error {
	var lpe *LockedPeriodError
	if errors.As(err, &lpe) {
		lockedRejectionsTotal.Inc()
	}
	return err
}

// warnNegative logs when an entry's balance has gone below zero
// エントリの残高が負になった場合に警告ログを出す
func (e *Engine) warnNegative(entry *Entry) {
	if e.config.WarnNegativeBalance && entry != nil && entry.RunningBalance.IsNegative() {
		e.logger.Warn("残高が負になっています",
			zap.Int64("entry_id", entry.ID),
			zap.String("product_id", entry.ProductID),
			zap.String("location_code", entry.LocationCode),
			zap.String("balance", entry.RunningBalance.String()),
		)
	}
}

// publishMovement publishes a movement event when a publisher is configured
// publisher設定時に移動イベントを発行
func (e *Engine) publishMovement(ctx context.Context, entry *Entry, change, actor string) {
	if e.publisher == nil {
		return
	}
	event := MovementRecordedEvent{
		EventID:      NewEventID(),
		EntryID:      entry.ID,
		ProductID:    entry.ProductID,
		LocationCode: entry.LocationCode,
		Change:       change,
		Balance:      entry.RunningBalance,
		Actor:        actor,
		Timestamp:    time.Now(),
	}
	if err := e.publisher.PublishMovementRecorded(ctx, event); err != nil {
		e.logger.Error("イベント発行に失敗しました", zap.Error(err))
	}
}
