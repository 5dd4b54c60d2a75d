package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Transfer Coordinator: one logical transfer becomes two linked protected
// entries, an outbound at the source location and an inbound at the
// destination, sharing one source reference.
// 振替コーディネーター：1件の論理振替を、参照番号を共有する移動元の出庫
// エントリと移動先の入庫エントリの2件の保護エントリとして記録する。

// CompleteTransfer records both sides of a transfer and propagates each
// partition independently. The entries are protected: they can only be
// removed through ReverseTransfer.
// 振替の両側を記録し、各パーティションを個別に伝播する。作成されるエントリは
// 保護され、ReverseTransfer経由でのみ削除できる。
func (e *Engine) CompleteTransfer(ctx context.Context, tr Transfer) (*TransferResult, error) {
	if err := ValidateProductID(tr.ProductID); err != nil {
		return nil, err
	}
	if err := ValidateLocationCode(tr.FromLocation); err != nil {
		return nil, err
	}
	if err := ValidateLocationCode(tr.ToLocation); err != nil {
		return nil, err
	}
	if tr.FromLocation == tr.ToLocation {
		return nil, NewValidationError("to_location", "移動元と移動先が同じです", tr.ToLocation)
	}
	if !tr.Qty.IsPositive() {
		return nil, NewValidationError("qty", "振替数量は正の値である必要があります", tr.Qty.String())
	}
	if err := ValidateEffectiveAt(tr.EffectiveAt); err != nil {
		return nil, err
	}
	if err := ValidateActor(tr.Actor); err != nil {
		return nil, err
	}
	if tr.TransferRef == "" {
		tr.TransferRef = NewTransferRef()
	}

	src := Partition{ProductID: tr.ProductID, LocationCode: tr.FromLocation}
	dst := Partition{ProductID: tr.ProductID, LocationCode: tr.ToLocation}
	unlock := e.locks.LockPair(src, dst)
	defer unlock()

	result := &TransferResult{TransferRef: tr.TransferRef}
	err := e.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.AcquirePartitionLock(ctx, src); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}
		if err := tx.AcquirePartitionLock(ctx, dst); err != nil {
			return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
		}

		existing, err := tx.EntriesByRef(ctx, tr.TransferRef)
		if err != nil {
			return NewStorageError("entries_by_ref", "参照番号検索に失敗しました", err)
		}
		if len(existing) > 0 {
			return ErrDuplicateTransferRef
		}

		guard := NewGuard(tx)
		if err := guard.AssertMutable(ctx, tr.ProductID, tr.FromLocation, tr.EffectiveAt); err != nil {
			return err
		}
		if err := guard.AssertMutable(ctx, tr.ProductID, tr.ToLocation, tr.EffectiveAt); err != nil {
			return err
		}

		calc := NewCalculator(tx)
		prop := NewPropagator(tx, e.logger)
		now := time.Now()

		// 出庫側（移動元）
		priorOut, err := calc.BalanceAsOf(ctx, tr.ProductID, tr.FromLocation, tr.EffectiveAt)
		if err != nil {
			return err
		}
		outbound := &Entry{
			ProductID:      tr.ProductID,
			LocationCode:   tr.FromLocation,
			EffectiveAt:    tr.EffectiveAt,
			QtyOut:         tr.Qty,
			RunningBalance: priorOut.Sub(tr.Qty),
			SourceType:     SourceTransfer,
			SourceRef:      tr.TransferRef,
			CreatedBy:      tr.Actor,
			UpdatedBy:      tr.Actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, outbound); err != nil {
			return NewStorageError("insert_entry", "出庫エントリ作成に失敗しました", err)
		}
		if _, err := prop.Propagate(ctx, tr.ProductID, tr.FromLocation, tr.EffectiveAt, tr.Actor); err != nil {
			return err
		}

		// 入庫側（移動先）
		priorIn, err := calc.BalanceAsOf(ctx, tr.ProductID, tr.ToLocation, tr.EffectiveAt)
		if err != nil {
			return err
		}
		inbound := &Entry{
			ProductID:      tr.ProductID,
			LocationCode:   tr.ToLocation,
			EffectiveAt:    tr.EffectiveAt,
			QtyIn:          tr.Qty,
			RunningBalance: priorIn.Add(tr.Qty),
			SourceType:     SourceTransfer,
			SourceRef:      tr.TransferRef,
			CreatedBy:      tr.Actor,
			UpdatedBy:      tr.Actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertEntry(ctx, inbound); err != nil {
			return NewStorageError("insert_entry", "入庫エントリ作成に失敗しました", err)
		}
		if _, err := prop.Propagate(ctx, tr.ProductID, tr.ToLocation, tr.EffectiveAt, tr.Actor); err != nil {
			return err
		}

		result.Outbound = outbound
		result.Inbound = inbound
		return nil
	})
	if err != nil {
		return nil, e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("transfer").Inc()
	e.warnNegative(result.Outbound)
	e.logger.Info("拠点間振替完了",
		zap.String("transfer_ref", tr.TransferRef),
		zap.String("product_id", tr.ProductID),
		zap.String("from_location", tr.FromLocation),
		zap.String("to_location", tr.ToLocation),
		zap.String("qty", tr.Qty.String()),
		zap.String("actor", tr.Actor),
	)
	e.publishTransfer(ctx, tr, false)

	return result, nil
}

// ReverseTransfer is the compensating operation for CompleteTransfer: it
// deletes both sibling entries and re-propagates both partitions. The lock
// guard still applies at each sibling's timestamp.
// CompleteTransferの補償操作。兄弟エントリ2件を削除し、両パーティションを
// 再伝播する。ロックガードは各エントリの日時に対して引き続き適用される。
func (e *Engine) ReverseTransfer(ctx context.Context, transferRef, actor string) error {
	if transferRef == "" {
		return NewValidationError("transfer_ref", "振替参照番号が指定されていません", transferRef)
	}
	if err := ValidateActor(actor); err != nil {
		return err
	}

	// パーティションキーを知るための事前取得。確定判定はトランザクション内で再取得して行う
	siblings, err := e.store.EntriesByRef(ctx, transferRef)
	if err != nil {
		return NewStorageError("entries_by_ref", "参照番号検索に失敗しました", err)
	}
	if len(siblings) == 0 {
		return ErrTransferNotFound
	}
	if len(siblings) != 2 {
		return ErrTransferIncomplete
	}

	unlock := e.locks.LockPair(siblings[0].Partition(), siblings[1].Partition())
	defer unlock()

	var reversed Transfer
	err = e.store.RunInTx(ctx, func(tx Store) error {
		siblings, err := tx.EntriesByRef(ctx, transferRef)
		if err != nil {
			return NewStorageError("entries_by_ref", "参照番号検索に失敗しました", err)
		}
		if len(siblings) == 0 {
			return ErrTransferNotFound
		}
		if len(siblings) != 2 {
			return ErrTransferIncomplete
		}

		guard := NewGuard(tx)
		for i := range siblings {
			s := &siblings[i]
			if s.SourceType != SourceTransfer {
				return ErrTransferIncomplete
			}
			if err := tx.AcquirePartitionLock(ctx, s.Partition()); err != nil {
				return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
			}
			if err := guard.AssertMutable(ctx, s.ProductID, s.LocationCode, s.EffectiveAt); err != nil {
				return err
			}
		}

		reversed = Transfer{TransferRef: transferRef, ProductID: siblings[0].ProductID, Actor: actor}
		prop := NewPropagator(tx, e.logger)
		for i := range siblings {
			s := &siblings[i]
			if s.QtyOut.IsPositive() {
				reversed.FromLocation = s.LocationCode
				reversed.Qty = s.QtyOut
			} else {
				reversed.ToLocation = s.LocationCode
			}
			if err := tx.DeleteEntry(ctx, s.ID); err != nil {
				return NewStorageError("delete_entry", "振替エントリ削除に失敗しました", err)
			}
			if _, err := prop.Propagate(ctx, s.ProductID, s.LocationCode, s.EffectiveAt, actor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return e.countRejection(err)
	}

	mutationsTotal.WithLabelValues("reverse_transfer").Inc()
	e.logger.Info("振替取消完了",
		zap.String("transfer_ref", transferRef),
		zap.String("product_id", reversed.ProductID),
		zap.String("from_location", reversed.FromLocation),
		zap.String("to_location", reversed.ToLocation),
		zap.String("actor", actor),
	)
	e.publishTransfer(ctx, reversed, true)

	return nil
}

// publishTransfer publishes a transfer event when a publisher is configured
// publisher設定時に振替イベントを発行
func (e *Engine) publishTransfer(ctx context.Context, tr Transfer, reversed bool) {
	if e.publisher == nil {
		return
	}
	event := TransferCompletedEvent{
		EventID:      NewEventID(),
		TransferRef:  tr.TransferRef,
		ProductID:    tr.ProductID,
		FromLocation: tr.FromLocation,
		ToLocation:   tr.ToLocation,
		Qty:          tr.Qty,
		Reversed:     reversed,
		Actor:        tr.Actor,
		Timestamp:    time.Now(),
	}
	if err := e.publisher.PublishTransferCompleted(ctx, event); err != nil {
		e.logger.Error("イベント発行に失敗しました", zap.Error(err))
	}
}
