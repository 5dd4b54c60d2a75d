package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RebuildAll replays every partition's full history from a zero balance,
// rewriting each unlocked entry whose stored balance drifted from the
// recomputed value. Checkpoints keep their stored balances and re-seed the
// accumulation. Drift is corrected silently and logged, never raised.
// Partitions are processed in parallel; each one still takes its own
// serialization scope so the rebuild cannot collide with online mutations.
// 全パーティションの履歴をゼロ残高から再生し、保存残高がドリフトした未ロック
// エントリを書き直す管理用操作。ドリフトは黙って修正してログに残し、エラーに
// しない。パーティション単位で並列処理し、各パーティションは直列化スコープを
// 取得するためオンライン変更と衝突しない。
func (e *Engine) RebuildAll(ctx context.Context) (*RebuildReport, error) {
	start := time.Now()

	partitions, err := e.store.Partitions(ctx)
	if err != nil {
		return nil, NewStorageError("partitions", "パーティション一覧の取得に失敗しました", err)
	}

	repaired := make([]int, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.RebuildParallelism)

	for i, p := range partitions {
		i, p := i, p
		g.Go(func() error {
			unlock := e.locks.Lock(p)
			defer unlock()

			return e.store.RunInTx(gctx, func(tx Store) error {
				if err := tx.AcquirePartitionLock(gctx, p); err != nil {
					return NewStorageError("acquire_partition_lock", "パーティションロック取得に失敗しました", err)
				}
				// 履歴の先頭から伝播 = ゼロ残高からの完全再生
				n, err := NewPropagator(tx, e.logger).Propagate(gctx, p.ProductID, p.LocationCode, time.Time{}, "rebuild")
				if err != nil {
					return err
				}
				repaired[i] = n
				if n > 0 {
					e.logger.Warn("残高ドリフトを修正しました",
						zap.String("product_id", p.ProductID),
						zap.String("location_code", p.LocationCode),
						zap.Int("repaired", n),
					)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RebuildReport{Partitions: len(partitions), Duration: time.Since(start)}
	for _, n := range repaired {
		report.RepairedEntries += n
	}
	rebuildRepairsTotal.Add(float64(report.RepairedEntries))

	e.logger.Info("フルリビルド完了",
		zap.Int("partitions", report.Partitions),
		zap.Int("repaired_entries", report.RepairedEntries),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}
