package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the ledger engine
// 元帳エンジンのPrometheusメトリクス

var (
	// mutationsTotal counts successful mutations by operation
	// 操作別の成功した変更数
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "成功した元帳変更の件数（操作別）",
	}, []string{"operation"})

	// lockedRejectionsTotal counts mutations rejected by the lock guard
	// ロックガードに拒否された変更数
	lockedRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_locked_period_rejections_total",
		Help: "締め期間により拒否された変更の件数",
	})

	// propagationWritesTotal counts balance repairs written by the propagator
	// 伝播処理が書き込んだ残高修正数
	propagationWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_propagation_writes_total",
		Help: "伝播処理が書き込んだ残高修正の件数",
	})

	// rebuildRepairsTotal counts drifted balances corrected by rebuildAll
	// フルリビルドが修正したドリフト数
	rebuildRepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rebuild_repairs_total",
		Help: "フルリビルドが修正した残高ドリフトの件数",
	})
)
