package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEngine defines the operations exposed to external collaborators
// (forms, import pipelines, transfer workflows, reporting)
// 外部コラボレーター（画面、取込パイプライン、振替ワークフロー、帳票）に公開する操作を定義
type LedgerEngine interface {
	// 移動操作 - Movement operations
	RecordMovement(ctx context.Context, mv Movement) (*Entry, error)
	EditMovement(ctx context.Context, entryID int64, qtyIn, qtyOut decimal.Decimal, actor string) (*Entry, error)
	DeleteMovement(ctx context.Context, entryID int64, actor string) error

	// チェックポイント - Checkpoints
	LockPeriod(ctx context.Context, productID, locationCode string, asOf time.Time, balance decimal.Decimal, sourceRef, actor string) (*Entry, error)

	// 拠点間振替 - Inter-location transfers
	CompleteTransfer(ctx context.Context, tr Transfer) (*TransferResult, error)
	ReverseTransfer(ctx context.Context, transferRef, actor string) error

	// 照会 - Read-only queries
	GetBalance(ctx context.Context, productID, locationCode string, asOf time.Time) (decimal.Decimal, error)
	GetEntries(ctx context.Context, productID, locationCode string, from, to time.Time) ([]Entry, error)
	GetEntriesByRef(ctx context.Context, sourceRef string) ([]Entry, error)

	// 管理操作 - Administrative operations
	RebuildAll(ctx context.Context) (*RebuildReport, error)
}

// Store defines the persistence layer for ledger entries.
// All list methods return entries ordered ascending by (effective_at, id).
// 元帳エントリの永続化層を定義。一覧系メソッドは (effective_at, id) 昇順で返す。
type Store interface {
	// RunInTx executes fn inside one atomic unit of work. The Store passed
	// to fn is transaction-scoped; a non-nil error rolls everything back.
	// Nested calls join the enclosing transaction.
	// fnを1つのアトミックな作業単位として実行。fnに渡されるStoreはトランザクションスコープ。
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	// AcquirePartitionLock takes a storage-level exclusive lock on the
	// partition for the duration of the enclosing transaction.
	// パーティションに対するストレージレベルの排他ロックをトランザクション終了まで取得
	AcquirePartitionLock(ctx context.Context, p Partition) error

	// Entry mutations
	InsertEntry(ctx context.Context, e *Entry) error
	UpdateQuantities(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, id int64) error
	ApplyBalanceUpdates(ctx context.Context, updates []BalanceUpdate) error

	// Entry reads
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	EntriesBefore(ctx context.Context, productID, locationCode string, before time.Time) ([]Entry, error)
	EntriesFrom(ctx context.Context, productID, locationCode string, from time.Time) ([]Entry, error)
	EntriesInRange(ctx context.Context, productID, locationCode string, from, to time.Time) ([]Entry, error)
	EntriesByRef(ctx context.Context, sourceRef string) ([]Entry, error)

	// NextLockedEntry returns the earliest locked entry with
	// effective_at >= at, or (nil, nil) when the period is open.
	// effective_at >= at の最古のロック済みエントリを返す。存在しない場合は (nil, nil)。
	NextLockedEntry(ctx context.Context, productID, locationCode string, at time.Time) (*Entry, error)

	// Partitions lists every distinct (product, location) pair
	// すべての（商品、拠点）ペアを列挙
	Partitions(ctx context.Context) ([]Partition, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher defines the optional hook for publishing ledger events
// 元帳イベント発行のオプションフックを定義
type EventPublisher interface {
	PublishMovementRecorded(ctx context.Context, event MovementRecordedEvent) error
	PublishPeriodLocked(ctx context.Context, event PeriodLockedEvent) error
	PublishTransferCompleted(ctx context.Context, event TransferCompletedEvent) error
}

// MovementRecordedEvent represents a recorded, edited or deleted movement
// 移動の記録・編集・削除イベントを表現
type MovementRecordedEvent struct {
	EventID      string          `json:"event_id"`
	EntryID      int64           `json:"entry_id"`
	ProductID    string          `json:"product_id"`
	LocationCode string          `json:"location_code"`
	Change       string          `json:"change"` // record, edit, delete
	Balance      decimal.Decimal `json:"balance"`
	Actor        string          `json:"actor"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PeriodLockedEvent represents a newly created checkpoint
// 新しく作成されたチェックポイントを表現
type PeriodLockedEvent struct {
	EventID      string          `json:"event_id"`
	EntryID      int64           `json:"entry_id"`
	ProductID    string          `json:"product_id"`
	LocationCode string          `json:"location_code"`
	AsOf         time.Time       `json:"as_of"`
	Balance      decimal.Decimal `json:"balance"`
	SourceRef    string          `json:"source_ref"`
	Actor        string          `json:"actor"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TransferCompletedEvent represents a completed or reversed transfer
// 完了または取消された振替を表現
type TransferCompletedEvent struct {
	EventID      string          `json:"event_id"`
	TransferRef  string          `json:"transfer_ref"`
	ProductID    string          `json:"product_id"`
	FromLocation string          `json:"from_location"`
	ToLocation   string          `json:"to_location"`
	Qty          decimal.Decimal `json:"qty"`
	Reversed     bool            `json:"reversed"`
	Actor        string          `json:"actor"`
	Timestamp    time.Time       `json:"timestamp"`
}
