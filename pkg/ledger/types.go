// Package ledger provides the warehouse ledger engine: a chronological
// log of stock movements per (product, location) partition with
// checkpoint-aware running balances.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType identifies the workflow that created a ledger entry
// 元帳エントリを作成したワークフローを識別
type SourceType string

const (
	SourceManual          SourceType = "manual"            // 手動入力
	SourcePurchaseReceipt SourceType = "purchase_receipt"  // 仕入受入
	SourceTransfer        SourceType = "transfer"          // 拠点間振替
	SourceStockCount      SourceType = "stock_count_batch" // 棚卸バッチ
)

// Protected reports whether entries of this source type are immutable
// through the normal movement API, regardless of the locked flag
// このソースタイプのエントリが通常の移動APIから不変かどうかを判定
func (s SourceType) Protected() bool {
	switch s {
	case SourcePurchaseReceipt, SourceTransfer, SourceStockCount:
		return true
	}
	return false
}

// Valid reports whether the source type is one of the known values
// ソースタイプが既知の値かどうかを判定
func (s SourceType) Valid() bool {
	switch s {
	case SourceManual, SourcePurchaseReceipt, SourceTransfer, SourceStockCount:
		return true
	}
	return false
}

// Partition is the (product, location) key scoping one ledger's ordering
// 1つの元帳の順序を決める（商品、拠点）キー
type Partition struct {
	ProductID    string `json:"product_id" db:"product_id"`
	LocationCode string `json:"location_code" db:"location_code"`
}

func (p Partition) String() string {
	return p.ProductID + "@" + p.LocationCode
}

// Entry is a single stock movement in the warehouse ledger
// 倉庫元帳の1件の在庫移動を表現
type Entry struct {
	ID             int64           `json:"id" db:"id"`                           // 連番ID（同時刻内のタイブレーカー）
	ProductID      string          `json:"product_id" db:"product_id"`           // 商品ID
	LocationCode   string          `json:"location_code" db:"location_code"`     // 拠点コード
	EffectiveAt    time.Time       `json:"effective_at" db:"effective_at"`       // 有効日時（過去日付の登録可）
	QtyIn          decimal.Decimal `json:"qty_in" db:"qty_in"`                   // 入庫数量
	QtyOut         decimal.Decimal `json:"qty_out" db:"qty_out"`                 // 出庫数量
	RunningBalance decimal.Decimal `json:"running_balance" db:"running_balance"` // このエントリ適用後の残高
	Locked         bool            `json:"locked" db:"locked"`                   // チェックポイント（残高は再計算で上書き不可）
	SourceType     SourceType      `json:"source_type" db:"source_type"`         // 作成元ワークフロー
	SourceRef      string          `json:"source_ref" db:"source_ref"`           // 相関参照番号（振替番号など）
	CreatedBy      string          `json:"created_by" db:"created_by"`           // 作成者
	UpdatedBy      string          `json:"updated_by" db:"updated_by"`           // 更新者
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`           // 作成日時
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`           // 更新日時
}

// Delta returns qty_in - qty_out for this entry
// このエントリの qty_in - qty_out を返す
func (e *Entry) Delta() decimal.Decimal {
	return e.QtyIn.Sub(e.QtyOut)
}

// Partition returns the entry's partition key
// エントリのパーティションキーを返す
func (e *Entry) Partition() Partition {
	return Partition{ProductID: e.ProductID, LocationCode: e.LocationCode}
}

// Movement is a request to record one stock movement
// 1件の在庫移動を記録するリクエスト
type Movement struct {
	ProductID    string          `json:"product_id"`
	LocationCode string          `json:"location_code"`
	EffectiveAt  time.Time       `json:"effective_at"`
	QtyIn        decimal.Decimal `json:"qty_in"`
	QtyOut       decimal.Decimal `json:"qty_out"`
	SourceType   SourceType      `json:"source_type"` // 空の場合は manual
	SourceRef    string          `json:"source_ref"`
	Actor        string          `json:"actor"` // 監査用の操作者（必須、明示的に渡す）
}

// Transfer is a request to move stock between two locations
// 2拠点間で在庫を移動するリクエスト
type Transfer struct {
	TransferRef  string          `json:"transfer_ref"` // 空の場合は自動採番
	ProductID    string          `json:"product_id"`
	FromLocation string          `json:"from_location"`
	ToLocation   string          `json:"to_location"`
	Qty          decimal.Decimal `json:"qty"`
	EffectiveAt  time.Time       `json:"effective_at"`
	Actor        string          `json:"actor"`
}

// TransferResult holds the two linked entries created for a transfer
// 振替で作成された2件の連動エントリを保持
type TransferResult struct {
	TransferRef string `json:"transfer_ref"`
	Outbound    *Entry `json:"outbound"` // 出庫側（移動元）
	Inbound     *Entry `json:"inbound"`  // 入庫側（移動先）
}

// BalanceUpdate is one balance repair written by the propagator
// 伝播処理が書き込む1件の残高修正
type BalanceUpdate struct {
	EntryID   int64
	Balance   decimal.Decimal
	UpdatedBy string
}

// RebuildReport summarizes a full administrative rebuild
// 管理用フルリビルドの結果サマリ
type RebuildReport struct {
	Partitions      int           `json:"partitions"`       // 処理したパーティション数
	RepairedEntries int           `json:"repaired_entries"` // 残高を修正したエントリ数
	Duration        time.Duration `json:"duration"`         // 所要時間
}

// NewTransferRef generates a new transfer reference number
// 新しい振替参照番号を生成
func NewTransferRef() string {
	return "TR-" + uuid.New().String()
}

// NewEventID generates a new event ID
// 新しいイベントIDを生成
func NewEventID() string {
	return uuid.New().String()
}
