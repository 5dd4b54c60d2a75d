package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Common ledger errors
// 共通の元帳エラー定義

var (
	// ErrEntryNotFound is returned when a ledger entry doesn't exist
	// 元帳エントリが存在しない場合のエラー
	ErrEntryNotFound = errors.New("元帳エントリが見つかりません")

	// ErrTransferNotFound is returned when no entries match a transfer reference
	// 振替参照番号に一致するエントリが存在しない場合のエラー
	ErrTransferNotFound = errors.New("振替が見つかりません")

	// ErrTransferIncomplete is returned when a transfer is missing one of its two sides
	// 振替の片側エントリが欠けている場合のエラー
	ErrTransferIncomplete = errors.New("振替エントリの組が不完全です")

	// ErrDuplicateTransferRef is returned when a transfer reference is already in use
	// 振替参照番号が既に使用されている場合のエラー
	ErrDuplicateTransferRef = errors.New("振替参照番号は既に使用されています")
)

// LockedPeriodError is returned when a mutation falls inside a closed period:
// a locked checkpoint exists at or after the mutation timestamp
// 締め期間内の変更を拒否するエラー（変更日時以降にロック済みチェックポイントが存在）
type LockedPeriodError struct {
	ProductID     string    `json:"product_id"`
	LocationCode  string    `json:"location_code"`
	LockBoundary  time.Time `json:"lock_boundary"`   // チェックポイントの有効日時
	LockSourceRef string    `json:"lock_source_ref"` // チェックポイントの参照番号
}

func (e LockedPeriodError) Error() string {
	return fmt.Sprintf("締め期間エラー [%s@%s]: %s 時点のチェックポイント（参照: %s）以前は変更できません",
		e.ProductID, e.LocationCode, e.LockBoundary.Format(time.RFC3339), e.LockSourceRef)
}

// ProtectedSourceError is returned when editing or deleting a protected or locked entry
// 保護されたエントリまたはロック済みエントリの編集・削除を拒否するエラー
type ProtectedSourceError struct {
	EntryID    int64      `json:"entry_id"`
	SourceType SourceType `json:"source_type"`
}

func (e ProtectedSourceError) Error() string {
	return fmt.Sprintf("保護ソースエラー [entry=%d]: source_type=%s のエントリは移動APIから変更できません", e.EntryID, e.SourceType)
}

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewLockedPeriodError creates a new locked period error
// 新しい締め期間エラーを作成
func NewLockedPeriodError(productID, locationCode string, boundary time.Time, sourceRef string) *LockedPeriodError {
	return &LockedPeriodError{
		ProductID:     productID,
		LocationCode:  locationCode,
		LockBoundary:  boundary,
		LockSourceRef: sourceRef,
	}
}

// NewProtectedSourceError creates a new protected source error
// 新しい保護ソースエラーを作成
func NewProtectedSourceError(entryID int64, sourceType SourceType) *ProtectedSourceError {
	return &ProtectedSourceError{
		EntryID:    entryID,
		SourceType: sourceType,
	}
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
