package ledger

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// 識別子は英数字、ハイフン、アンダースコアのみ許可
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProductID 商品IDの形式をバリデーション
func ValidateProductID(productID string) error {
	if productID == "" {
		return NewValidationError("product_id", "商品IDが空です", productID)
	}
	if len(productID) > 255 {
		return NewValidationError("product_id", "商品IDが長すぎます", productID)
	}
	if !validIDPattern.MatchString(productID) {
		return NewValidationError("product_id", "商品IDに無効な文字が含まれています", productID)
	}
	return nil
}

// ValidateLocationCode 拠点コードの形式をバリデーション
func ValidateLocationCode(locationCode string) error {
	if locationCode == "" {
		return NewValidationError("location_code", "拠点コードが空です", locationCode)
	}
	if len(locationCode) > 64 {
		return NewValidationError("location_code", "拠点コードが長すぎます", locationCode)
	}
	if !validIDPattern.MatchString(locationCode) {
		return NewValidationError("location_code", "拠点コードに無効な文字が含まれています", locationCode)
	}
	return nil
}

// ValidateActor 操作者をバリデーション（監査列に必須）
func ValidateActor(actor string) error {
	if actor == "" {
		return NewValidationError("actor", "操作者が指定されていません", actor)
	}
	if len(actor) > 255 {
		return NewValidationError("actor", "操作者が長すぎます", actor)
	}
	return nil
}

// ValidateQuantities validates a movement's quantity pair: both must be
// non-negative and at least one non-zero
// 数量ペアをバリデーション。両方とも非負で、少なくとも一方が非ゼロであること
func ValidateQuantities(qtyIn, qtyOut decimal.Decimal) error {
	if qtyIn.IsNegative() {
		return NewValidationError("qty_in", "入庫数量は負にできません", qtyIn.String())
	}
	if qtyOut.IsNegative() {
		return NewValidationError("qty_out", "出庫数量は負にできません", qtyOut.String())
	}
	if qtyIn.IsZero() && qtyOut.IsZero() {
		return NewValidationError("quantity", "入庫・出庫数量の両方がゼロです", "0")
	}
	return nil
}

// ValidateEffectiveAt 有効日時をバリデーション
func ValidateEffectiveAt(at time.Time) error {
	if at.IsZero() {
		return NewValidationError("effective_at", "有効日時が指定されていません", "")
	}
	return nil
}
