package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
)

// Handlers holds HTTP handlers for the ledger API
// 元帳API用のHTTPハンドラーを保持
type Handlers struct {
	engine ledger.LedgerEngine
	store  ledger.Store
	logger *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(engine ledger.LedgerEngine, store ledger.Store, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// EditMovementRequest represents request to edit a movement's quantities
// 在庫移動の数量編集リクエストを表現
type EditMovementRequest struct {
	QtyIn  decimal.Decimal `json:"qty_in"`
	QtyOut decimal.Decimal `json:"qty_out"`
}

// LockPeriodRequest represents request to lock a partition's period
// パーティションの期間ロックリクエストを表現
type LockPeriodRequest struct {
	ProductID    string          `json:"product_id"`
	LocationCode string          `json:"location_code"`
	AsOf         time.Time       `json:"as_of"`
	Balance      decimal.Decimal `json:"balance"`
	SourceRef    string          `json:"source_ref"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
			"service":   "stock-ledger",
		},
	})
}

// RecordMovement handles record movement requests
// 在庫移動記録リクエストを処理
func (h *Handlers) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var mv ledger.Movement
	if err := json.NewDecoder(r.Body).Decode(&mv); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if mv.Actor == "" {
		mv.Actor = actorFrom(r)
	}

	entry, err := h.engine.RecordMovement(r.Context(), mv)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, entry)
}

// EditMovement handles edit movement requests
// 在庫移動編集リクエストを処理
func (h *Handlers) EditMovement(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.entryID(w, r)
	if !ok {
		return
	}

	var req EditMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	entry, err := h.engine.EditMovement(r.Context(), entryID, req.QtyIn, req.QtyOut, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, entry)
}

// DeleteMovement handles delete movement requests
// 在庫移動削除リクエストを処理
func (h *Handlers) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.entryID(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteMovement(r.Context(), entryID, actorFrom(r)); err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, map[string]string{
		"message": "在庫移動を削除しました",
	})
}

// LockPeriod handles lock period requests
// 期間ロックリクエストを処理
func (h *Handlers) LockPeriod(w http.ResponseWriter, r *http.Request) {
	var req LockPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	entry, err := h.engine.LockPeriod(r.Context(), req.ProductID, req.LocationCode, req.AsOf, req.Balance, req.SourceRef, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, entry)
}

// CompleteTransfer handles transfer requests
// 拠点間振替リクエストを処理
func (h *Handlers) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var tr ledger.Transfer
	if err := json.NewDecoder(r.Body).Decode(&tr); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if tr.Actor == "" {
		tr.Actor = actorFrom(r)
	}

	result, err := h.engine.CompleteTransfer(r.Context(), tr)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, result)
}

// ReverseTransfer handles reverse transfer requests
// 振替取消リクエストを処理
func (h *Handlers) ReverseTransfer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	transferRef := vars["transferRef"]

	if err := h.engine.ReverseTransfer(r.Context(), transferRef, actorFrom(r)); err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, map[string]string{
		"message":      "振替を取り消しました",
		"transfer_ref": transferRef,
	})
}

// GetBalance handles balance query requests
// 残高照会リクエストを処理
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID := vars["productId"]
	locationCode := vars["locationCode"]

	asOf := time.Now()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "as_ofはRFC3339形式で指定してください")
			return
		}
		asOf = parsed
	}

	balance, err := h.engine.GetBalance(r.Context(), productID, locationCode, asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"product_id":    productID,
		"location_code": locationCode,
		"as_of":         asOf,
		"balance":       balance,
	})
}

// GetEntries handles entry history requests
// エントリ履歴照会リクエストを処理
func (h *Handlers) GetEntries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID := vars["productId"]
	locationCode := vars["locationCode"]

	var from, to time.Time
	if s := r.URL.Query().Get("from"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "fromはRFC3339形式で指定してください")
			return
		}
		from = parsed
	}
	if s := r.URL.Query().Get("to"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "toはRFC3339形式で指定してください")
			return
		}
		to = parsed
	}

	entries, err := h.engine.GetEntries(r.Context(), productID, locationCode, from, to)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, entries)
}

// GetEntriesByRef handles entry lookup by source reference
// 参照番号によるエントリ検索を処理
func (h *Handlers) GetEntriesByRef(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sourceRef := vars["sourceRef"]

	entries, err := h.engine.GetEntriesByRef(r.Context(), sourceRef)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, entries)
}

// RebuildAll handles administrative full rebuild requests
// 管理用フルリビルドリクエストを処理
func (h *Handlers) RebuildAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RebuildAll(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.sendSuccess(w, report)
}

// ヘルパーメソッド

// actorFrom extracts the audit actor from the X-Actor header
// X-Actorヘッダーから監査用の操作者を取得
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api_user"
}

// entryID parses the entryId path variable
// entryIdパス変数を解析
func (h *Handlers) entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["entryId"], 10, 64)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なエントリIDです")
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to HTTP status codes
// ドメインエラーをHTTPステータスコードにマッピング
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	var lockedErr *ledger.LockedPeriodError
	var protectedErr *ledger.ProtectedSourceError
	var validationErr *ledger.ValidationError

	switch {
	case errors.As(err, &validationErr):
		h.sendError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lockedErr), errors.As(err, &protectedErr):
		h.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrDuplicateTransferRef), errors.Is(err, ledger.ErrTransferIncomplete):
		h.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrEntryNotFound), errors.Is(err, ledger.ErrTransferNotFound):
		h.sendError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(err))
	}
}
