// Package storage provides Store implementations for the ledger engine:
// a PostgreSQL store for production and an in-memory store for tests and
// examples.
// 元帳エンジンのStore実装を提供。本番用のPostgreSQLストアと、テスト・
// サンプル用のインメモリストア。
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
)

// MemoryStore is an in-memory Store implementation. RunInTx takes a
// snapshot of the whole state and restores it when the callback fails, so
// the atomicity contract matches the PostgreSQL store.
// インメモリのStore実装。RunInTxは全状態のスナップショットを取り、コールバック
// 失敗時に復元するため、アトミック性の契約はPostgreSQLストアと一致する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64]ledger.Entry
	nextID  int64
}

var _ ledger.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
// 空のインメモリストアを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]ledger.Entry)}
}

// RunInTx executes fn atomically under the store mutex
// ストアのミューテックス下でfnをアトミックに実行
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]ledger.Entry, len(s.entries))
	for id, e := range s.entries {
		snapshot[id] = e
	}
	snapID := s.nextID

	if err := fn(&memTx{store: s}); err != nil {
		s.entries = snapshot
		s.nextID = snapID
		return err
	}
	return nil
}

// AcquirePartitionLock is a no-op: the store mutex already serializes
// パーティションロックは不要（ストアのミューテックスが直列化済み）
func (s *MemoryStore) AcquirePartitionLock(ctx context.Context, p ledger.Partition) error {
	return nil
}

func (s *MemoryStore) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEntry(e)
}

func (s *MemoryStore) GetEntry(ctx context.Context, id int64) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEntry(id)
}

func (s *MemoryStore) UpdateQuantities(ctx context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateQuantities(e)
}

func (s *MemoryStore) DeleteEntry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntry(id)
}

func (s *MemoryStore) ApplyBalanceUpdates(ctx context.Context, updates []ledger.BalanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyBalanceUpdates(updates)
}

func (s *MemoryStore) EntriesBefore(ctx context.Context, productID, locationCode string, before time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesBefore(productID, locationCode, before), nil
}

func (s *MemoryStore) EntriesFrom(ctx context.Context, productID, locationCode string, from time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesFrom(productID, locationCode, from), nil
}

func (s *MemoryStore) EntriesInRange(ctx context.Context, productID, locationCode string, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesInRange(productID, locationCode, from, to), nil
}

func (s *MemoryStore) EntriesByRef(ctx context.Context, sourceRef string) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesByRef(sourceRef), nil
}

func (s *MemoryStore) NextLockedEntry(ctx context.Context, productID, locationCode string, at time.Time) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLockedEntry(productID, locationCode, at), nil
}

func (s *MemoryStore) Partitions(ctx context.Context) ([]ledger.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitions(), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// ロックなしの内部実装（公開メソッドとmemTxの両方から使用）

func (s *MemoryStore) insertEntry(e *ledger.Entry) error {
	s.nextID++
	e.ID = s.nextID
	s.entries[e.ID] = *e
	return nil
}

func (s *MemoryStore) getEntry(id int64) (*ledger.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	out := e
	return &out, nil
}

func (s *MemoryStore) updateQuantities(e *ledger.Entry) error {
	cur, ok := s.entries[e.ID]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	cur.QtyIn = e.QtyIn
	cur.QtyOut = e.QtyOut
	cur.UpdatedBy = e.UpdatedBy
	cur.UpdatedAt = e.UpdatedAt
	s.entries[e.ID] = cur
	return nil
}

func (s *MemoryStore) deleteEntry(id int64) error {
	if _, ok := s.entries[id]; !ok {
		return ledger.ErrEntryNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) applyBalanceUpdates(updates []ledger.BalanceUpdate) error {
	now := time.Now()
	for _, u := range updates {
		cur, ok := s.entries[u.EntryID]
		if !ok {
			return ledger.ErrEntryNotFound
		}
		cur.RunningBalance = u.Balance
		cur.UpdatedBy = u.UpdatedBy
		cur.UpdatedAt = now
		s.entries[u.EntryID] = cur
	}
	return nil
}

func (s *MemoryStore) collect(match func(*ledger.Entry) bool) []ledger.Entry {
	var out []ledger.Entry
	for id := range s.entries {
		e := s.entries[id]
		if match(&e) {
			out = append(out, e)
		}
	}
	sortLedgerOrder(out)
	return out
}

func (s *MemoryStore) entriesBefore(productID, locationCode string, before time.Time) []ledger.Entry {
	return s.collect(func(e *ledger.Entry) bool {
		return e.ProductID == productID && e.LocationCode == locationCode && e.EffectiveAt.Before(before)
	})
}

func (s *MemoryStore) entriesFrom(productID, locationCode string, from time.Time) []ledger.Entry {
	return s.collect(func(e *ledger.Entry) bool {
		return e.ProductID == productID && e.LocationCode == locationCode && !e.EffectiveAt.Before(from)
	})
}

func (s *MemoryStore) entriesInRange(productID, locationCode string, from, to time.Time) []ledger.Entry {
	return s.collect(func(e *ledger.Entry) bool {
		if e.ProductID != productID || e.LocationCode != locationCode {
			return false
		}
		if !from.IsZero() && e.EffectiveAt.Before(from) {
			return false
		}
		if !to.IsZero() && e.EffectiveAt.After(to) {
			return false
		}
		return true
	})
}

func (s *MemoryStore) entriesByRef(sourceRef string) []ledger.Entry {
	return s.collect(func(e *ledger.Entry) bool {
		return e.SourceRef == sourceRef
	})
}

func (s *MemoryStore) nextLockedEntry(productID, locationCode string, at time.Time) *ledger.Entry {
	locked := s.collect(func(e *ledger.Entry) bool {
		return e.ProductID == productID && e.LocationCode == locationCode && e.Locked && !e.EffectiveAt.Before(at)
	})
	if len(locked) == 0 {
		return nil
	}
	out := locked[0]
	return &out
}

func (s *MemoryStore) partitions() []ledger.Partition {
	seen := make(map[ledger.Partition]bool)
	var out []ledger.Partition
	for id := range s.entries {
		e := s.entries[id]
		p := e.Partition()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// sortLedgerOrder sorts entries by (effective_at, id)
// (effective_at, id) 順でソート
func sortLedgerOrder(entries []ledger.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EffectiveAt.Equal(entries[j].EffectiveAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].EffectiveAt.Before(entries[j].EffectiveAt)
	})
}

// memTx is the transaction-scoped view handed to RunInTx callbacks. The
// parent mutex is already held, so it delegates to the unlocked internals.
// RunInTxコールバックに渡されるトランザクションスコープのビュー。親の
// ミューテックスは取得済みのため、ロックなしの内部実装に委譲する。
type memTx struct {
	store *MemoryStore
}

var _ ledger.Store = (*memTx)(nil)

// RunInTx joins the enclosing transaction
// ネストした呼び出しは外側のトランザクションに参加
func (t *memTx) RunInTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	return fn(t)
}

func (t *memTx) AcquirePartitionLock(ctx context.Context, p ledger.Partition) error {
	return nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	return t.store.insertEntry(e)
}

func (t *memTx) GetEntry(ctx context.Context, id int64) (*ledger.Entry, error) {
	return t.store.getEntry(id)
}

func (t *memTx) UpdateQuantities(ctx context.Context, e *ledger.Entry) error {
	return t.store.updateQuantities(e)
}

func (t *memTx) DeleteEntry(ctx context.Context, id int64) error {
	return t.store.deleteEntry(id)
}

func (t *memTx) ApplyBalanceUpdates(ctx context.Context, updates []ledger.BalanceUpdate) error {
	return t.store.applyBalanceUpdates(updates)
}

func (t *memTx) EntriesBefore(ctx context.Context, productID, locationCode string, before time.Time) ([]ledger.Entry, error) {
	return t.store.entriesBefore(productID, locationCode, before), nil
}

func (t *memTx) EntriesFrom(ctx context.Context, productID, locationCode string, from time.Time) ([]ledger.Entry, error) {
	return t.store.entriesFrom(productID, locationCode, from), nil
}

func (t *memTx) EntriesInRange(ctx context.Context, productID, locationCode string, from, to time.Time) ([]ledger.Entry, error) {
	return t.store.entriesInRange(productID, locationCode, from, to), nil
}

func (t *memTx) EntriesByRef(ctx context.Context, sourceRef string) ([]ledger.Entry, error) {
	return t.store.entriesByRef(sourceRef), nil
}

func (t *memTx) NextLockedEntry(ctx context.Context, productID, locationCode string, at time.Time) (*ledger.Entry, error) {
	return t.store.nextLockedEntry(productID, locationCode, at), nil
}

func (t *memTx) Partitions(ctx context.Context) ([]ledger.Partition, error) {
	return t.store.partitions(), nil
}

func (t *memTx) Ping(ctx context.Context) error { return nil }

func (t *memTx) Close() error { return nil }
