package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
)

// PostgresStore implements the Store interface using PostgreSQL
// PostgreSQLを使用したStoreインターフェースの実装
type PostgresStore struct {
	db     *sql.DB
	tx     *sql.Tx // RunInTx内ではトランザクションスコープ
	logger *zap.Logger
}

var _ ledger.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store instance
// 新しいPostgreSQLストアインスタンスを作成
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

// querier is the subset of *sql.DB / *sql.Tx the store uses
// ストアが使用する *sql.DB / *sql.Tx の共通部分
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *PostgresStore) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// RunInTx executes fn inside one database transaction. A nested call joins
// the enclosing transaction.
// 1つのデータベーストランザクション内でfnを実行。ネストした呼び出しは外側の
// トランザクションに参加する。
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}

	txStore := &PostgresStore{db: s.db, tx: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return nil
}

// AcquirePartitionLock takes a transaction-scoped advisory lock on the
// partition key, serializing mutations across processes. Must be called
// inside RunInTx.
// パーティションキーに対するトランザクションスコープのアドバイザリロックを取得し、
// プロセス間の変更を直列化する。RunInTx内で呼び出すこと。
func (s *PostgresStore) AcquirePartitionLock(ctx context.Context, p ledger.Partition) error {
	if s.tx == nil {
		return fmt.Errorf("パーティションロックはトランザクション内でのみ取得できます")
	}
	_, err := s.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, p.String())
	if err != nil {
		return fmt.Errorf("アドバイザリロック取得に失敗しました: %w", err)
	}
	return nil
}

const entryColumns = `id, product_id, location_code, effective_at, qty_in, qty_out, running_balance, locked, source_type, source_ref, created_by, updated_by, created_at, updated_at`

// InsertEntry creates a new ledger entry and assigns its sequence ID
// 新しい元帳エントリを作成し、連番IDを採番
func (s *PostgresStore) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (product_id, location_code, effective_at, qty_in, qty_out, running_balance, locked, source_type, source_ref, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := s.q().QueryRowContext(ctx, query,
		e.ProductID,
		e.LocationCode,
		e.EffectiveAt,
		e.QtyIn,
		e.QtyOut,
		e.RunningBalance,
		e.Locked,
		e.SourceType,
		e.SourceRef,
		e.CreatedBy,
		e.UpdatedBy,
		e.CreatedAt,
		e.UpdatedAt,
	).Scan(&e.ID)

	if err != nil {
		return fmt.Errorf("元帳エントリ作成に失敗しました: %w", err)
	}

	return nil
}

// GetEntry retrieves a ledger entry by ID
// IDで元帳エントリを取得
func (s *PostgresStore) GetEntry(ctx context.Context, id int64) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`

	e, err := scanEntry(s.q().QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, fmt.Errorf("元帳エントリ取得に失敗しました: %w", err)
	}
	return e, nil
}

// UpdateQuantities persists an entry's quantities and audit columns;
// the balance column is only written through ApplyBalanceUpdates
// エントリの数量と監査列を永続化。残高列はApplyBalanceUpdates経由でのみ書き込む
func (s *PostgresStore) UpdateQuantities(ctx context.Context, e *ledger.Entry) error {
	query := `
		UPDATE ledger_entries
		SET qty_in = $2, qty_out = $3, updated_by = $4, updated_at = $5
		WHERE id = $1`

	result, err := s.q().ExecContext(ctx, query, e.ID, e.QtyIn, e.QtyOut, e.UpdatedBy, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("数量更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ledger.ErrEntryNotFound
	}

	return nil
}

// DeleteEntry removes a ledger entry by ID
// IDで元帳エントリを削除
func (s *PostgresStore) DeleteEntry(ctx context.Context, id int64) error {
	result, err := s.q().ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("元帳エントリ削除に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ledger.ErrEntryNotFound
	}

	return nil
}

// ApplyBalanceUpdates writes a batch of balance repairs atomically
// 残高修正のバッチをアトミックに書き込む
func (s *PostgresStore) ApplyBalanceUpdates(ctx context.Context, updates []ledger.BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	// RunInTxの外から呼ばれた場合も単一トランザクションで適用する
	if s.tx == nil {
		return s.RunInTx(ctx, func(tx ledger.Store) error {
			return tx.ApplyBalanceUpdates(ctx, updates)
		})
	}

	query := `
		UPDATE ledger_entries
		SET running_balance = $2, updated_by = $3, updated_at = $4
		WHERE id = $1 AND NOT locked`

	now := time.Now()
	for _, u := range updates {
		result, err := s.tx.ExecContext(ctx, query, u.EntryID, u.Balance, u.UpdatedBy, now)
		if err != nil {
			return fmt.Errorf("残高修正に失敗しました: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
		}
		if rowsAffected == 0 {
			return ledger.ErrEntryNotFound
		}
	}
	return nil
}

// EntriesBefore retrieves a partition's entries strictly before a timestamp
// パーティションの指定日時より前のエントリを取得
func (s *PostgresStore) EntriesBefore(ctx context.Context, productID, locationCode string, before time.Time) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE product_id = $1 AND location_code = $2 AND effective_at < $3
		ORDER BY effective_at, id`

	return s.queryEntries(ctx, query, productID, locationCode, before)
}

// EntriesFrom retrieves a partition's entries at or after a timestamp
// パーティションの指定日時以降のエントリを取得
func (s *PostgresStore) EntriesFrom(ctx context.Context, productID, locationCode string, from time.Time) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE product_id = $1 AND location_code = $2 AND effective_at >= $3
		ORDER BY effective_at, id`

	return s.queryEntries(ctx, query, productID, locationCode, from)
}

// EntriesInRange retrieves a partition's entries within [from, to];
// zero bounds are open
// パーティションの [from, to] 範囲のエントリを取得。ゼロ値の境界は無制限
func (s *PostgresStore) EntriesInRange(ctx context.Context, productID, locationCode string, from, to time.Time) ([]ledger.Entry, error) {
	var fromArg, toArg interface{}
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE product_id = $1 AND location_code = $2
		  AND ($3::timestamptz IS NULL OR effective_at >= $3)
		  AND ($4::timestamptz IS NULL OR effective_at <= $4)
		ORDER BY effective_at, id`

	return s.queryEntries(ctx, query, productID, locationCode, fromArg, toArg)
}

// EntriesByRef retrieves every entry sharing a source reference
// 参照番号を共有する全エントリを取得
func (s *PostgresStore) EntriesByRef(ctx context.Context, sourceRef string) ([]ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE source_ref = $1
		ORDER BY effective_at, id`

	return s.queryEntries(ctx, query, sourceRef)
}

// NextLockedEntry retrieves the earliest locked entry at or after a
// timestamp, or (nil, nil) when the period is open
// 指定日時以降の最古のロック済みエントリを取得。存在しない場合は (nil, nil)
func (s *PostgresStore) NextLockedEntry(ctx context.Context, productID, locationCode string, at time.Time) (*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE product_id = $1 AND location_code = $2 AND locked AND effective_at >= $3
		ORDER BY effective_at, id
		LIMIT 1`

	e, err := scanEntry(s.q().QueryRowContext(ctx, query, productID, locationCode, at))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("チェックポイント検索に失敗しました: %w", err)
	}
	return e, nil
}

// Partitions lists every distinct (product, location) pair in the ledger
// 元帳内のすべての（商品、拠点）ペアを列挙
func (s *PostgresStore) Partitions(ctx context.Context) ([]ledger.Partition, error) {
	query := `
		SELECT DISTINCT product_id, location_code
		FROM ledger_entries
		ORDER BY product_id, location_code`

	rows, err := s.q().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("パーティション一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var partitions []ledger.Partition
	for rows.Next() {
		var p ledger.Partition
		if err := rows.Scan(&p.ProductID, &p.LocationCode); err != nil {
			return nil, fmt.Errorf("パーティションスキャンに失敗しました: %w", err)
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ヘルパー

// rowScanner covers both *sql.Row and *sql.Rows
// *sql.Row と *sql.Rows の共通スキャンインターフェース
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	e := &ledger.Entry{}
	err := row.Scan(
		&e.ID,
		&e.ProductID,
		&e.LocationCode,
		&e.EffectiveAt,
		&e.QtyIn,
		&e.QtyOut,
		&e.RunningBalance,
		&e.Locked,
		&e.SourceType,
		&e.SourceRef,
		&e.CreatedBy,
		&e.UpdatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]ledger.Entry, error) {
	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("元帳エントリ取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("元帳エントリスキャンに失敗しました: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
