package main

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"

	"github.com/Sushimas123/sushimas-sub001/internal/config"
)

// 適用済みマイグレーションの記録テーブル
const historyTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id SERIAL PRIMARY KEY,
		filename VARCHAR(255) NOT NULL UNIQUE,
		executed_at TIMESTAMP NOT NULL DEFAULT NOW(),
		checksum VARCHAR(64) NOT NULL
	)`

func main() {
	log.Println("在庫元帳マイグレーション実行ツール")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal("データベース接続に失敗しました:", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("データベースpingに失敗しました:", err)
	}
	log.Printf("データベース接続が確立されました: %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)

	if _, err := db.Exec(historyTable); err != nil {
		log.Fatal("マイグレーション履歴テーブル作成に失敗しました:", err)
	}

	applied, err := run(db, dir)
	if err != nil {
		log.Fatal("マイグレーション実行に失敗しました:", err)
	}
	log.Printf("マイグレーション完了 (新規適用: %d件)", applied)
}

// run applies every pending .sql file in dir in filename order, each inside
// its own transaction, and returns the number applied
// dir内の未適用.sqlファイルをファイル名順に、各々トランザクション内で適用
func run(db *sql.DB, dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイル検索エラー: %w", err)
	}
	sort.Strings(files)

	done := make(map[string]bool)
	rows, err := db.Query("SELECT filename FROM schema_migrations")
	if err != nil {
		return 0, fmt.Errorf("実行済みマイグレーション取得エラー: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, err
		}
		done[name] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		if done[name] {
			log.Printf("スキップ (実行済み): %s", name)
			continue
		}
		if err := apply(db, file, name); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func apply(db *sql.DB, file, name string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("ファイル読み込みエラー %s: %w", name, err)
	}

	log.Printf("実行中: %s", name)
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクション開始エラー %s: %w", name, err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("マイグレーション実行エラー %s: %w", name, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		name, fmt.Sprintf("%x", sha256.Sum256(content)),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("マイグレーション履歴記録エラー %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットエラー %s: %w", name, err)
	}
	log.Printf("完了: %s", name)
	return nil
}
