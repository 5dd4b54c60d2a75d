package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Sushimas123/sushimas-sub001/internal/config"
	"github.com/Sushimas123/sushimas-sub001/pkg/ledger"
	"github.com/Sushimas123/sushimas-sub001/pkg/ledger/storage"
)

func main() {
	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	// データベース接続
	store, err := storage.NewPostgresStore(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer store.Close()

	// 元帳エンジン初期化
	engineConfig := &ledger.Config{
		RebuildParallelism:  cfg.Ledger.RebuildParallelism,
		WarnNegativeBalance: cfg.Ledger.WarnNegativeBalance,
	}
	engine := ledger.NewEngine(store, nil, logger, engineConfig)

	// HTTPハンドラー設定
	handlers := NewHandlers(engine, store, logger)
	router := setupRouter(handlers, cfg.API.EnableMetrics)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	// グレースフルシャットダウン設定
	go func() {
		logger.Info("在庫元帳APIサーバーを開始します", zap.Int("port", cfg.API.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー開始に失敗しました", zap.Error(err))
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("サーバーシャットダウンに失敗しました", zap.Error(err))
	}

	logger.Info("サーバーが正常に停止しました")
}

// newLogger builds a zap logger from the logging configuration
// ログ設定からzapロガーを構築
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Format == "console" {
		return zap.NewDevelopment()
	}
	zapCfg := zap.NewProductionConfig()
	if err := zapCfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("無効なログレベル: %s", cfg.Level)
	}
	return zapCfg.Build()
}

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, enableMetrics bool) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック・メトリクス
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if enableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 在庫移動
	api.HandleFunc("/movements", handlers.RecordMovement).Methods("POST")
	api.HandleFunc("/movements/{entryId}", handlers.EditMovement).Methods("PUT")
	api.HandleFunc("/movements/{entryId}", handlers.DeleteMovement).Methods("DELETE")

	// 期間ロック
	api.HandleFunc("/periods/lock", handlers.LockPeriod).Methods("POST")

	// 拠点間振替
	api.HandleFunc("/transfers", handlers.CompleteTransfer).Methods("POST")
	api.HandleFunc("/transfers/{transferRef}/reverse", handlers.ReverseTransfer).Methods("POST")

	// 照会
	api.HandleFunc("/balance/{productId}/{locationCode}", handlers.GetBalance).Methods("GET")
	api.HandleFunc("/entries/ref/{sourceRef}", handlers.GetEntriesByRef).Methods("GET")
	api.HandleFunc("/entries/{productId}/{locationCode}", handlers.GetEntries).Methods("GET")

	// 管理
	api.HandleFunc("/admin/rebuild", handlers.RebuildAll).Methods("POST")

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger))

	return router
}

// loggingMiddleware logs HTTP requests
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// リクエスト処理
			next.ServeHTTP(w, r)

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
