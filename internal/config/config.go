package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// LedgerConfig holds ledger engine configuration
// 元帳エンジンの設定を保持
type LedgerConfig struct {
	RebuildParallelism  int  `yaml:"rebuild_parallelism"`
	WarnNegativeBalance bool `yaml:"warn_negative_balance"`
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, file
}

// Load loads configuration from environment variables. If
// LEDGER_CONFIG_FILE points at a YAML file it is read first and the
// environment overrides it.
// 環境変数から設定を読み込み。LEDGER_CONFIG_FILEがYAMLファイルを指す場合は
// 先に読み込み、環境変数で上書きする。
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "ledger",
			Password: "password",
			DBName:   "ledger_db",
			SSLMode:  "disable",
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableMetrics: true,
		},
		Ledger: LedgerConfig{
			RebuildParallelism:  4,
			WarnNegativeBalance: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}

	if path := os.Getenv("LEDGER_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイル解析に失敗しました: %w", err)
		}
	}

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.API.Port = getEnvAsInt("API_PORT", cfg.API.Port)
	cfg.API.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", cfg.API.ReadTimeout)
	cfg.API.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", cfg.API.WriteTimeout)
	cfg.API.IdleTimeout = getEnvAsDuration("API_IDLE_TIMEOUT", cfg.API.IdleTimeout)
	cfg.API.EnableMetrics = getEnvAsBool("API_ENABLE_METRICS", cfg.API.EnableMetrics)

	cfg.Ledger.RebuildParallelism = getEnvAsInt("LEDGER_REBUILD_PARALLELISM", cfg.Ledger.RebuildParallelism)
	cfg.Ledger.WarnNegativeBalance = getEnvAsBool("LEDGER_WARN_NEGATIVE_BALANCE", cfg.Ledger.WarnNegativeBalance)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = getEnv("LOG_OUTPUT", cfg.Logging.Output)

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// データベース設定チェック
	if c.Database.Host == "" {
		return fmt.Errorf("データベースホストが指定されていません")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("データベースユーザーが指定されていません")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("データベース名が指定されていません")
	}

	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}

	// 元帳設定チェック
	if c.Ledger.RebuildParallelism < 1 {
		return fmt.Errorf("リビルド並列度は1以上である必要があります: %d", c.Ledger.RebuildParallelism)
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	return nil
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ヘルパー関数

// getEnv gets environment variable with default value
// デフォルト値付きで環境変数を取得
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
// デフォルト値付きで環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default value
// デフォルト値付きで環境変数をbooleanとして取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration with default value
// デフォルト値付きで環境変数をdurationとして取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
