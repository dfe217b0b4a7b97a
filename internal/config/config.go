// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ジョブストアの種類。
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// スケジューラの種類。
const (
	SchedulerAsynq = "asynq"
	SchedulerLocal = "local"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証設定
	APIKey     string // X-API-Key と比較する平文のキー
	APIKeyHash string // bcryptでハッシュ化されたキー

	// ジョブ/キュー設定
	JobStore             string // redis, sqlite, memory
	JobScheduler         string // asynq, local
	QueueRedisURL        string // Asynq / Redis ストア用の接続URL
	SQLitePath           string // SQLite ストアのファイル
	JobRetentionHours    int    // Redis に保存するジョブの保持時間（0 は無期限）
	MaxConcurrentJobs    int    // 同時に実行するジョブ数
	JobQueueTimeoutHours int    // Asynq タスクのタイムアウト

	// 変換設定
	FFmpegPath        string // ffmpeg 実行ファイルのパス
	FFprobePath       string // ffprobe 実行ファイルのパス
	BitrateProfileDir string // 品質プロファイルのディレクトリ

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, pretty

	// イベント設定
	EventBufferSize int // メモリに保持するイベント数
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 認証設定
		APIKey:     getEnv("API_KEY", ""),
		APIKeyHash: getEnv("API_KEY_HASH", ""),

		// ジョブ/キュー設定
		JobStore:             strings.ToLower(getEnv("JOB_STORE", StoreRedis)),
		JobScheduler:         strings.ToLower(getEnv("JOB_SCHEDULER", SchedulerAsynq)),
		QueueRedisURL:        getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		SQLitePath:           getEnv("SQLITE_PATH", filepath.Join("data", "jobs.db")),
		JobRetentionHours:    getEnvAsInt("JOB_RETENTION_HOURS", 0),
		MaxConcurrentJobs:    getEnvAsInt("MAX_CONCURRENT_JOBS", 4),
		JobQueueTimeoutHours: getEnvAsInt("JOB_QUEUE_TIMEOUT_HOURS", 24),

		// 変換設定
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		BitrateProfileDir: getEnv("BITRATE_PROFILE_DIR", "bitrate_configs"),

		// ログ設定
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		EventBufferSize: getEnvAsInt("EVENT_BUFFER_SIZE", 500),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// RequiresRedis はストアまたはスケジューラが Redis を使うかどうかを返します。
func (c *Config) RequiresRedis() bool {
	return c.JobStore == StoreRedis || c.JobScheduler == SchedulerAsynq
}

// AuthEnabled は API キー認証が有効かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.APIKey != "" || c.APIKeyHash != ""
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.JobStore {
	case StoreRedis, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown JOB_STORE: %q", c.JobStore)
	}
	switch c.JobScheduler {
	case SchedulerAsynq, SchedulerLocal:
	default:
		return fmt.Errorf("unknown JOB_SCHEDULER: %q", c.JobScheduler)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	if c.JobStore == StoreSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
	}

	// ローカル開発では認証設定は任意
	if c.GinMode == "release" {
		if !c.AuthEnabled() {
			return fmt.Errorf("API_KEY or API_KEY_HASH is required in release mode")
		}
		if c.RequiresRedis() && c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.FFmpegPath == "" || c.FFprobePath == "" {
			return fmt.Errorf("FFMPEG_PATH and FFPROBE_PATH are required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
