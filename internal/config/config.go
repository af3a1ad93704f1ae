package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StoreBackend はデータストアの種類を表す。
type StoreBackend string

const (
	// BackendPostgres はPostgreSQLを使うストア。
	BackendPostgres StoreBackend = "postgres"
	// BackendMemory はプロセス内メモリのストア。再起動でデータは失われる。
	BackendMemory StoreBackend = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend StoreBackend
	DatabaseURL  string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Message
	ProximityRadiusMeters float64
	MessageMaxLength      int

	// Vote
	VoteMaxRetries     int
	VoteRetryBaseDelay time.Duration

	// Rate Limit
	RateLimitWrites int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（既定は .env）が存在すれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}

	cfg.StoreBackend = StoreBackend(getEnvString("STORE_BACKEND", string(BackendPostgres)))
	switch cfg.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND: %q (want %q or %q)", cfg.StoreBackend, BackendPostgres, BackendMemory)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreBackend == BackendPostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.ProximityRadiusMeters = getEnvPositiveFloat("PROXIMITY_RADIUS_METERS", 5000)
	cfg.MessageMaxLength = getEnvInt("MESSAGE_MAX_LENGTH", 500)
	cfg.VoteMaxRetries = getEnvInt("VOTE_MAX_RETRIES", 3)
	cfg.VoteRetryBaseDelay = getEnvDuration("VOTE_RETRY_BASE_DELAY", 20*time.Millisecond)
	cfg.RateLimitWrites = getEnvInt("RATE_LIMIT_WRITES", 60)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvPositiveFloat は正の数値のみを受け付け、それ以外は既定値を返す。
func getEnvPositiveFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
