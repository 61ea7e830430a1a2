package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreDriver は記事ストアのバックエンド種別。
type StoreDriver string

const (
	// StoreDriverPostgres はPostgreSQLバックエンド。
	StoreDriverPostgres StoreDriver = "postgres"
	// StoreDriverSQLite はSQLiteバックエンド。
	StoreDriverSQLite StoreDriver = "sqlite"
)

// DefaultUserAgent は取得先サイトに送るUser-Agentのデフォルト値。
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver StoreDriver
	DatabaseURL string
	SQLitePath  string

	// Scrape
	TargetURL       string
	SiteProfilePath string

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxAttempts   int
	FetchBackoffBase   time.Duration
	FetchBackoffFactor float64
	FetchBackoffMax    time.Duration
	FetchBackoffJitter float64
	FetchUserAgent     string
	FetchAllowPrivate  bool

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	RateLimitScrape   int
	ListDefaultLimit  int
	ListMaxLimit      int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = StoreDriver(strings.ToLower(getEnvString("STORE_DRIVER", string(StoreDriverSQLite))))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getEnvString("SQLITE_PATH", "./news.db")

	cfg.TargetURL = getEnvString("SCRAPE_TARGET_URL", "https://g1.globo.com/")
	cfg.SiteProfilePath = os.Getenv("SITE_PROFILE_PATH")

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxAttempts = getEnvInt("FETCH_MAX_ATTEMPTS", 3)
	cfg.FetchBackoffBase = getEnvDuration("FETCH_BACKOFF_BASE", time.Second)
	cfg.FetchBackoffFactor = getEnvFloat("FETCH_BACKOFF_FACTOR", 2)
	cfg.FetchBackoffMax = getEnvDuration("FETCH_BACKOFF_MAX", 30*time.Second)
	cfg.FetchBackoffJitter = getEnvFloat("FETCH_BACKOFF_JITTER", 0.1)
	cfg.FetchUserAgent = getEnvString("FETCH_USER_AGENT", DefaultUserAgent)
	cfg.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", false)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitScrape = getEnvInt("RATE_LIMIT_SCRAPE", 6)
	cfg.ListDefaultLimit = getEnvInt("LIST_DEFAULT_LIMIT", 100)
	cfg.ListMaxLimit = getEnvInt("LIST_MAX_LIMIT", 500)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は読み込んだ設定値の整合性を検証する。
// 問題のあるキーをすべて列挙したエラーを返す。
func (c *Config) validate() error {
	var missing, invalid []string

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		invalid = append(invalid, "STORE_DRIVER")
	}

	if u, err := url.Parse(c.TargetURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		invalid = append(invalid, "SCRAPE_TARGET_URL")
	}
	if c.FetchTimeout <= 0 {
		invalid = append(invalid, "FETCH_TIMEOUT")
	}
	if c.FetchMaxSize <= 0 {
		invalid = append(invalid, "FETCH_MAX_SIZE")
	}
	if c.FetchMaxAttempts < 1 {
		invalid = append(invalid, "FETCH_MAX_ATTEMPTS")
	}
	if c.FetchBackoffBase < 0 {
		invalid = append(invalid, "FETCH_BACKOFF_BASE")
	}
	if c.FetchBackoffFactor < 1 {
		invalid = append(invalid, "FETCH_BACKOFF_FACTOR")
	}
	if c.FetchBackoffMax < c.FetchBackoffBase {
		invalid = append(invalid, "FETCH_BACKOFF_MAX")
	}
	if c.FetchBackoffJitter < 0 || c.FetchBackoffJitter > 1 {
		invalid = append(invalid, "FETCH_BACKOFF_JITTER")
	}
	if c.RateLimitScrape < 1 {
		invalid = append(invalid, "RATE_LIMIT_SCRAPE")
	}
	if c.ListMaxLimit < 1 {
		invalid = append(invalid, "LIST_MAX_LIMIT")
	}
	if c.ListDefaultLimit < 1 || c.ListDefaultLimit > c.ListMaxLimit {
		invalid = append(invalid, "LIST_DEFAULT_LIMIT")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", invalid)
	}
	return nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
