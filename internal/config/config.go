package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth API
	AuthURL            string
	AuthAPIKey         string
	AuthHTTPTimeout    time.Duration
	TokenRefreshMargin time.Duration
	TokenRefreshPeriod time.Duration

	// Local storage
	LocalStorePath string

	// Reconciliation
	SessionCheckTimeout time.Duration
	ProfileFetchTimeout time.Duration
	EventSuppressWindow time.Duration

	// Rate Limit
	RateLimitAuth    RateLimit
	RateLimitGeneral RateLimit

	// Server
	ServerPort string

	// Logging
	LogLevel string

	// CORS
	CORSAllowedOrigin string
}

// RateLimit は「Count回/Per」で表すレート制限値。
type RateLimit struct {
	Count int
	Per   time.Duration
}

// PerSecond は1秒あたりの許容回数を返す。
func (r RateLimit) PerSecond() float64 {
	if r.Per <= 0 {
		return 0
	}
	return float64(r.Count) / r.Per.Seconds()
}

// String は"10/min"形式の表記を返す。
func (r RateLimit) String() string {
	switch r.Per {
	case time.Second:
		return fmt.Sprintf("%d/s", r.Count)
	case time.Hour:
		return fmt.Sprintf("%d/h", r.Count)
	default:
		return fmt.Sprintf("%d/min", r.Count)
	}
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthURL = os.Getenv("AUTH_URL")
	if cfg.AuthURL == "" {
		missing = append(missing, "AUTH_URL")
	}

	cfg.AuthAPIKey = os.Getenv("AUTH_API_KEY")
	if cfg.AuthAPIKey == "" {
		missing = append(missing, "AUTH_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthHTTPTimeout = getEnvDuration("AUTH_HTTP_TIMEOUT", 20*time.Second)
	cfg.TokenRefreshMargin = getEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second)
	cfg.TokenRefreshPeriod = getEnvDuration("TOKEN_REFRESH_INTERVAL", 30*time.Second)
	cfg.LocalStorePath = getEnvString("LOCAL_STORE_PATH", "~/.config/sellerdesk/local.toml")
	cfg.SessionCheckTimeout = getEnvDuration("SESSION_CHECK_TIMEOUT", 30*time.Second)
	cfg.ProfileFetchTimeout = getEnvDuration("PROFILE_FETCH_TIMEOUT", 15*time.Second)
	cfg.EventSuppressWindow = getEnvDuration("EVENT_SUPPRESS_WINDOW", 10*time.Second)
	cfg.RateLimitAuth = getEnvRate("RATE_LIMIT_AUTH", RateLimit{Count: 10, Per: time.Minute})
	cfg.RateLimitGeneral = getEnvRate("RATE_LIMIT_GENERAL", RateLimit{Count: 120, Per: time.Minute})
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvRate は"10/min"形式の値を読み込む。単位を省略した場合は分単位とみなす。
// 解釈できない値はデフォルト値にフォールバックする。
func getEnvRate(key string, defaultVal RateLimit) RateLimit {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	r, err := ParseRateLimit(v)
	if err != nil {
		return defaultVal
	}
	return r
}

// ParseRateLimit は"10/min"、"2/s"、"100/h"、"10"形式の文字列を解釈する。
func ParseRateLimit(s string) (RateLimit, error) {
	countStr, unit, hasUnit := strings.Cut(strings.TrimSpace(s), "/")
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count <= 0 {
		return RateLimit{}, fmt.Errorf("invalid rate limit %q", s)
	}

	per := time.Minute
	if hasUnit {
		switch strings.ToLower(strings.TrimSpace(unit)) {
		case "s", "sec", "second":
			per = time.Second
		case "m", "min", "minute":
			per = time.Minute
		case "h", "hour":
			per = time.Hour
		default:
			return RateLimit{}, fmt.Errorf("invalid rate limit unit %q", unit)
		}
	}
	return RateLimit{Count: count, Per: per}, nil
}
