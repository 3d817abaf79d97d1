package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenSecret は開発用の署名鍵。本番では必ずTOKEN_SECRETで上書きする。
const DefaultTokenSecret = "friendproxy-dev-secret-change-me"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	TokenSecret string
	TokenTTL    time.Duration

	// Friend API
	FriendAPIBaseURL string
	FriendAPITimeout time.Duration
	EgressGuard      bool

	// Fallback service account
	FallbackEmail         string
	FallbackPassword      string
	FallbackLoginAttempts int
	FallbackLoginDelay    time.Duration

	// Session refresh
	UserLoginAttempts int
	RefreshCoalesce   bool

	// Rate Limit
	RateLimitGeneral int

	// Cleanup
	CookieRetention time.Duration
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// FallbackEnabled は共有サービスアカウントが設定されているかを返す。
func (c *Config) FallbackEnabled() bool {
	return c.FallbackEmail != "" && c.FallbackPassword != ""
}

// UsesDefaultTokenSecret は開発用の署名鍵のまま起動しているかを返す。
func (c *Config) UsesDefaultTokenSecret() bool {
	return c.TokenSecret == DefaultTokenSecret
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenSecret = getEnvString("TOKEN_SECRET", DefaultTokenSecret)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)
	cfg.FriendAPIBaseURL = strings.TrimRight(getEnvString("FRIEND_API_BASE_URL", "http://localhost:8000"), "/")
	cfg.FriendAPITimeout = getEnvDuration("FRIEND_API_TIMEOUT", 5*time.Second)
	cfg.EgressGuard = getEnvBool("EGRESS_GUARD", false)
	cfg.FallbackEmail = os.Getenv("FRIEND_API_FALLBACK_EMAIL")
	cfg.FallbackPassword = os.Getenv("FRIEND_API_FALLBACK_PASSWORD")
	cfg.FallbackLoginAttempts = getEnvInt("FALLBACK_LOGIN_ATTEMPTS", 3)
	cfg.FallbackLoginDelay = getEnvDuration("FALLBACK_LOGIN_DELAY", time.Second)
	cfg.UserLoginAttempts = getEnvInt("USER_LOGIN_ATTEMPTS", 1)
	cfg.RefreshCoalesce = getEnvBool("REFRESH_COALESCE", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CookieRetention = getEnvDuration("COOKIE_RETENTION", 7*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.FallbackLoginAttempts < 1 {
		cfg.FallbackLoginAttempts = 1
	}
	if cfg.UserLoginAttempts < 1 {
		cfg.UserLoginAttempts = 1
	}

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
