// Package config は環境変数と任意のTOMLファイルからアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ストアの種類。
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数名。
const ConfigFileEnv = "RECIPEBOX_CONFIG_FILE"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// OAuth（3つ揃っている場合のみGoogleログインを有効にする）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Access token
	JWTSecret string
	JWTTTL    time.Duration

	// Recipe API
	RecipeAPIKey     string
	RecipeAPIBaseURL string
	RecipeAPITimeout time.Duration

	// Rate Limit
	RateLimitGeneral    int
	RateLimitWindow     time.Duration
	RateLimitAuth       int
	RateLimitAuthWindow time.Duration

	// Daily picks
	DailyPicksCount    int
	DailyPicksTimezone string
	DailyPicksInterval time.Duration

	// Profile
	ProfileImageMaxBytes int64

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// OAuthEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// UsesMemoryStore はインメモリストアで動かすかどうかを返す。
func (c *Config) UsesMemoryStore() bool {
	return c.StoreDriver == StoreDriverMemory
}

// source は設定値の参照元。環境変数がファイルの値より優先される。
type source struct {
	file map[string]string
}

// Load は環境変数からConfigを読み込む。
// RECIPEBOX_CONFIG_FILEが指定されている場合はそのTOMLファイルを既定値として使う。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src, err := newSource(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(src.getString("STORE_DRIVER", StoreDriverPostgres))
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = src.getString("DATABASE_URL", "")
	if cfg.DatabaseURL == "" && !cfg.UsesMemoryStore() {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = src.getString("SESSION_SECRET", "")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// 未指定の場合はセッションの秘密鍵でトークンを署名する
	cfg.JWTSecret = src.getString("JWT_SECRET", cfg.SessionSecret)

	cfg.LogLevel, err = parseLogLevel(src.getString("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.GoogleClientID = src.getString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = src.getString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = src.getString("GOOGLE_REDIRECT_URL", "")
	cfg.SessionMaxAge = src.getInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = src.getDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.JWTTTL = src.getDuration("JWT_TTL", 24*time.Hour)
	cfg.RecipeAPIKey = src.getString("RECIPE_API_KEY", "")
	cfg.RecipeAPIBaseURL = src.getString("RECIPE_API_BASE_URL", "https://api.spoonacular.com/recipes")
	cfg.RecipeAPITimeout = src.getDuration("RECIPE_API_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = src.getInt("RATE_LIMIT_GENERAL", 100)
	cfg.RateLimitWindow = src.getDuration("RATE_LIMIT_WINDOW", 15*time.Minute)
	cfg.RateLimitAuth = src.getInt("RATE_LIMIT_AUTH", 5)
	cfg.RateLimitAuthWindow = src.getDuration("RATE_LIMIT_AUTH_WINDOW", time.Hour)
	cfg.DailyPicksCount = src.getInt("DAILY_PICKS_COUNT", 6)
	cfg.DailyPicksTimezone = src.getString("DAILY_PICKS_TIMEZONE", "Asia/Kolkata")
	cfg.DailyPicksInterval = src.getDuration("DAILY_PICKS_INTERVAL", time.Hour)
	cfg.ProfileImageMaxBytes = src.getInt64("PROFILE_IMAGE_MAX_BYTES", 2<<20)
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.BaseURL = src.getString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = src.getString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// newSource は設定ファイルを読み込む。pathが空の場合は環境変数のみを使う。
// ファイルのキーは環境変数名と同じ（大文字小文字は区別しない）。
func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []map[string]any:
			return nil, fmt.Errorf("config file %s: key %q must be a scalar value", path, k)
		}
		src.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s *source) getString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *source) getInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s *source) getInt64(key string, defaultVal int64) int64 {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseLogLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
	}
	return level, nil
}
