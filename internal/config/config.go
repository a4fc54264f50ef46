// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ドライバー名
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
	DriverMinio    = "minio"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string   `env:"DATABASE_URL,required,notEmpty"`
	DB          DBConfig `envPrefix:"DB_"`

	// Supabase
	Supabase SupabaseConfig `envPrefix:"SUPABASE_"`

	// ProfileDriver はプロフィールテーブルの接続先（supabase | postgres）。
	ProfileDriver string `env:"PROFILE_DRIVER" envDefault:"supabase"`
	// StorageDriver はアバター画像の保存先（supabase | minio）。
	StorageDriver string      `env:"STORAGE_DRIVER" envDefault:"supabase"`
	Minio         MinioConfig `envPrefix:"MINIO_"`

	// Session
	SessionMaxAge      int           `env:"SESSION_MAX_AGE" envDefault:"604800"`
	TokenRefreshLeeway time.Duration `env:"TOKEN_REFRESH_LEEWAY" envDefault:"60s"`
	StoreIdleTimeout   time.Duration `env:"STORE_IDLE_TIMEOUT" envDefault:"24h"`
	CleanupInterval    time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool
}

// SupabaseConfig は認証・ストレージ・データAPIの接続設定。
type SupabaseConfig struct {
	URL         string        `env:"URL,required,notEmpty"`
	AnonKey     string        `env:"ANON_KEY,required,notEmpty"`
	JWTSecret   string        `env:"JWT_SECRET"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
}

// DBConfig はコネクションプールの設定。
type DBConfig struct {
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// MinioConfig はSTORAGE_DRIVER=minio の場合の接続設定。
type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"profile"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
	// PublicURL は画像を配信するベースURL。未設定の場合はエンドポイントから組み立てる。
	PublicURL string `env:"PUBLIC_URL"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定または空の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Supabase.URL = strings.TrimRight(cfg.Supabase.URL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.Minio.PublicURL == "" {
		scheme := "http://"
		if cfg.Minio.UseSSL {
			scheme = "https://"
		}
		cfg.Minio.PublicURL = scheme + cfg.Minio.Endpoint
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ProfileDriver {
	case DriverSupabase, DriverPostgres:
	default:
		return fmt.Errorf("unsupported PROFILE_DRIVER: %q", c.ProfileDriver)
	}

	switch c.StorageDriver {
	case DriverSupabase:
	case DriverMinio:
		if c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_DRIVER=minio")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER: %q", c.StorageDriver)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %d", c.SessionMaxAge)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
