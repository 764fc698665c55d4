package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 資格情報ストアの種別
const (
	CredentialStoreMemory   = "memory"
	CredentialStoreSQLite   = "sqlite"
	CredentialStorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// API
	APIBaseURL   string
	APITimeout   time.Duration
	APIRateLimit float64
	APIRateBurst int

	// Credential
	CredentialStore string
	CredentialPath  string
	DatabaseURL     string

	// Feed
	FeedRefreshInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// fileConfig は設定ファイル（YAML）のスキーマ。
// 値が設定された項目のみ環境変数のデフォルトとして扱う。
type fileConfig struct {
	APIBaseURL          string `yaml:"api_base_url"`
	APITimeout          string `yaml:"api_timeout"`
	APIRateLimit        string `yaml:"api_rate_limit"`
	APIRateBurst        string `yaml:"api_rate_burst"`
	CredentialStore     string `yaml:"credential_store"`
	CredentialPath      string `yaml:"credential_path"`
	DatabaseURL         string `yaml:"database_url"`
	FeedRefreshInterval string `yaml:"feed_refresh_interval"`
	LogLevel            string `yaml:"log_level"`
	ServerPort          string `yaml:"server_port"`
	CORSAllowedOrigin   string `yaml:"cors_allowed_origin"`
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILE が設定されている場合はLoadFileと同じ扱いになる。
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile はYAML設定ファイルを読み込んだ上で環境変数を適用する。
// 同じ項目は環境変数が優先される。pathが空の場合は環境変数のみを使用する。
// 必須項目が未設定の場合はエラーを返す。
func LoadFile(path string) (*Config, error) {
	fallback := map[string]string{}
	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		fallback = fc.asEnv()
	}

	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback[key]
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.APIBaseURL = strings.TrimRight(lookup("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}

	cfg.CredentialStore = getString(lookup, "CREDENTIAL_STORE", CredentialStoreSQLite)
	cfg.DatabaseURL = lookup("DATABASE_URL")
	if cfg.CredentialStore == CredentialStorePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("API_BASE_URL must be an absolute http(s) URL: %q", cfg.APIBaseURL)
	}

	switch cfg.CredentialStore {
	case CredentialStoreMemory, CredentialStoreSQLite, CredentialStorePostgres:
	default:
		return nil, fmt.Errorf("unknown CREDENTIAL_STORE: %q", cfg.CredentialStore)
	}

	// Optional fields with defaults
	cfg.APITimeout = getDuration(lookup, "API_TIMEOUT", 15*time.Second)
	cfg.APIRateLimit = getFloat(lookup, "API_RATE_LIMIT", 10)
	cfg.APIRateBurst = getInt(lookup, "API_RATE_BURST", 20)
	cfg.CredentialPath = getString(lookup, "CREDENTIAL_PATH", "campusmap.db")
	cfg.FeedRefreshInterval = getDuration(lookup, "FEED_REFRESH_INTERVAL", 2*time.Minute)
	cfg.LogLevel = getString(lookup, "LOG_LEVEL", "info")
	cfg.ServerPort = getString(lookup, "SERVER_PORT", "8090")
	cfg.CORSAllowedOrigin = getString(lookup, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// Origin はAPIのオリジン（scheme://host）を返す。
// 資格情報ストアのキーとして使用する。
func (c *Config) Origin() string {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return c.APIBaseURL
	}
	return u.Scheme + "://" + u.Host
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) asEnv() map[string]string {
	return map[string]string{
		"API_BASE_URL":          fc.APIBaseURL,
		"API_TIMEOUT":           fc.APITimeout,
		"API_RATE_LIMIT":        fc.APIRateLimit,
		"API_RATE_BURST":        fc.APIRateBurst,
		"CREDENTIAL_STORE":      fc.CredentialStore,
		"CREDENTIAL_PATH":       fc.CredentialPath,
		"DATABASE_URL":          fc.DatabaseURL,
		"FEED_REFRESH_INTERVAL": fc.FeedRefreshInterval,
		"LOG_LEVEL":             fc.LogLevel,
		"SERVER_PORT":           fc.ServerPort,
		"CORS_ALLOWED_ORIGIN":   fc.CORSAllowedOrigin,
	}
}

func getString(lookup func(string) string, key, defaultVal string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(lookup func(string) string, key string, defaultVal int) int {
	v := lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getFloat(lookup func(string) string, key string, defaultVal float64) float64 {
	v := lookup(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getDuration(lookup func(string) string, key string, defaultVal time.Duration) time.Duration {
	v := lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
