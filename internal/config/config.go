package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	HistoryBackendSQL   = "sql"
	HistoryBackendRedis = "redis"

	DefaultHistoryLimit = 50
)

var (
	ErrInvalidHistoryBackend = errors.New("HISTORY_BACKEND must be 'sql' or 'redis'")
	ErrMissingRedisAddr      = errors.New("REDIS_ADDR is required when HISTORY_BACKEND=redis")
	ErrMissingDatabaseDSN    = errors.New("DB_DSN is required")
	ErrInvalidPollInterval   = errors.New("POLL_INTERVAL must be > 0")
	ErrInvalidPollTimeout    = errors.New("POLL_TIMEOUT must be >= POLL_INTERVAL")
	ErrInvalidHistoryLimit   = errors.New("HISTORY_LIMIT must be > 0")
	ErrIncompleteObjectStore = errors.New("S3_ENDPOINT requires S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET")
)

type Config struct {
	CatalogPath       string
	DefaultChatModel  string
	DefaultImageModel string
	DefaultEditModel  string

	History HistoryConfig
	DB      DBConfig
	Redis   RedisConfig
	HTTP    HTTPConfig
	Poll    PollConfig
	Server  ServerConfig
	Bot     BotConfig
	Objects ObjectStoreConfig
	Crypto  CryptoConfig
	Log     LogConfig
}

type HistoryConfig struct {
	Backend string
	Limit   int
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	DedupeTTL time.Duration
}

type HTTPConfig struct {
	// RequestTimeout bounds non-streaming provider calls end to end.
	RequestTimeout time.Duration
	// HeaderTimeout bounds the wait for response headers, streaming included.
	HeaderTimeout time.Duration
}

type PollConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

type ServerConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type BotConfig struct {
	Token         string
	AllowedUserID int64
	EditInterval  time.Duration
}

type ObjectStoreConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != ""
}

type CryptoConfig struct {
	// CurrentKeyID is empty when only the builtin key is in use.
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	dataDir := DataDir()
	cfg := &Config{
		CatalogPath:       mustEnv("PRISM_CATALOG", ""),
		DefaultChatModel:  mustEnv("DEFAULT_CHAT_MODEL", "gpt-4o-mini"),
		DefaultImageModel: mustEnv("DEFAULT_IMAGE_MODEL", "dall-e-3"),
		DefaultEditModel:  mustEnv("DEFAULT_EDIT_MODEL", "Qwen/Qwen-Image-Edit"),
		History: HistoryConfig{
			Backend: strings.ToLower(mustEnv("HISTORY_BACKEND", HistoryBackendSQL)),
			Limit:   mustInt("HISTORY_LIMIT", DefaultHistoryLimit),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", filepath.Join(dataDir, "prism.db")),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", ""),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			KeyPrefix: mustEnv("REDIS_KEY_PREFIX", "prism"),
			DedupeTTL: mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
		},
		HTTP: HTTPConfig{
			RequestTimeout: mustDuration("HTTP_TIMEOUT", 120*time.Second),
			HeaderTimeout:  mustDuration("HTTP_HEADER_TIMEOUT", 60*time.Second),
		},
		Poll: PollConfig{
			Interval:    mustDuration("POLL_INTERVAL", 5*time.Second),
			Timeout:     mustDuration("POLL_TIMEOUT", 5*time.Minute),
			MaxAttempts: mustInt("POLL_MAX_ATTEMPTS", 0),
		},
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", "127.0.0.1:8787"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Bot: BotConfig{
			Token:         mustEnv("BOT_TOKEN", ""),
			AllowedUserID: mustInt64("BOT_ALLOWED_USER_ID", 0),
			EditInterval:  mustDuration("BOT_EDIT_INTERVAL", 1500*time.Millisecond),
		},
		Objects: ObjectStoreConfig{
			Endpoint:   mustEnv("S3_ENDPOINT", ""),
			AccessKey:  mustEnv("S3_ACCESS_KEY", ""),
			SecretKey:  mustEnv("S3_SECRET_KEY", ""),
			Bucket:     mustEnv("S3_BUCKET", ""),
			UseSSL:     mustBool("S3_USE_SSL", true),
			PresignTTL: mustDuration("S3_PRESIGN_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.History.Backend != HistoryBackendSQL && cfg.History.Backend != HistoryBackendRedis {
		return nil, ErrInvalidHistoryBackend
	}
	if cfg.History.Backend == HistoryBackendRedis && cfg.Redis.Addr == "" {
		return nil, ErrMissingRedisAddr
	}
	if cfg.History.Limit <= 0 {
		return nil, ErrInvalidHistoryLimit
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.Poll.Interval <= 0 {
		return nil, ErrInvalidPollInterval
	}
	if cfg.Poll.Timeout < cfg.Poll.Interval {
		return nil, ErrInvalidPollTimeout
	}
	if cfg.Objects.Enabled() && (cfg.Objects.AccessKey == "" || cfg.Objects.SecretKey == "" || cfg.Objects.Bucket == "") {
		return nil, ErrIncompleteObjectStore
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

// DataDir is where the default sqlite database lives.
func DataDir() string {
	if v := mustEnv("PRISM_DATA_DIR", ""); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".prism"
	}
	return filepath.Join(dir, "prism")
}

// loadCryptoConfig reads optional key overrides. With none configured the
// builtin key stays current.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		if current != "" {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q set without any master key", current)
		}
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required with more than one master key")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
