package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	SQLite  SQLiteConfig   `mapstructure:"sqlite"`
	Redis   RedisConfig    `mapstructure:"redis"`
	Admin   AdminConfig    `mapstructure:"admin"`
	Gateway GatewayConfig  `mapstructure:"gateway"`
	Outbox  OutboxConfig   `mapstructure:"outbox"`
	Sync    SyncConfig     `mapstructure:"sync"`
	Sources []SourceConfig `mapstructure:"sources"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables the cursor cache and admin rate limit
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
	RPS   int    `mapstructure:"rps"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type OutboxConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	ClaimGrace      time.Duration `mapstructure:"claim_grace"`
}

type SyncConfig struct {
	BridgeURL string        `mapstructure:"bridge_url"` // health-data bridge; empty disables source sync
	Debounce  time.Duration `mapstructure:"debounce"`
	CursorTTL time.Duration `mapstructure:"cursor_ttl"`
}

type SourceConfig struct {
	Name            string        `mapstructure:"name"`
	Unit            string        `mapstructure:"unit"`
	Threshold       time.Duration `mapstructure:"threshold"`
	DefaultLookback time.Duration `mapstructure:"default_lookback"`
	SessionShaped   bool          `mapstructure:"session_shaped"`
	SessionLookback time.Duration `mapstructure:"session_lookback"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (LUME_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (LUME_*)
	v.SetEnvPrefix("LUME")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
