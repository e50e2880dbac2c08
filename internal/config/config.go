// Package config provides configuration loading, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 数据库驱动
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Log        LogConfig             `mapstructure:"log"`
	CORS       CORSConfig            `mapstructure:"cors"`
	Database   DatabaseConfig        `mapstructure:"database"`
	Gateway    GatewayConfig         `mapstructure:"gateway"`
	OAuth      OAuthConfig           `mapstructure:"oauth"`
	Upstream   UpstreamConfig        `mapstructure:"upstream"`
	APIKeyAuth APIKeyAuthCacheConfig `mapstructure:"api_key_auth_cache"`
	Timezone   string                `mapstructure:"timezone"` // e.g. "Asia/Shanghai", "UTC"
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug / release / test
}

type LogConfig struct {
	Level           string            `mapstructure:"level"`
	Format          string            `mapstructure:"format"`
	ServiceName     string            `mapstructure:"service_name"`
	Environment     string            `mapstructure:"env"`
	Caller          bool              `mapstructure:"caller"`
	StacktraceLevel string            `mapstructure:"stacktrace_level"`
	Output          LogOutputConfig   `mapstructure:"output"`
	Rotation        LogRotationConfig `mapstructure:"rotation"`
	Sampling        LogSamplingConfig `mapstructure:"sampling"`
}

type LogOutputConfig struct {
	ToStdout bool   `mapstructure:"to_stdout"`
	ToFile   bool   `mapstructure:"to_file"`
	FilePath string `mapstructure:"file_path"`
}

type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
	LocalTime  bool `mapstructure:"local_time"`
}

type LogSamplingConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Initial    int  `mapstructure:"initial"`
	Thereafter int  `mapstructure:"thereafter"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite / postgres
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_minutes"`
}

// GatewayConfig 聚合请求调度引擎的全部参数。
type GatewayConfig struct {
	// 轮换循环
	MaxAttempts          int `mapstructure:"max_attempts"`
	InterIdentityStagger int `mapstructure:"inter_identity_stagger_ms"`

	// 退避曲线
	BaseRetryDelaySeconds int     `mapstructure:"base_retry_delay_seconds"`
	MaxRetryDelaySeconds  int     `mapstructure:"max_retry_delay_seconds"`
	JitterFactor          float64 `mapstructure:"jitter_factor"`

	// 单账号固定窗口限流
	RateLimitMax           int `mapstructure:"rate_limit_max"`
	RateLimitWindowSeconds int `mapstructure:"rate_limit_window_seconds"`

	// 进程级出站并发上限
	ConcurrencyCap int `mapstructure:"concurrency_cap"`

	// 账号缓存与令牌刷新
	IdentityCacheTTLSeconds    int `mapstructure:"identity_cache_ttl_seconds"`
	TokenRefreshMarginSeconds  int `mapstructure:"token_refresh_margin_seconds"`
	ExhaustionCooldownMinutes  int `mapstructure:"exhaustion_cooldown_minutes"`
	ReactivatorIntervalMinutes int `mapstructure:"reactivator_interval_minutes"`

	// 冷却探测
	ProbeMarginSeconds      int `mapstructure:"probe_margin_seconds"`
	MinProbeIntervalSeconds int `mapstructure:"min_probe_interval_seconds"`

	// 模型与回退链
	DefaultModel    string `mapstructure:"default_model"`
	FallbackModel   string `mapstructure:"fallback_model"`
	FallbackModelV2 string `mapstructure:"fallback_model_v2"`

	// 请求体上限（MiB）
	MaxBodySizeMB int `mapstructure:"max_body_size_mb"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

type UpstreamConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	UnaryTimeoutSeconds  int    `mapstructure:"unary_timeout_seconds"`
	StreamTimeoutSeconds int    `mapstructure:"stream_timeout_seconds"`
}

type APIKeyAuthCacheConfig struct {
	L1Size             int  `mapstructure:"l1_size"`
	L1TTLSeconds       int  `mapstructure:"l1_ttl_seconds"`
	NegativeTTLSeconds int  `mapstructure:"negative_ttl_seconds"`
	JitterPercent      int  `mapstructure:"jitter_percent"`
	Singleflight       bool `mapstructure:"singleflight"`
}

// 便捷换算方法，避免调用方重复做 Duration 转换。

func (g GatewayConfig) StaggerDelay() time.Duration {
	return time.Duration(g.InterIdentityStagger) * time.Millisecond
}

func (g GatewayConfig) BaseRetryDelay() time.Duration {
	return time.Duration(g.BaseRetryDelaySeconds) * time.Second
}

func (g GatewayConfig) MaxRetryDelay() time.Duration {
	return time.Duration(g.MaxRetryDelaySeconds) * time.Second
}

func (g GatewayConfig) RateLimitWindow() time.Duration {
	return time.Duration(g.RateLimitWindowSeconds) * time.Second
}

func (g GatewayConfig) IdentityCacheTTL() time.Duration {
	return time.Duration(g.IdentityCacheTTLSeconds) * time.Second
}

func (g GatewayConfig) TokenRefreshMargin() time.Duration {
	return time.Duration(g.TokenRefreshMarginSeconds) * time.Second
}

func (g GatewayConfig) ExhaustionCooldown() time.Duration {
	return time.Duration(g.ExhaustionCooldownMinutes) * time.Minute
}

func (g GatewayConfig) ReactivatorInterval() time.Duration {
	return time.Duration(g.ReactivatorIntervalMinutes) * time.Minute
}

func (g GatewayConfig) ProbeMargin() time.Duration {
	return time.Duration(g.ProbeMarginSeconds) * time.Second
}

func (g GatewayConfig) MinProbeInterval() time.Duration {
	return time.Duration(g.MinProbeIntervalSeconds) * time.Second
}

func (g GatewayConfig) MaxBodyBytes() int64 {
	return int64(g.MaxBodySizeMB) << 20
}

func (u UpstreamConfig) UnaryTimeout() time.Duration {
	return time.Duration(u.UnaryTimeoutSeconds) * time.Second
}

func (u UpstreamConfig) StreamTimeout() time.Duration {
	return time.Duration(u.StreamTimeoutSeconds) * time.Second
}

// Load 读取并校验完整配置。
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Add config paths in priority order
	// 1. DATA_DIR environment variable (highest priority)
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		viper.AddConfigPath(dataDir)
	}
	// 2. Docker data directory
	viper.AddConfigPath("/app/data")
	// 3. Current directory
	viper.AddConfigPath(".")
	// 4. Config subdirectory
	viper.AddConfigPath("./config")
	// 5. System config directory
	viper.AddConfigPath("/etc/geminipool")

	// 环境变量支持
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config error: %w", err)
		}
		// 配置文件不存在时使用默认值
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	cfg.Server.Mode = strings.ToLower(strings.TrimSpace(cfg.Server.Mode))
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	cfg.OAuth.ClientID = strings.TrimSpace(cfg.OAuth.ClientID)
	cfg.OAuth.ClientSecret = strings.TrimSpace(cfg.OAuth.ClientSecret)
	cfg.OAuth.TokenURL = strings.TrimSpace(cfg.OAuth.TokenURL)
	cfg.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	cfg.Gateway.DefaultModel = strings.TrimSpace(cfg.Gateway.DefaultModel)
	cfg.Gateway.FallbackModel = strings.TrimSpace(cfg.Gateway.FallbackModel)
	cfg.Gateway.FallbackModelV2 = strings.TrimSpace(cfg.Gateway.FallbackModelV2)
	cfg.CORS.AllowedOrigins = normalizeStringSlice(cfg.CORS.AllowedOrigins)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Log.ServiceName = strings.TrimSpace(cfg.Log.ServiceName)
	cfg.Log.Environment = strings.TrimSpace(cfg.Log.Environment)
	cfg.Log.StacktraceLevel = strings.ToLower(strings.TrimSpace(cfg.Log.StacktraceLevel))
	cfg.Log.Output.FilePath = strings.TrimSpace(cfg.Log.Output.FilePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8765)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.service_name", "geminipool")
	viper.SetDefault("log.env", "production")
	viper.SetDefault("log.caller", false)
	viper.SetDefault("log.stacktrace_level", "error")
	viper.SetDefault("log.output.to_stdout", true)
	viper.SetDefault("log.output.to_file", false)
	viper.SetDefault("log.output.file_path", "")
	viper.SetDefault("log.rotation.max_size_mb", 100)
	viper.SetDefault("log.rotation.max_backups", 10)
	viper.SetDefault("log.rotation.max_age_days", 7)
	viper.SetDefault("log.rotation.compress", true)
	viper.SetDefault("log.rotation.local_time", true)
	viper.SetDefault("log.sampling.enabled", false)
	viper.SetDefault("log.sampling.initial", 100)
	viper.SetDefault("log.sampling.thereafter", 100)

	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allow_credentials", false)

	viper.SetDefault("database.driver", DatabaseDriverSQLite)
	viper.SetDefault("database.dsn", "file:geminipool.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime_minutes", 30)

	viper.SetDefault("gateway.max_attempts", 5)
	viper.SetDefault("gateway.inter_identity_stagger_ms", 150)
	viper.SetDefault("gateway.base_retry_delay_seconds", 2)
	viper.SetDefault("gateway.max_retry_delay_seconds", 60)
	viper.SetDefault("gateway.jitter_factor", 0.2)
	viper.SetDefault("gateway.rate_limit_max", 60)
	viper.SetDefault("gateway.rate_limit_window_seconds", 60)
	viper.SetDefault("gateway.concurrency_cap", 3)
	viper.SetDefault("gateway.identity_cache_ttl_seconds", 5)
	viper.SetDefault("gateway.token_refresh_margin_seconds", 300)
	viper.SetDefault("gateway.exhaustion_cooldown_minutes", 60)
	viper.SetDefault("gateway.reactivator_interval_minutes", 5)
	viper.SetDefault("gateway.probe_margin_seconds", 120)
	viper.SetDefault("gateway.min_probe_interval_seconds", 30)
	viper.SetDefault("gateway.default_model", "gemini-2.5-flash")
	viper.SetDefault("gateway.fallback_model", "gemini-2.5-pro")
	viper.SetDefault("gateway.fallback_model_v2", "gemini-3.1-pro")
	viper.SetDefault("gateway.max_body_size_mb", 50)

	viper.SetDefault("oauth.client_id", "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com")
	viper.SetDefault("oauth.client_secret", "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")
	viper.SetDefault("oauth.token_url", "https://oauth2.googleapis.com/token")

	viper.SetDefault("upstream.base_url", "https://cloudcode-pa.googleapis.com")
	viper.SetDefault("upstream.unary_timeout_seconds", 30)
	viper.SetDefault("upstream.stream_timeout_seconds", 120)

	viper.SetDefault("api_key_auth_cache.l1_size", 2048)
	viper.SetDefault("api_key_auth_cache.l1_ttl_seconds", 60)
	viper.SetDefault("api_key_auth_cache.negative_ttl_seconds", 10)
	viper.SetDefault("api_key_auth_cache.jitter_percent", 10)
	viper.SetDefault("api_key_auth_cache.singleflight", true)

	viper.SetDefault("timezone", "UTC")
}

// Validate 校验配置合法性。
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q",
			DatabaseDriverSQLite, DatabaseDriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Gateway.MaxAttempts <= 0 {
		return fmt.Errorf("gateway.max_attempts must be positive")
	}
	if c.Gateway.ConcurrencyCap <= 0 {
		return fmt.Errorf("gateway.concurrency_cap must be positive")
	}
	if c.Gateway.RateLimitMax <= 0 || c.Gateway.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("gateway rate limit requires positive max and window")
	}
	if c.Gateway.JitterFactor < 0 || c.Gateway.JitterFactor >= 1 {
		return fmt.Errorf("gateway.jitter_factor must be in [0, 1), got %v", c.Gateway.JitterFactor)
	}
	if c.Gateway.DefaultModel == "" || c.Gateway.FallbackModel == "" {
		return fmt.Errorf("gateway.default_model and gateway.fallback_model are required")
	}
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return fmt.Errorf("oauth.client_id and oauth.client_secret are required")
	}
	if c.OAuth.TokenURL == "" {
		return fmt.Errorf("oauth.token_url is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.UnaryTimeoutSeconds <= 0 || c.Upstream.StreamTimeoutSeconds <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}
	if c.Gateway.MaxBodySizeMB <= 0 {
		return fmt.Errorf("gateway.max_body_size_mb must be positive")
	}
	return nil
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
