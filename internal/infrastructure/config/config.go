package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Chain         ChainConfig         `mapstructure:"chain"`
	RefundWorker  RefundWorkerConfig  `mapstructure:"refund_worker"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	// RateLimitPerMinute applies per client IP to verify and refund requests; 0 disables it.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ConnectRetries  uint          `mapstructure:"connect_retries"`
}

type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    uint          `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ChainConfig holds RPC endpoints and verification knobs per network.
type ChainConfig struct {
	RPCTimeout           time.Duration            `mapstructure:"rpc_timeout"`
	ProviderCooldown     time.Duration            `mapstructure:"provider_cooldown"`
	HealthCacheTTL       time.Duration            `mapstructure:"health_cache_ttl"`
	DefaultConfirmations int                      `mapstructure:"default_confirmations"`
	Networks             map[string]NetworkConfig `mapstructure:"networks"`
}

type NetworkConfig struct {
	RPCURLs       []string `mapstructure:"rpc_urls"`
	Confirmations int      `mapstructure:"confirmations"`
}

type RefundWorkerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	ConfirmBatchSize int           `mapstructure:"confirm_batch_size"`
	LockKey          string        `mapstructure:"lock_key"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	// OpsPort serves health and metrics from the worker binary; 0 disables it.
	OpsPort int `mapstructure:"ops_port"`
}

type ExecutorConfig struct {
	SignerURL          string        `mapstructure:"signer_url"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

type NotificationsConfig struct {
	Driver         string        `mapstructure:"driver"`
	Stream         string        `mapstructure:"stream"`
	KafkaBrokers   []string      `mapstructure:"kafka_brokers"`
	KafkaTopic     string        `mapstructure:"kafka_topic"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type ObservabilityConfig struct {
	LogLevel         string  `mapstructure:"log_level"`
	EnableMetrics    bool    `mapstructure:"enable_metrics"`
	EnableTracing    bool    `mapstructure:"enable_tracing"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
	// JaegerEndpoint receives spans when tracing is enabled; empty keeps spans in-process.
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// CHAINPAY_CHAIN_NETWORKS_ETHEREUM_RPC_URLS=https://a,https://b
	v.SetEnvPrefix("CHAINPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/chainpay")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Chain.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Enabled && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Chain.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("chain.rpc_timeout must be positive"))
	}
	if c.Chain.ProviderCooldown <= 0 {
		errs = append(errs, fmt.Errorf("chain.provider_cooldown must be positive"))
	}
	if c.Chain.HealthCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("chain.health_cache_ttl must not be negative"))
	}
	if c.Chain.DefaultConfirmations <= 0 {
		errs = append(errs, fmt.Errorf("chain.default_confirmations must be positive"))
	}
	for _, name := range c.Chain.NetworkNames() {
		if c.Chain.Networks[name].Confirmations < 0 {
			errs = append(errs, fmt.Errorf("chain.networks.%s.confirmations must not be negative", name))
		}
	}
	if c.RefundWorker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("refund_worker.poll_interval must be positive"))
	}
	if c.RefundWorker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("refund_worker.batch_size must be positive"))
	}
	if c.RefundWorker.LockKey == "" {
		errs = append(errs, fmt.Errorf("refund_worker.lock_key is required"))
	}
	if c.RefundWorker.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("refund_worker.lock_ttl must be positive"))
	}
	if c.RefundWorker.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("refund_worker.stale_after must be positive"))
	}
	if c.RefundWorker.OpsPort < 0 || c.RefundWorker.OpsPort > 65535 {
		errs = append(errs, fmt.Errorf("refund_worker.ops_port must be between 0 and 65535, got %d", c.RefundWorker.OpsPort))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_per_minute must not be negative"))
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}
	switch c.Notifications.Driver {
	case "redis", "log":
	case "kafka":
		if len(c.Notifications.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("notifications.kafka_brokers required for kafka driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.driver must be one of redis, kafka, log; got %q", c.Notifications.Driver))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Executor.SignerURL == "" {
			errs = append(errs, fmt.Errorf("executor.signer_url required in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit_per_minute", 60)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chainpay")
	v.SetDefault("database.database", "chainpay")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_retries", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Chain defaults
	v.SetDefault("chain.rpc_timeout", "15s")
	v.SetDefault("chain.provider_cooldown", "60s")
	v.SetDefault("chain.health_cache_ttl", "30s")
	v.SetDefault("chain.default_confirmations", 12)
	v.SetDefault("chain.networks.ethereum.rpc_urls", []string{})
	v.SetDefault("chain.networks.ethereum.confirmations", 12)
	v.SetDefault("chain.networks.polygon.rpc_urls", []string{})
	v.SetDefault("chain.networks.polygon.confirmations", 12)

	// Refund worker defaults
	v.SetDefault("refund_worker.enabled", true)
	v.SetDefault("refund_worker.poll_interval", "30s")
	v.SetDefault("refund_worker.batch_size", 10)
	v.SetDefault("refund_worker.confirm_batch_size", 25)
	v.SetDefault("refund_worker.lock_key", "refund-worker:lock")
	v.SetDefault("refund_worker.lock_ttl", "60s")
	v.SetDefault("refund_worker.stale_after", "2m")
	v.SetDefault("refund_worker.ops_port", 9090)

	// Executor defaults
	v.SetDefault("executor.request_timeout", "30s")
	v.SetDefault("executor.breaker_max_failures", 5)
	v.SetDefault("executor.breaker_timeout", "60s")

	// Notification defaults
	v.SetDefault("notifications.driver", "redis")
	v.SetDefault("notifications.stream", "webhooks:delivery")
	v.SetDefault("notifications.kafka_topic", "chainpay.webhooks")
	v.SetDefault("notifications.publish_timeout", "5s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)
	v.SetDefault("observability.trace_sample_ratio", 0.1)
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("instance_id", "chainpay-1")
}

// normalize trims endpoint lists and lower-cases network names.
func (c *ChainConfig) normalize() {
	networks := make(map[string]NetworkConfig, len(c.Networks))
	for name, n := range c.Networks {
		var urls []string
		for _, raw := range n.RPCURLs {
			for _, u := range strings.Split(raw, ",") {
				if u = strings.TrimSpace(u); u != "" {
					urls = append(urls, u)
				}
			}
		}
		n.RPCURLs = urls
		networks[strings.ToLower(name)] = n
	}
	c.Networks = networks
}

// NetworkNames returns the configured network names in sorted order.
func (c *ChainConfig) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfirmationsFor returns the confirmation threshold for network.
func (c *ChainConfig) ConfirmationsFor(network string) int {
	if n, ok := c.Networks[strings.ToLower(network)]; ok && n.Confirmations > 0 {
		return n.Confirmations
	}
	return c.DefaultConfirmations
}

// Confirmations returns the per-network thresholds that override the default.
func (c *ChainConfig) Confirmations() map[string]int {
	out := make(map[string]int, len(c.Networks))
	for name, n := range c.Networks {
		if n.Confirmations > 0 {
			out[name] = n.Confirmations
		}
	}
	return out
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
