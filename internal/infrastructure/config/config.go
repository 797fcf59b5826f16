package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Retry         RetryConfig         `mapstructure:"retry"`
	PaymentRetry  PaymentRetryConfig  `mapstructure:"payment_retry"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Lock          LockConfig          `mapstructure:"lock"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPM    int           `mapstructure:"rate_limit_rpm"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// TrustedProxyPrefixes parses TrustedProxies. Entries that are not CIDRs are
// skipped; Validate reports them.
func (s *ServerConfig) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, cidr := range s.TrustedProxies {
		if p, err := netip.ParsePrefix(cidr); err == nil {
			out = append(out, p)
		}
	}
	return out
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// AuthConfig protects the /internal routes. An empty secret leaves them open,
// which Validate forbids in production.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MinConnections   int           `mapstructure:"min_connections"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	ConnectRetries   int           `mapstructure:"connect_retries"`
	ApplicationName  string        `mapstructure:"application_name"`
	// StatementTimeout bounds every query on the pool. Zero keeps the server
	// default.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// WebhookConfig drives the security validator.
type WebhookConfig struct {
	DevMode         bool                      `mapstructure:"dev_mode"`
	AllowedCIDRs    []string                  `mapstructure:"allowed_cidrs"`
	MaxBodyBytes    int64                     `mapstructure:"max_body_bytes"`
	PastTolerance   time.Duration             `mapstructure:"past_tolerance"`
	FutureTolerance time.Duration             `mapstructure:"future_tolerance"`
	RateLimit       int                       `mapstructure:"rate_limit"`
	RateWindow      time.Duration             `mapstructure:"rate_window"`
	IdempotencyTTL  time.Duration             `mapstructure:"idempotency_ttl"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes how one gateway signs its deliveries.
type ProviderConfig struct {
	Scheme          string `mapstructure:"scheme"`
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature_header"`
}

// RetryConfig is the webhook failed-event retry policy.
type RetryConfig struct {
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatch     int           `mapstructure:"sweep_batch"`
	CleanupAfter   time.Duration `mapstructure:"cleanup_after"`
	BurstThreshold int           `mapstructure:"burst_threshold"`
	BurstWindow    time.Duration `mapstructure:"burst_window"`
}

type PaymentRetryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	Multiplier    float64       `mapstructure:"multiplier"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Window        time.Duration `mapstructure:"window"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

// GatewayConfig configures the outbound charge client.
type GatewayConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	UseMock                 bool          `mapstructure:"use_mock"`
}

type LockConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Wait time.Duration `mapstructure:"wait"`
}

type MonitoringConfig struct {
	FailureRateWarning  float64       `mapstructure:"failure_rate_warning"`
	FailureRateCritical float64       `mapstructure:"failure_rate_critical"`
	OverdueCritical     int           `mapstructure:"overdue_critical"`
	OverdueGrace        time.Duration `mapstructure:"overdue_grace"`
	AlertCooldown       time.Duration `mapstructure:"alert_cooldown"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
}

type AuditConfig struct {
	RedactAfter         time.Duration `mapstructure:"redact_after"`
	RetainFor           time.Duration `mapstructure:"retain_for"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

type WorkerConfig struct {
	BatchSize           int64         `mapstructure:"batch_size"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval  time.Duration `mapstructure:"outbox_poll_interval"`
	TaskPromoteInterval time.Duration `mapstructure:"task_promote_interval"`
	ConsumerGroup       string        `mapstructure:"consumer_group"`
}

type ObservabilityConfig struct {
	LogLevel         string  `mapstructure:"log_level"`
	LogFormat        string  `mapstructure:"log_format"`
	TraceExporter    string  `mapstructure:"trace_exporter"`
	JaegerEndpoint   string  `mapstructure:"jaeger_endpoint"`
	OTLPEndpoint     string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders      string  `mapstructure:"otlp_headers"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`
	EnableMetrics    bool    `mapstructure:"enable_metrics"`
	EnableTracing    bool    `mapstructure:"enable_tracing"`
}

// TraceEndpoint returns the collector URL for the selected exporter.
func (o ObservabilityConfig) TraceEndpoint() string {
	if o.TraceExporter == "otlp" {
		return o.OTLPEndpoint
	}
	return o.JaegerEndpoint
}

// DefaultStripeCIDRs are the gateway's published webhook source addresses.
var DefaultStripeCIDRs = []string{
	"3.18.12.63/32",
	"3.130.192.231/32",
	"13.235.14.237/32",
	"13.235.122.149/32",
	"18.211.135.69/32",
	"35.154.171.200/32",
	"52.15.183.38/32",
	"54.88.130.119/32",
	"54.88.130.237/32",
	"54.187.174.169/32",
	"54.187.205.235/32",
	"54.187.216.72/32",
}

func Load() (*Config, error) {
	// A local .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BILLINGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("webhook.providers.stripe.secret", "BILLINGSYNC_STRIPE_WEBHOOK_SECRET")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/billingsync")

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
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not a CIDR", cidr))
		}
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	errs = append(errs, c.Webhook.validate()...)

	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, fmt.Errorf("retry.initial_delay must be positive and not exceed retry.max_delay"))
	}
	if c.Retry.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be positive"))
	}
	if c.PaymentRetry.BaseDelay <= 0 || c.PaymentRetry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("payment_retry.base_delay must be positive and payment_retry.multiplier at least 1"))
	}
	if c.PaymentRetry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("payment_retry.max_attempts must be positive"))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, fmt.Errorf("lock.ttl must be positive"))
	}
	if c.Monitoring.FailureRateWarning > c.Monitoring.FailureRateCritical {
		errs = append(errs, fmt.Errorf("monitoring.failure_rate_warning must not exceed monitoring.failure_rate_critical"))
	}
	if c.Audit.RedactAfter >= c.Audit.RetainFor {
		errs = append(errs, fmt.Errorf("audit.redact_after must be shorter than audit.retain_for"))
	}
	switch c.Observability.TraceExporter {
	case "", "jaeger", "otlp":
	default:
		errs = append(errs, fmt.Errorf("observability.trace_exporter must be jaeger or otlp, got %q", c.Observability.TraceExporter))
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
		if c.Webhook.DevMode {
			errs = append(errs, fmt.Errorf("webhook.dev_mode must be off in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (w *WebhookConfig) validate() []error {
	var errs []error
	if w.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("webhook.max_body_bytes must be positive"))
	}
	if w.PastTolerance <= 0 {
		errs = append(errs, fmt.Errorf("webhook.past_tolerance must be positive"))
	}
	if w.RateLimit <= 0 || w.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("webhook.rate_limit and webhook.rate_window must be positive"))
	}
	if w.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("webhook.idempotency_ttl must be positive"))
	}
	for _, cidr := range w.AllowedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("webhook.allowed_cidrs: %q is not a CIDR", cidr))
		}
	}
	for name, p := range w.Providers {
		switch p.Scheme {
		case "stripe", "hmac":
		default:
			errs = append(errs, fmt.Errorf("webhook.providers.%s.scheme must be stripe or hmac, got %q", name, p.Scheme))
		}
		if p.Secret == "" && !w.DevMode {
			errs = append(errs, fmt.Errorf("webhook.providers.%s.secret is required", name))
		}
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit_rpm", 600)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "billingsync")
	v.SetDefault("database.database", "billingsync")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.application_name", "billingsync")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Webhook ingress defaults
	v.SetDefault("webhook.dev_mode", false)
	v.SetDefault("webhook.allowed_cidrs", DefaultStripeCIDRs)
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("webhook.past_tolerance", "300s")
	v.SetDefault("webhook.future_tolerance", "60s")
	v.SetDefault("webhook.rate_limit", 100)
	v.SetDefault("webhook.rate_window", "1h")
	v.SetDefault("webhook.idempotency_ttl", "24h")
	v.SetDefault("webhook.providers.stripe.scheme", "stripe")
	v.SetDefault("webhook.providers.stripe.signature_header", "Stripe-Signature")

	// Failed-event retry defaults
	v.SetDefault("retry.initial_delay", "5m")
	v.SetDefault("retry.max_delay", "6h")
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.sweep_interval", "5m")
	v.SetDefault("retry.sweep_batch", 100)
	v.SetDefault("retry.cleanup_after", "720h")
	v.SetDefault("retry.burst_threshold", 5)
	v.SetDefault("retry.burst_window", "1h")

	// Payment retry defaults
	v.SetDefault("payment_retry.base_delay", "60m")
	v.SetDefault("payment_retry.multiplier", 2.0)
	v.SetDefault("payment_retry.max_delay", "24h")
	v.SetDefault("payment_retry.window", "168h")
	v.SetDefault("payment_retry.max_attempts", 3)
	v.SetDefault("payment_retry.sweep_interval", "5m")
	v.SetDefault("payment_retry.sweep_batch", 50)

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://api.stripe.com")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.retry_delay", "500ms")
	v.SetDefault("gateway.circuit_breaker_threshold", 10)
	v.SetDefault("gateway.circuit_breaker_timeout", "30s")
	v.SetDefault("gateway.use_mock", false)

	// Lock defaults
	v.SetDefault("lock.ttl", "45s")
	v.SetDefault("lock.wait", "10s")

	// Monitoring defaults
	v.SetDefault("monitoring.failure_rate_warning", 0.05)
	v.SetDefault("monitoring.failure_rate_critical", 0.10)
	v.SetDefault("monitoring.overdue_critical", 10)
	v.SetDefault("monitoring.overdue_grace", "15m")
	v.SetDefault("monitoring.alert_cooldown", "30m")
	v.SetDefault("monitoring.check_interval", "5m")

	// Audit retention defaults
	v.SetDefault("audit.redact_after", "2160h")
	v.SetDefault("audit.retain_for", "61320h")
	v.SetDefault("audit.maintenance_interval", "24h")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.task_promote_interval", "5s")
	v.SetDefault("worker.consumer_group", "billingsync-workers")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.trace_exporter", "jaeger")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("observability.otlp_headers", "")
	v.SetDefault("observability.trace_sample_ratio", 0.2)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "billingsync-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrationURL is the postgres:// form golang-migrate expects.
func (c *DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
