package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App AppConfig `mapstructure:"app"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Kafka settlement feed
	Kafka KafkaConfig `mapstructure:"kafka"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Fraud     FraudConfig     `mapstructure:"fraud"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Env           string `mapstructure:"env"`
	LogLevel      string `mapstructure:"log_level"`
	ListenAddr    string `mapstructure:"listen_addr"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CORSOrigins   string `mapstructure:"cors_origins"`
}

// Production reports whether the service runs with production defaults.
func (a AppConfig) Production() bool {
	return strings.EqualFold(a.Env, "production")
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type KafkaConfig struct {
	Brokers          []string      `mapstructure:"brokers"`
	Topic            string        `mapstructure:"topic"`
	Retries          int           `mapstructure:"retries"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RequiredAcks     int           `mapstructure:"required_acks"`
	Compression      string        `mapstructure:"compression"`
	IdempotentWrites bool          `mapstructure:"idempotent_writes"`
	MaxMessageBytes  int           `mapstructure:"max_message_bytes"`
}

// Enabled reports whether a settlement feed should be produced.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

type TrackingConfig struct {
	SessionStore      string        `mapstructure:"session_store"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	AttributionWindow time.Duration `mapstructure:"attribution_window"`
	AttributionModel  string        `mapstructure:"attribution_model"`
	OrderFilterSize   uint          `mapstructure:"order_filter_size"`
}

type FraudConfig struct {
	FraudThreshold      int           `mapstructure:"fraud_threshold"`
	HardFraudThreshold  int           `mapstructure:"hard_fraud_threshold"`
	ConversionBurst     int64         `mapstructure:"conversion_burst"`
	BurstWindow         time.Duration `mapstructure:"burst_window"`
	MinConversionGap    time.Duration `mapstructure:"min_conversion_gap"`
	HighOrderMultiplier float64       `mapstructure:"high_order_multiplier"`
	AverageOrderWindow  time.Duration `mapstructure:"average_order_window"`
	BotUserAgents       []string      `mapstructure:"bot_user_agents"`
	HighRiskCIDRs       []string      `mapstructure:"high_risk_cidrs"`
}

type NotifierConfig struct {
	PixelTimeout   time.Duration `mapstructure:"pixel_timeout"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.listen_addr", ":8080")
	v.SetDefault("app.webhook_secret", "")
	v.SetDefault("app.cors_origins", "*")

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("nats.port", 4222)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "conversions.settlement")
	v.SetDefault("kafka.retries", 3)
	v.SetDefault("kafka.timeout", 10*time.Second)
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.idempotent_writes", false)
	v.SetDefault("kafka.max_message_bytes", 1000000)

	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("tracking.session_store", "redis")
	v.SetDefault("tracking.session_ttl", 30*time.Minute)
	v.SetDefault("tracking.sweep_interval", 5*time.Minute)
	v.SetDefault("tracking.attribution_window", 30*24*time.Hour)
	v.SetDefault("tracking.attribution_model", "last_click")
	v.SetDefault("tracking.order_filter_size", 1_000_000)

	v.SetDefault("fraud.fraud_threshold", 50)
	v.SetDefault("fraud.hard_fraud_threshold", 80)
	v.SetDefault("fraud.conversion_burst", 5)
	v.SetDefault("fraud.burst_window", 24*time.Hour)
	v.SetDefault("fraud.min_conversion_gap", 10*time.Second)
	v.SetDefault("fraud.high_order_multiplier", 10.0)
	v.SetDefault("fraud.average_order_window", 30*24*time.Hour)
	v.SetDefault("fraud.bot_user_agents", []string{})
	v.SetDefault("fraud.high_risk_cidrs", []string{})

	v.SetDefault("notifier.pixel_timeout", 5*time.Second)
	v.SetDefault("notifier.webhook_timeout", 10*time.Second)
	v.SetDefault("notifier.max_attempts", 3)
	v.SetDefault("notifier.initial_backoff", 500*time.Millisecond)

	v.SetDefault("rate_limit.max_requests", 300)
	v.SetDefault("rate_limit.window", time.Minute)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.log_level", "LOG_LEVEL")
	v.BindEnv("app.webhook_secret", "WEBHOOK_SECRET")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Kafka
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_SETTLEMENT_TOPIC")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
}
