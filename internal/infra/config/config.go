package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arklim/platform-authz/internal/core/domain"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Channels  ChannelSettings   `mapstructure:"channels"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Breaker   BreakerSettings   `mapstructure:"breaker"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Owners bypass the admission gate and every permission check.
	Owners        []int64  `mapstructure:"owners"`
	InternalHosts []string `mapstructure:"internal_hosts"`
	// UseNativeStatus answers maintenance rejections with a bare 503 instead of a 200 envelope.
	UseNativeStatus bool `mapstructure:"use_native_status"`
	// StrictDeleteBit derives the Delete capability from the Delete bit instead of the Read bit.
	StrictDeleteBit bool `mapstructure:"strict_delete_bit"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DB             int    `mapstructure:"db"`
	Password       string `mapstructure:"password"`
	TLSEnabled     bool   `mapstructure:"tls_enabled"`
	MaintenanceKey string `mapstructure:"maintenance_key"`
}

// KafkaSettings configures the Kafka change transport
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	GroupID     string   `mapstructure:"group_id"`
}

// Change transports.
const (
	TransportRedis = "redis"
	TransportKafka = "kafka"
	TransportNone  = "none"
)

// ChannelSettings names the change channels and selects the transport carrying them.
type ChannelSettings struct {
	Transport      string `mapstructure:"transport"`
	RoleChange     string `mapstructure:"role_change"`
	RouteChange    string `mapstructure:"route_change"`
	TokenRevoke    string `mapstructure:"token_revoke"`
	UserChange     string `mapstructure:"user_change"`
	UserRoleChange string `mapstructure:"user_role_change"`
	HealthCheck    string `mapstructure:"health_check"`
	// HealthCheckInterval is the heartbeat period. Zero disables the heartbeat.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	// HealthCheckTimeout marks the bus stale when no heartbeat arrived within it. Zero disables the check.
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
}

// Names maps each change kind to its configured channel.
func (c ChannelSettings) Names() domain.ChannelNames {
	return domain.ChannelNames{
		domain.ChangeRole:        c.RoleChange,
		domain.ChangeRoute:       c.RouteChange,
		domain.ChangeTokenRevoke: c.TokenRevoke,
		domain.ChangeUser:        c.UserChange,
		domain.ChangeUserRole:    c.UserRoleChange,
		domain.ChangeHealthCheck: c.HealthCheck,
	}
}

// CacheSettings tunes the in-process caches.
type CacheSettings struct {
	TableTTL         time.Duration `mapstructure:"table_ttl"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	MaintenanceTTL   time.Duration `mapstructure:"maintenance_ttl"`
	UserSize         int           `mapstructure:"user_size"`
	UserTTL          time.Duration `mapstructure:"user_ttl"`
	RoleFilterSize   int           `mapstructure:"role_filter_size"`
	RoleFilterTTL    time.Duration `mapstructure:"role_filter_ttl"`
	RevokedTokenSize int           `mapstructure:"revoked_token_size"`
	RevokedTokenTTL  time.Duration `mapstructure:"revoked_token_ttl"`
}

// BreakerSettings configures the circuit breaker in front of the rule store.
type BreakerSettings struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTHZ")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.owners",
		"app.internal_hosts",
		"app.use_native_status",
		"app.strict_delete_bit",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.maintenance_key",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.group_id",
		"channels.transport",
		"channels.role_change",
		"channels.route_change",
		"channels.token_revoke",
		"channels.user_change",
		"channels.user_role_change",
		"channels.health_check",
		"channels.health_check_interval",
		"channels.health_check_timeout",
		"cache.table_ttl",
		"cache.load_timeout",
		"cache.maintenance_ttl",
		"cache.user_size",
		"cache.user_ttl",
		"cache.role_filter_size",
		"cache.role_filter_ttl",
		"cache.revoked_token_size",
		"cache.revoked_token_ttl",
		"breaker.enabled",
		"breaker.max_requests",
		"breaker.interval",
		"breaker.timeout",
		"breaker.failure_threshold",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Channels.Transport)) {
	case TransportRedis, TransportKafka, TransportNone:
		c.Channels.Transport = strings.ToLower(strings.TrimSpace(c.Channels.Transport))
	default:
		return fmt.Errorf("unsupported channels.transport %q", c.Channels.Transport)
	}
	if c.Channels.Transport == TransportKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka transport requires kafka.brokers")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "platform-authz")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.owners", []int64{})
	v.SetDefault("app.internal_hosts", []string{"localhost"})
	v.SetDefault("app.use_native_status", false)
	v.SetDefault("app.strict_delete_bit", false)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authz")
	v.SetDefault("postgres.password", "authz_password")
	v.SetDefault("postgres.database", "authz")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.maintenance_key", "authz:maintenance")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "authz")
	v.SetDefault("kafka.group_id", "")

	v.SetDefault("channels.transport", TransportRedis)
	v.SetDefault("channels.role_change", "role-change")
	v.SetDefault("channels.route_change", "route-change")
	v.SetDefault("channels.token_revoke", "token-revoke")
	v.SetDefault("channels.user_change", "user-change")
	v.SetDefault("channels.user_role_change", "user-role-change")
	v.SetDefault("channels.health_check", "health-check")
	v.SetDefault("channels.health_check_interval", "10s")
	v.SetDefault("channels.health_check_timeout", "15s")

	v.SetDefault("cache.table_ttl", "0s")
	v.SetDefault("cache.load_timeout", "10s")
	v.SetDefault("cache.maintenance_ttl", "10s")
	v.SetDefault("cache.user_size", 10000)
	v.SetDefault("cache.user_ttl", "5m")
	v.SetDefault("cache.role_filter_size", 1000)
	v.SetDefault("cache.role_filter_ttl", "5m")
	v.SetDefault("cache.revoked_token_size", 100000)
	v.SetDefault("cache.revoked_token_ttl", "30m")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", 5)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "platform-authz")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTHZ_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
