package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Webhook      WebhookConfig
	Providers    ProvidersConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	AMQP         AMQPConfig
	Cron         CronConfig
}

// Load reads the CHATDESK_* environment and reports every invalid section at
// once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	return multierr.Combine(
		c.DB.resolveDSN(),
		c.Webhook.validate(),
		c.Outbox.validate(c.AMQP),
		c.Cron.validate(),
	)
}

type AppConfig struct {
	Env          string `envconfig:"CHATDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"CHATDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CHATDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHATDESK_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CHATDESK_LOG_FORMAT" default:"json"`
	// CORSAllowedOrigins is a comma separated list of browser origins.
	CORSAllowedOrigins []string `envconfig:"CHATDESK_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHATDESK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHATDESK_DB_DSN"`
	Driver string `envconfig:"CHATDESK_DB_DRIVER" default:"postgres"`

	// Discrete connection fields, used only when DSN is empty.
	Host     string `envconfig:"CHATDESK_DB_HOST"`
	Port     int    `envconfig:"CHATDESK_DB_PORT" default:"5432"`
	User     string `envconfig:"CHATDESK_DB_USER"`
	Password string `envconfig:"CHATDESK_DB_PASSWORD"`
	Name     string `envconfig:"CHATDESK_DB_NAME"`
	SSLMode  string `envconfig:"CHATDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHATDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHATDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHATDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHATDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"CHATDESK_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CHATDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHATDESK_REDIS_ADDR"`
	Password     string        `envconfig:"CHATDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHATDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHATDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHATDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHATDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHATDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHATDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for access tokens issued by the
// identity service.
type JWTConfig struct {
	Secret   string        `envconfig:"CHATDESK_JWT_SECRET" required:"true"`
	Issuer   string        `envconfig:"CHATDESK_JWT_ISSUER" required:"true"`
	Audience string        `envconfig:"CHATDESK_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"CHATDESK_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CHATDESK_AUTO_MIGRATE" default:"false"`
}

// WebhookConfig drives provider callback ingestion and downstream forwarding.
type WebhookConfig struct {
	PublicBaseURL      string        `envconfig:"CHATDESK_PUBLIC_BASE_URL" required:"true"`
	ForwardTimeout     time.Duration `envconfig:"CHATDESK_WEBHOOK_FORWARD_TIMEOUT" default:"10s"`
	ForwardConcurrency int64         `envconfig:"CHATDESK_WEBHOOK_FORWARD_CONCURRENCY" default:"64"`
	MaxPayloadBytes    int64         `envconfig:"CHATDESK_WEBHOOK_MAX_PAYLOAD_BYTES" default:"1048576"`
	RegistryCacheSize  int           `envconfig:"CHATDESK_REGISTRY_CACHE_SIZE" default:"1024"`
	RegistryCacheTTL   time.Duration `envconfig:"CHATDESK_REGISTRY_CACHE_TTL" default:"30s"`
	// DedupeTTL bounds how long a provider message ID suppresses re-forwarding.
	DedupeTTL time.Duration `envconfig:"CHATDESK_WEBHOOK_DEDUPE_TTL" default:"10m"`
	// RateLimitPerMinute caps callbacks per provider and source IP. Zero disables it.
	RateLimitPerMinute int `envconfig:"CHATDESK_WEBHOOK_RATE_LIMIT_PER_MINUTE" default:"1200"`
}

// CallbackURL returns the canonical webhook URL registered with a provider.
func (w WebhookConfig) CallbackURL(provider string) string {
	base := strings.TrimRight(strings.TrimSpace(w.PublicBaseURL), "/")
	return fmt.Sprintf("%s/api/v1/webhooks/%s", base, strings.ToLower(strings.TrimSpace(provider)))
}

func (w WebhookConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(w.PublicBaseURL))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvPublicBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) url", EnvPublicBaseURL)
	}
	return nil
}

type ProvidersConfig struct {
	EvolutionBaseURL string        `envconfig:"CHATDESK_EVOLUTION_BASE_URL"`
	EvolutionAPIKey  string        `envconfig:"CHATDESK_EVOLUTION_API_KEY"`
	ZAPIBaseURL      string        `envconfig:"CHATDESK_ZAPI_BASE_URL" default:"https://api.z-api.io"`
	ZAPIClientToken  string        `envconfig:"CHATDESK_ZAPI_CLIENT_TOKEN"`
	RequestTimeout   time.Duration `envconfig:"CHATDESK_PROVIDER_REQUEST_TIMEOUT" default:"15s"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"CHATDESK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"CHATDESK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"CHATDESK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"CHATDESK_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	Transport      string        `envconfig:"CHATDESK_OUTBOX_TRANSPORT" default:"pubsub"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CHATDESK_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AssignmentsTopic string `envconfig:"CHATDESK_PUBSUB_ASSIGNMENTS_TOPIC" default:"chatdesk-assignment-events"`
	PipelineTopic    string `envconfig:"CHATDESK_PUBSUB_PIPELINE_TOPIC" default:"chatdesk-pipeline-events"`
	ConnectionsTopic string `envconfig:"CHATDESK_PUBSUB_CONNECTIONS_TOPIC" default:"chatdesk-connection-events"`
}

type AMQPConfig struct {
	URL      string `envconfig:"CHATDESK_AMQP_URL"`
	Exchange string `envconfig:"CHATDESK_AMQP_EXCHANGE" default:"chatdesk.events"`
}

// CronConfig drives the maintenance worker.
type CronConfig struct {
	Interval            time.Duration `envconfig:"CHATDESK_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"CHATDESK_CRON_LOCK_TTL" default:"30m"`
	OutboxRetentionDays int           `envconfig:"CHATDESK_CRON_OUTBOX_RETENTION_DAYS" default:"14"`
	DLQRetentionDays    int           `envconfig:"CHATDESK_CRON_DLQ_RETENTION_DAYS" default:"90"`
}

// resolveDSN fills DSN from the discrete Postgres fields when it is unset.
func (db *DBConfig) resolveDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("set %s or all of %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	dsn := url.URL{
		Scheme: DBDriverPostgres,
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.Password != "" {
		dsn.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}

func (o OutboxConfig) validate(amqp AMQPConfig) error {
	switch strings.ToLower(strings.TrimSpace(o.Transport)) {
	case "", OutboxTransportPubSub:
		return nil
	case OutboxTransportAMQP:
		if strings.TrimSpace(amqp.URL) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvAMQPURL, EnvOutboxTransport, OutboxTransportAMQP)
		}
		return nil
	default:
		return fmt.Errorf("%s must be %s or %s, got %q", EnvOutboxTransport, OutboxTransportPubSub, OutboxTransportAMQP, o.Transport)
	}
}

func (c CronConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronInterval)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvCronLockTTL)
	}
	return nil
}
