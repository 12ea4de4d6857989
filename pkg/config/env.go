package config

// EnvPrefix is passed to envconfig; every tag already carries the full name.
const EnvPrefix = "CHATDESK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	OutboxTransportPubSub = "pubsub"
	OutboxTransportAMQP   = "amqp"
)

const (
	EnvAppEnv        = "CHATDESK_APP_ENV"
	EnvPort          = "CHATDESK_APP_PORT"
	EnvLogLevel      = "CHATDESK_LOG_LEVEL"
	EnvDBDSN         = "CHATDESK_DB_DSN"
	EnvDBDriver      = "CHATDESK_DB_DRIVER"
	EnvDBHost        = "CHATDESK_DB_HOST"
	EnvDBUser        = "CHATDESK_DB_USER"
	EnvDBName        = "CHATDESK_DB_NAME"
	EnvRedisURL      = "CHATDESK_REDIS_URL"
	EnvJWTSecret     = "CHATDESK_JWT_SECRET"
	EnvJWTIssuer     = "CHATDESK_JWT_ISSUER"
	EnvPublicBaseURL = "CHATDESK_PUBLIC_BASE_URL"
	EnvEvolutionURL  = "CHATDESK_EVOLUTION_BASE_URL"
	EnvEvolutionKey  = "CHATDESK_EVOLUTION_API_KEY"
	EnvZAPIToken     = "CHATDESK_ZAPI_CLIENT_TOKEN"
	EnvGCPProjectID  = "CHATDESK_GCP_PROJECT_ID"
	EnvAMQPURL       = "CHATDESK_AMQP_URL"

	EnvOutboxTransport = "CHATDESK_OUTBOX_TRANSPORT"
	EnvCronInterval    = "CHATDESK_CRON_INTERVAL"
	EnvCronLockTTL     = "CHATDESK_CRON_LOCK_TTL"
)
