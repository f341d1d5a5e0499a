package config

const EnvPrefix = "CAMPUSMART"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv      = "CAMPUSMART_APP_ENV"
	EnvPort        = "CAMPUSMART_APP_PORT"
	EnvLogLevel    = "CAMPUSMART_LOG_LEVEL"
	EnvLogFormat   = "CAMPUSMART_LOG_FORMAT"
	EnvMetricsAddr = "CAMPUSMART_METRICS_ADDR"

	EnvDBDSN    = "CAMPUSMART_DB_DSN"
	EnvDBDriver = "CAMPUSMART_DB_DRIVER"
	EnvDBHost   = "CAMPUSMART_DB_HOST"
	EnvDBUser   = "CAMPUSMART_DB_USER"
	EnvDBName   = "CAMPUSMART_DB_NAME"

	EnvRedisURL = "CAMPUSMART_REDIS_URL"

	EnvJWTSecret  = "CAMPUSMART_JWT_SECRET"
	EnvJWTIssuer  = "CAMPUSMART_JWT_ISSUER"
	EnvJWTExpMins = "CAMPUSMART_JWT_EXPIRATION_MINUTES"
	EnvJWTLeeway  = "CAMPUSMART_JWT_LEEWAY_SECONDS"

	EnvGCPProjectID      = "CAMPUSMART_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "CAMPUSMART_PUBSUB_ORDERS_TOPIC"
	EnvPubSubNotifSub    = "CAMPUSMART_PUBSUB_NOTIFICATIONS_SUBSCRIPTION"

	EnvOrderPendingExpiry = "CAMPUSMART_ORDER_PENDING_EXPIRY"
	EnvOrderTokenLength   = "CAMPUSMART_ORDER_PICKUP_TOKEN_LENGTH"
	EnvStreamKeepAlive    = "CAMPUSMART_STREAM_KEEPALIVE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
