package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CAMPUSMART_APP_ENV" required:"true"`
	Port         string   `envconfig:"CAMPUSMART_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CAMPUSMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CAMPUSMART_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"CAMPUSMART_LOG_FORMAT" default:"json"`
	MetricsAddr  string   `envconfig:"CAMPUSMART_METRICS_ADDR"`
	CORSOrigins  []string `envconfig:"CAMPUSMART_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CAMPUSMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CAMPUSMART_DB_DSN"`
	Driver string `envconfig:"CAMPUSMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CAMPUSMART_DB_HOST"`
	LegacyPort     int    `envconfig:"CAMPUSMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CAMPUSMART_DB_USER"`
	LegacyPassword string `envconfig:"CAMPUSMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"CAMPUSMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"CAMPUSMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAMPUSMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUSMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUSMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUSMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CAMPUSMART_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

// IsSQLite reports whether the database driver targets a local sqlite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUSMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAMPUSMART_REDIS_ADDR"`
	Password     string        `envconfig:"CAMPUSMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUSMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUSMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUSMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUSMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUSMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CAMPUSMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CAMPUSMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CAMPUSMART_JWT_EXPIRATION_MINUTES" default:"60"`
	LeewaySeconds     int    `envconfig:"CAMPUSMART_JWT_LEEWAY_SECONDS" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CAMPUSMART_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"CAMPUSMART_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	InboxSize            int           `envconfig:"CAMPUSMART_EVENTING_INBOX_SIZE" default:"1024"`
	SubscriberBuffer     int           `envconfig:"CAMPUSMART_EVENTING_SUBSCRIBER_BUFFER" default:"32"`
	MaxMisses            int           `envconfig:"CAMPUSMART_EVENTING_MAX_MISSES" default:"8"`
	StreamKeepAlive      time.Duration `envconfig:"CAMPUSMART_STREAM_KEEPALIVE" default:"25s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CAMPUSMART_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	OrdersTopic               string `envconfig:"CAMPUSMART_PUBSUB_ORDERS_TOPIC" required:"true"`
	NotificationsSubscription string `envconfig:"CAMPUSMART_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" default:"campusmart-order-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CAMPUSMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CAMPUSMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CAMPUSMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type OrdersConfig struct {
	PickupTokenLength      int           `envconfig:"CAMPUSMART_ORDER_PICKUP_TOKEN_LENGTH" default:"4"`
	PickupTokenMaxAttempts int           `envconfig:"CAMPUSMART_ORDER_PICKUP_TOKEN_MAX_ATTEMPTS" default:"8"`
	OperationTimeout       time.Duration `envconfig:"CAMPUSMART_ORDER_OPERATION_TIMEOUT" default:"5s"`
	PendingExpiry          time.Duration `envconfig:"CAMPUSMART_ORDER_PENDING_EXPIRY" default:"2h"`
	PlaceRateLimit         int           `envconfig:"CAMPUSMART_ORDER_PLACE_RATE_LIMIT" default:"10"`
	PlaceRateWindow        time.Duration `envconfig:"CAMPUSMART_ORDER_PLACE_RATE_WINDOW" default:"1m"`
}

type CronConfig struct {
	Interval                  time.Duration `envconfig:"CAMPUSMART_CRON_INTERVAL" default:"1m"`
	LockTTL                   time.Duration `envconfig:"CAMPUSMART_CRON_LOCK_TTL" default:"5m"`
	ExpiryBatchSize           int           `envconfig:"CAMPUSMART_CRON_EXPIRY_BATCH_SIZE" default:"100"`
	OutboxRetentionDays       int           `envconfig:"CAMPUSMART_OUTBOX_RETENTION_DAYS" default:"30"`
	NotificationRetentionDays int           `envconfig:"CAMPUSMART_NOTIFICATION_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DBDriverSQLite)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
