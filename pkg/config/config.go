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
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Kafka        KafkaConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Queue        QueueConfig
	Cron         CronConfig
	SMTP         SMTPConfig
	Realtime     RealtimeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(cfg.Kafka); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BAZAARLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"BAZAARLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BAZAARLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BAZAARLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BAZAARLINE_SERVICE_KIND" default:"api"`
	// MetricsAddr exposes /metrics from background workers when set, e.g. ":9102".
	MetricsAddr string `envconfig:"BAZAARLINE_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"BAZAARLINE_DB_DSN"`
	Driver string `envconfig:"BAZAARLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BAZAARLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"BAZAARLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BAZAARLINE_DB_USER"`
	LegacyPassword string `envconfig:"BAZAARLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BAZAARLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BAZAARLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BAZAARLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BAZAARLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BAZAARLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BAZAARLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// TxRetries bounds how often a transaction is replayed after a
	// serialization failure or deadlock.
	TxRetries int `envconfig:"BAZAARLINE_DB_TX_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BAZAARLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BAZAARLINE_REDIS_ADDR"`
	Password     string        `envconfig:"BAZAARLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BAZAARLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BAZAARLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BAZAARLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BAZAARLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BAZAARLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BAZAARLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BAZAARLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BAZAARLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BAZAARLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite           bool `envconfig:"BAZAARLINE_USE_SQLITE" default:"false"`
	AutoMigrate         bool `envconfig:"BAZAARLINE_AUTO_MIGRATE" default:"false"`
	AllowCashOnDelivery bool `envconfig:"BAZAARLINE_FEATURE_ALLOW_COD" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BAZAARLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BAZAARLINE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BAZAARLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BAZAARLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"BAZAARLINE_PUBSUB_ORDERS_TOPIC" default:"bl-order-events"`
	OrdersSubscription       string `envconfig:"BAZAARLINE_PUBSUB_ORDERS_SUBSCRIPTION" default:"bl-order-events-sub"`
	NotificationTopic        string `envconfig:"BAZAARLINE_PUBSUB_NOTIFICATION_TOPIC" default:"bl-notification-events"`
	NotificationSubscription string `envconfig:"BAZAARLINE_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"bl-notification-events-sub"`
	AnalyticsTopic           string `envconfig:"BAZAARLINE_PUBSUB_ANALYTICS_TOPIC" default:"bl-analytics-events"`
	AnalyticsSubscription    string `envconfig:"BAZAARLINE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"bl-analytics-events-sub"`
}

type BigQueryConfig struct {
	Dataset                string `envconfig:"BAZAARLINE_BIGQUERY_DATASET" default:"bazaarline"`
	MarketplaceEventsTable string `envconfig:"BAZAARLINE_BIGQUERY_MARKETPLACE_TABLE" default:"marketplace_events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"BAZAARLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"BAZAARLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"BAZAARLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Sink           string `envconfig:"BAZAARLINE_OUTBOX_SINK" default:"pubsub"`
}

// PollInterval returns the publisher poll cadence.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

func (o OutboxConfig) validate(k KafkaConfig) error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkPubSub:
		return nil
	case OutboxSinkKafka:
		if len(k.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvOutboxSink, OutboxSinkKafka)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvOutboxSink, o.Sink)
	}
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"BAZAARLINE_KAFKA_BROKERS"`
	TopicPrefix string   `envconfig:"BAZAARLINE_KAFKA_TOPIC_PREFIX" default:"bazaarline."`
}

type StripeConfig struct {
	APIKey     string `envconfig:"BAZAARLINE_STRIPE_API_KEY"`
	Secret     string `envconfig:"BAZAARLINE_STRIPE_SECRET"`
	Env        string `envconfig:"BAZAARLINE_STRIPE_ENV" default:"test"`
	Currency   string `envconfig:"BAZAARLINE_STRIPE_CURRENCY" default:"usd"`
	SuccessURL string `envconfig:"BAZAARLINE_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL  string `envconfig:"BAZAARLINE_STRIPE_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CheckoutConfig holds the timing and amount rules of the order pipeline.
type CheckoutConfig struct {
	ReservationWindow  time.Duration `envconfig:"BAZAARLINE_CHECKOUT_RESERVATION_WINDOW" default:"5m"`
	SessionTTL         time.Duration `envconfig:"BAZAARLINE_CHECKOUT_SESSION_TTL" default:"30m"`
	MinimumAmountCents int64         `envconfig:"BAZAARLINE_CHECKOUT_MINIMUM_AMOUNT_CENTS" default:"50"`
}

type QueueConfig struct {
	Name         string        `envconfig:"BAZAARLINE_QUEUE_NAME" default:"order-expiry"`
	PollInterval time.Duration `envconfig:"BAZAARLINE_QUEUE_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `envconfig:"BAZAARLINE_QUEUE_BATCH_SIZE" default:"25"`
	MaxAttempts  int           `envconfig:"BAZAARLINE_QUEUE_MAX_ATTEMPTS" default:"5"`
	BaseBackoff  time.Duration `envconfig:"BAZAARLINE_QUEUE_BASE_BACKOFF" default:"2s"`
	Lease        time.Duration `envconfig:"BAZAARLINE_QUEUE_LEASE" default:"30s"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"BAZAARLINE_CRON_INTERVAL" default:"1m"`
	LockTTL               time.Duration `envconfig:"BAZAARLINE_CRON_LOCK_TTL" default:"5m"`
	LockName              string        `envconfig:"BAZAARLINE_CRON_LOCK_NAME" default:"cron:maintenance"`
	ExpiredOrderRetention time.Duration `envconfig:"BAZAARLINE_CRON_EXPIRED_ORDER_RETENTION" default:"168h"`
	OutboxRetention       time.Duration `envconfig:"BAZAARLINE_CRON_OUTBOX_RETENTION" default:"720h"`
	StaleGrace            time.Duration `envconfig:"BAZAARLINE_CRON_STALE_GRACE" default:"2m"`
}

type SMTPConfig struct {
	Host     string `envconfig:"BAZAARLINE_SMTP_HOST"`
	Port     int    `envconfig:"BAZAARLINE_SMTP_PORT" default:"587"`
	Username string `envconfig:"BAZAARLINE_SMTP_USERNAME"`
	Password string `envconfig:"BAZAARLINE_SMTP_PASSWORD"`
	From     string `envconfig:"BAZAARLINE_SMTP_FROM" default:"orders@bazaarline.local"`
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type RealtimeConfig struct {
	AllowedOrigins []string      `envconfig:"BAZAARLINE_REALTIME_ALLOWED_ORIGINS"`
	PingInterval   time.Duration `envconfig:"BAZAARLINE_REALTIME_PING_INTERVAL" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
