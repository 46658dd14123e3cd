package config

const (
	EnvPrefix = "BAZAARLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	EnvAppEnv       = "BAZAARLINE_APP_ENV"
	EnvPort         = "BAZAARLINE_APP_PORT"
	EnvDBDSN        = "BAZAARLINE_DB_DSN"
	EnvDBHost       = "BAZAARLINE_DB_HOST"
	EnvDBUser       = "BAZAARLINE_DB_USER"
	EnvDBName       = "BAZAARLINE_DB_NAME"
	EnvDBPassword   = "BAZAARLINE_DB_PASSWORD"
	EnvRedisURL     = "BAZAARLINE_REDIS_URL"
	EnvJWTSecret    = "BAZAARLINE_JWT_SECRET"
	EnvJWTIssuer    = "BAZAARLINE_JWT_ISSUER"
	EnvJWTExpMins   = "BAZAARLINE_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID = "BAZAARLINE_GCP_PROJECT_ID"
	EnvOutboxSink   = "BAZAARLINE_OUTBOX_SINK"
	EnvKafkaBrokers = "BAZAARLINE_KAFKA_BROKERS"

	EnvCheckoutReservationWindow = "BAZAARLINE_CHECKOUT_RESERVATION_WINDOW"
	EnvCheckoutMinimumAmount     = "BAZAARLINE_CHECKOUT_MINIMUM_AMOUNT_CENTS"
	EnvQueueMaxAttempts          = "BAZAARLINE_QUEUE_MAX_ATTEMPTS"
	EnvRealtimeAllowedOrigins    = "BAZAARLINE_REALTIME_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
