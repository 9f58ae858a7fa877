package config

// EnvPrefix is handed to envconfig; individual struct tags carry the full
// variable names so they stay greppable.
const EnvPrefix = "shopcore"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Stock release policy for aborted payments.
const (
	StockReleaseImmediate = "immediate"
	StockReleaseDeferred  = "deferred"
)

const (
	EnvAppEnv   = "SHOPCORE_APP_ENV"
	EnvPort     = "SHOPCORE_APP_PORT"
	EnvLogLevel = "SHOPCORE_LOG_LEVEL"

	EnvDBDSN      = "SHOPCORE_DB_DSN"
	EnvDBHost     = "SHOPCORE_DB_HOST"
	EnvDBPort     = "SHOPCORE_DB_PORT"
	EnvDBUser     = "SHOPCORE_DB_USER"
	EnvDBPassword = "SHOPCORE_DB_PASSWORD"
	EnvDBName     = "SHOPCORE_DB_NAME"

	EnvRedisURL = "SHOPCORE_REDIS_URL"

	EnvJWTSecret = "SHOPCORE_JWT_SECRET"
	EnvJWTIssuer = "SHOPCORE_JWT_ISSUER"

	EnvTossSecretKey     = "SHOPCORE_TOSS_SECRET_KEY"
	EnvTossWebhookSecret = "SHOPCORE_TOSS_WEBHOOK_SECRET"

	EnvPointsEarnRate = "SHOPCORE_POINTS_EARN_RATE"
	EnvStockRelease   = "SHOPCORE_PAYMENTS_STOCK_RELEASE"

	EnvGCPProjectID = "SHOPCORE_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic        = "SHOPCORE_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub          = "SHOPCORE_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubNotificationsTopic = "SHOPCORE_PUBSUB_NOTIFICATIONS_TOPIC"
	EnvPubSubNotificationsSub   = "SHOPCORE_PUBSUB_NOTIFICATIONS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
