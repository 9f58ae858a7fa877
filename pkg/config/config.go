package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Toss         TossConfig
	Points       PointsConfig
	Payments     PaymentsConfig
	Shipping     ShippingConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Eventing     EventingConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPCORE_DB_DSN"`
	Driver string `envconfig:"SHOPCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPCORE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPCORE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers token verification only. Issuance lives in the identity
// service; ExpirationMinutes exists for dev tooling that mints local tokens.
type JWTConfig struct {
	Secret            string `envconfig:"SHOPCORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPCORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type TossConfig struct {
	SecretKey     string        `envconfig:"SHOPCORE_TOSS_SECRET_KEY" required:"true"`
	ClientKey     string        `envconfig:"SHOPCORE_TOSS_CLIENT_KEY"`
	BaseURL       string        `envconfig:"SHOPCORE_TOSS_BASE_URL" default:"https://api.tosspayments.com"`
	WebhookSecret string        `envconfig:"SHOPCORE_TOSS_WEBHOOK_SECRET" required:"true"`
	HTTPTimeout   time.Duration `envconfig:"SHOPCORE_TOSS_HTTP_TIMEOUT" default:"10s"`
}

type PointsConfig struct {
	EarnRate    decimal.Decimal `envconfig:"SHOPCORE_POINTS_EARN_RATE" default:"0.01"`
	EarnTTLDays int             `envconfig:"SHOPCORE_POINTS_EARN_TTL_DAYS" default:"365"`
	MinUse      int64           `envconfig:"SHOPCORE_POINTS_MIN_USE" default:"0"`
}

// EarnTTL returns how long an earn grant stays spendable.
func (p PointsConfig) EarnTTL() time.Duration {
	return time.Duration(p.EarnTTLDays) * 24 * time.Hour
}

type PaymentsConfig struct {
	StockRelease    string        `envconfig:"SHOPCORE_PAYMENTS_STOCK_RELEASE" default:"deferred"`
	AbortReleaseTTL time.Duration `envconfig:"SHOPCORE_PAYMENTS_ABORT_RELEASE_TTL" default:"30m"`
}

// ReleasesImmediately reports whether aborted payments give their stock back
// inside the failing transition instead of waiting for the sweep.
func (p PaymentsConfig) ReleasesImmediately() bool {
	return strings.EqualFold(p.StockRelease, StockReleaseImmediate)
}

func (p PaymentsConfig) releaseModeValid() bool {
	return strings.EqualFold(p.StockRelease, StockReleaseImmediate) ||
		strings.EqualFold(p.StockRelease, StockReleaseDeferred)
}

type ShippingConfig struct {
	FreeThreshold   decimal.Decimal `envconfig:"SHOPCORE_SHIPPING_FREE_THRESHOLD" default:"30000"`
	BaseFee         decimal.Decimal `envconfig:"SHOPCORE_SHIPPING_BASE_FEE" default:"3000"`
	RemoteSurcharge decimal.Decimal `envconfig:"SHOPCORE_SHIPPING_REMOTE_SURCHARGE" default:"3000"`
	RemotePrefixes  []string        `envconfig:"SHOPCORE_SHIPPING_REMOTE_PREFIXES" default:"63,59,52"`
}

type RateLimitConfig struct {
	PaymentFailWindow  time.Duration `envconfig:"SHOPCORE_RATE_LIMIT_PAYMENT_FAIL_WINDOW" default:"1m"`
	PaymentFailIPLimit int           `envconfig:"SHOPCORE_RATE_LIMIT_PAYMENT_FAIL_IP_LIMIT" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPCORE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SHOPCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic               string `envconfig:"SHOPCORE_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription        string `envconfig:"SHOPCORE_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	NotificationsTopic        string `envconfig:"SHOPCORE_PUBSUB_NOTIFICATIONS_TOPIC" required:"true"`
	NotificationsSubscription string `envconfig:"SHOPCORE_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" required:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SHOPCORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type OutboxConfig struct {
	BatchSize          int           `envconfig:"SHOPCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS     int           `envconfig:"SHOPCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts        int           `envconfig:"SHOPCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishedRetention time.Duration `envconfig:"SHOPCORE_OUTBOX_PUBLISHED_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"SHOPCORE_CRON_INTERVAL" default:"1h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPCORE_AUTO_MIGRATE" default:"false"`
}

func (c *Config) validate() error {
	if !c.Payments.releaseModeValid() {
		return fmt.Errorf("%s must be %q or %q, got %q",
			EnvStockRelease, StockReleaseImmediate, StockReleaseDeferred, c.Payments.StockRelease)
	}
	if c.Points.EarnRate.IsNegative() {
		return fmt.Errorf("%s cannot be negative", EnvPointsEarnRate)
	}
	if c.Points.EarnTTLDays <= 0 {
		return fmt.Errorf("SHOPCORE_POINTS_EARN_TTL_DAYS must be positive")
	}
	if c.Points.MinUse < 0 {
		return fmt.Errorf("SHOPCORE_POINTS_MIN_USE cannot be negative")
	}
	return nil
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
