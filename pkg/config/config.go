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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Checkout     CheckoutConfig
	Payments     PaymentsConfig
	SSLCommerz   SSLCommerzConfig
	BKash        BKashConfig
	Nagad        NagadConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPHUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"SHOPHUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"SHOPHUB_LOG_WARN_STACK" default:"false"`
	FrontendURL  string `envconfig:"SHOPHUB_FRONTEND_URL" default:"http://localhost:3000"`
	PublicURL    string `envconfig:"SHOPHUB_PUBLIC_URL" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SHOPHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPHUB_DB_DSN"`
	Driver string `envconfig:"SHOPHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPHUB_DB_USER"`
	LegacyPassword string `envconfig:"SHOPHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"SHOPHUB_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite one.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SHOPHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SHOPHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SHOPHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPHUB_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	HTTPIdempotencyTTL     time.Duration `envconfig:"SHOPHUB_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
	CallbackIdempotencyTTL time.Duration `envconfig:"SHOPHUB_EVENTING_CALLBACK_IDEMPOTENCY_TTL" default:"168h"`
}

// CheckoutConfig carries the pricing constants used by the order builder.
type CheckoutConfig struct {
	FreeShippingThreshold string        `envconfig:"SHOPHUB_CHECKOUT_FREE_SHIPPING_THRESHOLD" default:"5000"`
	FlatShippingFee       string        `envconfig:"SHOPHUB_CHECKOUT_FLAT_SHIPPING_FEE" default:"100"`
	PendingOrderTTL       time.Duration `envconfig:"SHOPHUB_CHECKOUT_PENDING_ORDER_TTL" default:"24h"`
	RateLimitWindow       time.Duration `envconfig:"SHOPHUB_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerWindow    int64         `envconfig:"SHOPHUB_CHECKOUT_RATE_LIMIT" default:"30"`
}

// Threshold returns the subtotal above which shipping is free.
func (c CheckoutConfig) Threshold() decimal.Decimal {
	return decimal.RequireFromString(c.FreeShippingThreshold)
}

// ShippingFee returns the flat fee charged at or below the threshold.
func (c CheckoutConfig) ShippingFee() decimal.Decimal {
	return decimal.RequireFromString(c.FlatShippingFee)
}

func (c CheckoutConfig) validate() error {
	if _, err := decimal.NewFromString(c.FreeShippingThreshold); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCheckoutFreeShippingThreshold, err)
	}
	if _, err := decimal.NewFromString(c.FlatShippingFee); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCheckoutFlatShippingFee, err)
	}
	return nil
}

type PaymentsConfig struct {
	Timeout        time.Duration `envconfig:"SHOPHUB_PAYMENTS_TIMEOUT" default:"15s"`
	RatePerSecond  float64       `envconfig:"SHOPHUB_PAYMENTS_RATE_PER_SECOND" default:"10"`
	Burst          int           `envconfig:"SHOPHUB_PAYMENTS_BURST" default:"20"`
	VerifyIPN      bool          `envconfig:"SHOPHUB_PAYMENTS_VERIFY_IPN" default:"true"`
	CallbackPrefix string        `envconfig:"SHOPHUB_PAYMENTS_CALLBACK_PREFIX" default:"/api/v1/payments"`
}

type SSLCommerzConfig struct {
	Mode      string `envconfig:"SHOPHUB_SSLCOMMERZ_MODE" default:"sandbox"`
	StoreID   string `envconfig:"SHOPHUB_SSLCOMMERZ_STORE_ID"`
	StorePass string `envconfig:"SHOPHUB_SSLCOMMERZ_STORE_PASSWORD"`
	BaseURL   string `envconfig:"SHOPHUB_SSLCOMMERZ_BASE_URL"`
}

type BKashConfig struct {
	Mode      string `envconfig:"SHOPHUB_BKASH_MODE" default:"demo"`
	BaseURL   string `envconfig:"SHOPHUB_BKASH_BASE_URL" default:"https://tokenized.sandbox.bka.sh/v1.2.0-beta"`
	AppKey    string `envconfig:"SHOPHUB_BKASH_APP_KEY"`
	AppSecret string `envconfig:"SHOPHUB_BKASH_APP_SECRET"`
	Username  string `envconfig:"SHOPHUB_BKASH_USERNAME"`
	Password  string `envconfig:"SHOPHUB_BKASH_PASSWORD"`
}

type NagadConfig struct {
	Mode       string `envconfig:"SHOPHUB_NAGAD_MODE" default:"demo"`
	BaseURL    string `envconfig:"SHOPHUB_NAGAD_BASE_URL" default:"http://sandbox.mynagad.com:10080/remote-payment-gateway-1.0/api/dfs"`
	MerchantID string `envconfig:"SHOPHUB_NAGAD_MERCHANT_ID"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SHOPHUB_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SHOPHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SHOPHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic            string `envconfig:"SHOPHUB_PUBSUB_ORDERS_TOPIC" default:"shophub-order-events"`
	OrdersSubscription     string `envconfig:"SHOPHUB_PUBSUB_ORDERS_SUBSCRIPTION"`
	SettlementTopic        string `envconfig:"SHOPHUB_PUBSUB_SETTLEMENT_TOPIC" default:"shophub-settlement-events"`
	SettlementSubscription string `envconfig:"SHOPHUB_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SHOPHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SHOPHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SHOPHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SHOPHUB_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"SHOPHUB_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"SHOPHUB_CRON_LOCK_TTL" default:"4m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = DefaultSQLiteDSN
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
