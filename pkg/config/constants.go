package config

// EnvPrefix is passed to envconfig; every field carries its full SHOPHUB_* name.
const EnvPrefix = "SHOPHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultSQLiteDSN = "file:shophub.db?_foreign_keys=on"
)

const (
	EnvAppEnv    = "SHOPHUB_APP_ENV"
	EnvPort      = "SHOPHUB_APP_PORT"
	EnvRedisURL  = "SHOPHUB_REDIS_URL"
	EnvJWTSecret = "SHOPHUB_JWT_SECRET"
	EnvJWTIssuer = "SHOPHUB_JWT_ISSUER"
	EnvDBDriver  = "SHOPHUB_DB_DRIVER"
	EnvUseSQLite = "SHOPHUB_USE_SQLITE"

	EnvDBDSN  = "SHOPHUB_DB_DSN"
	EnvDBHost = "SHOPHUB_DB_HOST"
	EnvDBUser = "SHOPHUB_DB_USER"
	EnvDBName = "SHOPHUB_DB_NAME"

	EnvCheckoutFreeShippingThreshold = "SHOPHUB_CHECKOUT_FREE_SHIPPING_THRESHOLD"
	EnvCheckoutFlatShippingFee       = "SHOPHUB_CHECKOUT_FLAT_SHIPPING_FEE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
