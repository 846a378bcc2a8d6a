package config

const (
	// EnvPrefix is applied by envconfig on top of the per-field names.
	EnvPrefix = "COURSEHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "COURSEHUB_DB_DSN"
	EnvDBHost = "COURSEHUB_DB_HOST"
	EnvDBUser = "COURSEHUB_DB_USER"
	EnvDBName = "COURSEHUB_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
