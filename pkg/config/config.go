package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Flags    FeatureFlagsConfig
	SMTP     SMTPConfig
	Rates    RatesConfig
	Policy   PolicyDefaultsConfig
	Invoices InvoiceConfig
	Square   SquareConfig
	PayPal   PayPalConfig
	Paymob   PaymobConfig
	Fawry    FawryConfig
	Webhooks WebhookConfig
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
	Env          string `envconfig:"COURSEHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"COURSEHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COURSEHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COURSEHUB_LOG_WARN_STACK" default:"false"`
	BaseCurrency string `envconfig:"COURSEHUB_BASE_CURRENCY" default:"USD"`
	PublicURL    string `envconfig:"COURSEHUB_PUBLIC_URL" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"COURSEHUB_DB_DSN"`
	Driver string `envconfig:"COURSEHUB_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COURSEHUB_DB_HOST"`
	Port     int    `envconfig:"COURSEHUB_DB_PORT" default:"5432"`
	User     string `envconfig:"COURSEHUB_DB_USER"`
	Password string `envconfig:"COURSEHUB_DB_PASSWORD"`
	Name     string `envconfig:"COURSEHUB_DB_NAME"`
	SSLMode  string `envconfig:"COURSEHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEHUB_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"COURSEHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COURSEHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COURSEHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COURSEHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COURSEHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COURSEHUB_AUTO_MIGRATE" default:"false"`
}

type SMTPConfig struct {
	Host     string `envconfig:"COURSEHUB_SMTP_HOST"`
	Port     int    `envconfig:"COURSEHUB_SMTP_PORT" default:"587"`
	Username string `envconfig:"COURSEHUB_SMTP_USERNAME"`
	Password string `envconfig:"COURSEHUB_SMTP_PASSWORD"`
	From     string `envconfig:"COURSEHUB_SMTP_FROM" default:"billing@coursehub.app"`
}

// Configured reports whether outbound mail can be attempted at all.
func (s SMTPConfig) Configured() bool {
	return strings.TrimSpace(s.Host) != ""
}

type RatesConfig struct {
	SourceURL    string        `envconfig:"COURSEHUB_RATES_SOURCE_URL" default:"https://open.er-api.com/v6/latest"`
	APIKey       string        `envconfig:"COURSEHUB_RATES_API_KEY"`
	MaxStaleness time.Duration `envconfig:"COURSEHUB_RATES_MAX_STALENESS" default:"24h"`
	HTTPTimeout  time.Duration `envconfig:"COURSEHUB_RATES_HTTP_TIMEOUT" default:"10s"`
}

type PolicyDefaultsConfig struct {
	RefundWindowDays         int `envconfig:"COURSEHUB_REFUND_WINDOW_DAYS" default:"30"`
	RefundMaxCompletionPct   int `envconfig:"COURSEHUB_REFUND_MAX_COMPLETION_PCT" default:"30"`
	InvoiceDeliveryAttempts  int `envconfig:"COURSEHUB_INVOICE_DELIVERY_ATTEMPTS" default:"3"`
	InvoiceDeliveryQueueSize int `envconfig:"COURSEHUB_INVOICE_DELIVERY_QUEUE" default:"256"`
}

type InvoiceConfig struct {
	NumberPrefix string `envconfig:"COURSEHUB_INVOICE_NUMBER_PREFIX" default:"INV"`
	BaseURL      string `envconfig:"COURSEHUB_INVOICE_BASE_URL" default:"https://coursehub.app/invoices"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"COURSEHUB_SQUARE_ACCESS_TOKEN"`
	LocationID    string `envconfig:"COURSEHUB_SQUARE_LOCATION_ID"`
	WebhookSecret string `envconfig:"COURSEHUB_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"COURSEHUB_SQUARE_ENV" default:"sandbox"`
	Enabled       bool   `envconfig:"COURSEHUB_SQUARE_ENABLED" default:"true"`
}

func (s SquareConfig) Configured() bool {
	return strings.TrimSpace(s.AccessToken) != "" && strings.TrimSpace(s.WebhookSecret) != ""
}

func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PayPalConfig struct {
	ClientID     string `envconfig:"COURSEHUB_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"COURSEHUB_PAYPAL_CLIENT_SECRET"`
	WebhookID    string `envconfig:"COURSEHUB_PAYPAL_WEBHOOK_ID"`
	Env          string `envconfig:"COURSEHUB_PAYPAL_ENV" default:"sandbox"`
	Enabled      bool   `envconfig:"COURSEHUB_PAYPAL_ENABLED" default:"true"`
}

func (p PayPalConfig) Configured() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

// BaseURL resolves the PayPal REST endpoint for the configured environment.
func (p PayPalConfig) BaseURL() string {
	if strings.EqualFold(p.Env, "live") {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type PaymobConfig struct {
	APIKey        string `envconfig:"COURSEHUB_PAYMOB_API_KEY"`
	IntegrationID string `envconfig:"COURSEHUB_PAYMOB_INTEGRATION_ID"`
	IframeID      string `envconfig:"COURSEHUB_PAYMOB_IFRAME_ID"`
	HMACSecret    string `envconfig:"COURSEHUB_PAYMOB_HMAC_SECRET"`
	BaseURL       string `envconfig:"COURSEHUB_PAYMOB_BASE_URL" default:"https://accept.paymob.com/api"`
	Enabled       bool   `envconfig:"COURSEHUB_PAYMOB_ENABLED" default:"true"`
}

func (p PaymobConfig) Configured() bool {
	return strings.TrimSpace(p.APIKey) != "" && strings.TrimSpace(p.HMACSecret) != ""
}

type FawryConfig struct {
	MerchantCode string `envconfig:"COURSEHUB_FAWRY_MERCHANT_CODE"`
	SecurityKey  string `envconfig:"COURSEHUB_FAWRY_SECURITY_KEY"`
	BaseURL      string `envconfig:"COURSEHUB_FAWRY_BASE_URL" default:"https://atfawry.fawrystaging.com"`
	Enabled      bool   `envconfig:"COURSEHUB_FAWRY_ENABLED" default:"true"`
}

func (f FawryConfig) Configured() bool {
	return strings.TrimSpace(f.MerchantCode) != "" && strings.TrimSpace(f.SecurityKey) != ""
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"COURSEHUB_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	GatewayTimeout time.Duration `envconfig:"COURSEHUB_GATEWAY_TIMEOUT" default:"15s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
