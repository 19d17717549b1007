package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/felimargom/ppss/internal/pkg/entitlements"
	"github.com/felimargom/ppss/internal/pkg/env"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	PayPalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	PayPalLiveBaseURL    = "https://api-m.paypal.com"

	DefaultCertName = "messageverificationcerts.paypal.com"
)

var DefaultCertHosts = []string{
	"api.paypal.com",
	"api.sandbox.paypal.com",
	"api-m.paypal.com",
	"api-m.sandbox.paypal.com",
}

type Config struct {
	App     AppConfig
	DB      DBConfig
	Cache   CacheConfig
	PayPal  PayPalConfig
	Billing BillingConfig
	SMTP    SMTPConfig
	Admin   AdminConfig
	Queue   QueueConfig
}

type AppConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Env      string `validate:"oneof=dev prod test"`
	Location *time.Location
	// PublicURL is where buyers reach the service, used for PayPal return links.
	PublicURL string `validate:"omitempty,url"`
}

// URL returns the public address of path, or "" without APP_PUBLIC_URL.
func (a AppConfig) URL(path string) string {
	if a.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(a.PublicURL, "/") + path
}

type DBConfig struct {
	User     string
	Password string
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Name     string
}

type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
	DB       int `validate:"min=0"`
}

// Addr returns host:port for the redis client.
func (c CacheConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type PayPalConfig struct {
	ClientID      string
	ClientSecret  string
	Sandbox       bool
	WebhookID     string
	CertHosts     []string `validate:"min=1,dive,hostname"`
	CertRootsFile string
	CertName      string `validate:"required"`
}

// BaseURL returns the REST endpoint matching the sandbox flag.
func (p PayPalConfig) BaseURL() string {
	if p.Sandbox {
		return PayPalSandboxBaseURL
	}
	return PayPalLiveBaseURL
}

type BillingConfig struct {
	Currency      string `validate:"required,len=3"`
	TaxPercent    decimal.Decimal
	Entitlements  entitlements.Mapping
	SuccessURL    string `validate:"omitempty,url"`
	ErrorURL      string `validate:"omitempty,url"`
	OperatorEmail string `validate:"omitempty,email"`
}

type SMTPConfig struct {
	Host     string
	Port     int `validate:"min=0,max=65535"`
	Username string
	Password string
	Sender   string `validate:"omitempty,email"`
}

type AdminConfig struct {
	User     string
	Password string
}

type QueueConfig struct {
	Workers       int           `validate:"min=1,max=64"`
	MaxRetries    int           `validate:"min=0"`
	RetryDelay    time.Duration `validate:"min=0"`
	SweepInterval time.Duration `validate:"min=0"`
}

// Load reads the configuration from the env map and the process environment.
func Load() (*Config, error) {
	loc, err := time.LoadLocation(env.GetEnv("APP_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}

	tax, err := decimal.NewFromString(env.GetEnv("PPSS_TAX", "0"))
	if err != nil {
		return nil, fmt.Errorf("PPSS_TAX: %w", err)
	}
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("PPSS_TAX: %s is not a percentage", tax)
	}

	cacheDB, err := intEnv("CACHE_DB", 0)
	if err != nil {
		return nil, err
	}
	smtpPort, err := intEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	workers, err := intEnv("QUEUE_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	maxRetries, err := intEnv("QUEUE_MAX_RETRIES", 5)
	if err != nil {
		return nil, err
	}
	retryDelay, err := durationEnv("QUEUE_RETRY_DELAY", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sweep, err := durationEnv("SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	sandbox, err := strconv.ParseBool(env.GetEnv("PAYPAL_SANDBOX", "true"))
	if err != nil {
		return nil, fmt.Errorf("PAYPAL_SANDBOX: %w", err)
	}

	certHosts := splitList(env.GetEnv("PAYPAL_CERT_HOSTS", ""))
	if len(certHosts) == 0 {
		certHosts = append([]string(nil), DefaultCertHosts...)
	}

	cfg := &Config{
		App: AppConfig{
			Host:      env.GetEnv("APP_HOST", "0.0.0.0"),
			Port:      env.GetEnv("APP_PORT", "4000"),
			Env:       env.GetEnv("APP_ENV", "prod"),
			Location:  loc,
			PublicURL: env.GetEnv("APP_PUBLIC_URL", ""),
		},
		DB: DBConfig{
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       cacheDB,
		},
		PayPal: PayPalConfig{
			ClientID:      env.GetEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret:  env.GetEnv("PAYPAL_CLIENT_SECRET", ""),
			Sandbox:       sandbox,
			WebhookID:     env.GetEnv("PAYPAL_WEBHOOK_ID", ""),
			CertHosts:     certHosts,
			CertRootsFile: env.GetEnv("PAYPAL_CERT_ROOTS_FILE", ""),
			CertName:      env.GetEnv("PAYPAL_CERT_NAME", DefaultCertName),
		},
		Billing: BillingConfig{
			Currency:   strings.ToUpper(env.GetEnv("PPSS_CURRENCY", "USD")),
			TaxPercent: tax,
			Entitlements: entitlements.Mapping{
				DefaultRole:    env.GetEnv("PPSS_DEFAULT_ROLE", "subscriber"),
				PlanRoles:      entitlements.ParsePlanRoles(env.GetEnv("PPSS_PLAN_ROLES", "")),
				RoleCategories: entitlements.ParseRoleCategories(env.GetEnv("PPSS_ROLE_CATEGORIES", "")),
			},
			SuccessURL:    env.GetEnv("PPSS_SUCCESS_URL", ""),
			ErrorURL:      env.GetEnv("PPSS_ERROR_URL", ""),
			OperatorEmail: env.GetEnv("PPSS_OPERATOR_EMAIL", ""),
		},
		SMTP: SMTPConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     smtpPort,
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   env.GetEnv("SMTP_SENDER", ""),
		},
		Admin: AdminConfig{
			User:     env.GetEnv("ADMIN_USER", ""),
			Password: env.GetEnv("ADMIN_PASSWORD", ""),
		},
		Queue: QueueConfig{
			Workers:       workers,
			MaxRetries:    maxRetries,
			RetryDelay:    retryDelay,
			SweepInterval: sweep,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags of every section.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireWebhook reports whether the settings needed to verify and answer
// PayPal traffic are present.
func (c *Config) RequireWebhook() error {
	var missing []string
	if c.PayPal.WebhookID == "" {
		missing = append(missing, "PAYPAL_WEBHOOK_ID")
	}
	if c.PayPal.ClientID == "" {
		missing = append(missing, "PAYPAL_CLIENT_ID")
	}
	if c.PayPal.ClientSecret == "" {
		missing = append(missing, "PAYPAL_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func intEnv(key string, def int) (int, error) {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
