package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Provider   ProviderConfig
	Extraction ExtractionConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base URL of this service,
	// used when registering webhook callbacks with the voice provider.
	PublicBaseURL string
}

// StoreConfig selects the record store backend.
// "memory" is the default and keeps all state process-local.
type StoreConfig struct {
	Backend string
}

const (
	StoreBackendMemory   = "memory"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// DashboardKey is the shared credential the dashboard exchanges for a token pair.
	DashboardKey string
}

// ProviderConfig carries voice provider credentials and call defaults.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	PhoneNumber string

	// SkipSignature disables webhook signature verification.
	// Local development only; refused in production.
	SkipSignature bool
}

// ExtractionConfig carries language-model settings for transcript post-processing.
type ExtractionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Workers int
	Queue   int
}

// Placeholder credentials applied outside production when env vars are unset.
// Local runs must work without real keys; production validation rejects these values.
const (
	placeholderProviderKey = "dummy_provider_key"
	placeholderModelKey    = "dummy_model_key"
	placeholderPhone       = "+1234567890"
	placeholderBaseURL     = "http://localhost:8000"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))

	c.Store.Backend = strings.TrimSpace(os.Getenv("STORE_BACKEND"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optionalInt("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optionalInt("REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	c.Auth.DashboardKey = os.Getenv("DASHBOARD_API_KEY")

	c.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	c.Provider.PhoneNumber = strings.TrimSpace(os.Getenv("PROVIDER_PHONE_NUMBER"))
	c.Provider.SkipSignature = boolEnv("WEBHOOK_SKIP_SIGNATURE")

	c.Extraction.APIKey = os.Getenv("MODEL_API_KEY")
	c.Extraction.BaseURL = strings.TrimSpace(os.Getenv("MODEL_BASE_URL"))
	c.Extraction.Model = strings.TrimSpace(os.Getenv("MODEL_NAME"))
	c.Extraction.Workers = optionalInt("EXTRACTION_WORKERS")
	c.Extraction.Queue = optionalInt("EXTRACTION_QUEUE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills local-friendly placeholders for anything unset.
// Production never reaches defaults for secrets: Validate rejects placeholders there.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "local"
	}
	if c.App.PublicBaseURL == "" {
		c.App.PublicBaseURL = placeholderBaseURL
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendMemory
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = placeholderProviderKey
	}
	if c.Provider.PhoneNumber == "" {
		c.Provider.PhoneNumber = placeholderPhone
	}
	if c.Extraction.APIKey == "" {
		c.Extraction.APIKey = placeholderModelKey
	}
	if c.Extraction.Model == "" {
		c.Extraction.Model = "gpt-4o-mini"
	}
	if c.Extraction.Workers <= 0 {
		c.Extraction.Workers = 4
	}
	if c.Extraction.Queue <= 0 {
		c.Extraction.Queue = 64
	}
	if c.Auth.JWTSecret == "" && !c.IsProduction() {
		c.Auth.JWTSecret = "insecure-local-secret"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
}

func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when STORE_BACKEND=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case StoreBackendPostgres:
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required when STORE_BACKEND=postgres"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when STORE_BACKEND=postgres"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when STORE_BACKEND=postgres"))
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres, got %q", c.Store.Backend))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() {
		if c.Provider.APIKey == placeholderProviderKey {
			errs = append(errs, errors.New("PROVIDER_API_KEY is required in production"))
		}
		if c.Extraction.APIKey == placeholderModelKey {
			errs = append(errs, errors.New("MODEL_API_KEY is required in production"))
		}
		if c.App.PublicBaseURL == placeholderBaseURL {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
		if c.Provider.SkipSignature {
			errs = append(errs, errors.New("WEBHOOK_SKIP_SIGNATURE must not be set in production"))
		}
		if c.Auth.DashboardKey == "" {
			errs = append(errs, errors.New("DASHBOARD_API_KEY is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	sslMode := c.DB.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		sslMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return false
	}
	return b
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
