package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/kv"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from the environment; a .env file in the working directory
// fills in anything the environment leaves unset.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	Storage    StorageConfig
	CallCenter CallCenterConfig
}

type AppConfig struct {
	Env  string
	Port int
	// LogLevel overrides the environment default (debug in local/dev).
	LogLevel string
	// AllowedOrigins enables CORS for browser workstations. Empty disables it.
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	MaxConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// JWKSURL, when set, also accepts access tokens signed by an external
	// identity provider.
	JWKSURL string
}

type TwilioConfig struct {
	AccountSID string
	// AuthToken enables X-Twilio-Signature verification on form webhooks.
	AuthToken string
	// WebhookSecret guards the JSON events endpoint.
	WebhookSecret string
}

// StorageConfig selects the kv backend for agents and calls.
type StorageConfig struct {
	Backend string
}

type CallCenterConfig struct {
	Number             string
	OutboundProfileID  string
	MaxDialAttempts    int
	DialTimeout        time.Duration
	DialTimeLimit      time.Duration
	VoicemailEnabled   bool
	RecordingEnabled   bool
	VoicemailMaxLength time.Duration
	WebhookBaseURL     string
	HeartbeatMaxAge    time.Duration
	SweepInterval      time.Duration
	InitialAgents      []agents.Registration
}

func Load() (Config, error) {
	// godotenv never overrides variables that are already set
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error
	collect := func(err error) {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
	}
	var err error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	c.App.Port, err = mustInt("APP_PORT")
	collect(err)
	c.App.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, err = optionalInt("DB_PORT", 5432)
	collect(err)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxConns, err = optionalInt("DB_MAX_CONNS", 10)
	collect(err)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, err = optionalInt("REDIS_PORT", 6379)
	collect(err)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, err = optionalInt("REDIS_DB", 0)
	collect(err)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, err = optionalDuration("JWT_ACCESS_TTL", 0)
	collect(err)
	c.Auth.RefreshTokenTTL, err = optionalDuration("JWT_REFRESH_TTL", 0)
	collect(err)
	c.Auth.JWKSURL = strings.TrimSpace(os.Getenv("AUTH_JWKS_URL"))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.WebhookSecret = os.Getenv("TWILIO_WEBHOOK_SECRET")

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND")))

	cc := &c.CallCenter
	cc.Number = strings.TrimSpace(os.Getenv("ACD_CALL_CENTER_NUMBER"))
	cc.OutboundProfileID = strings.TrimSpace(os.Getenv("ACD_OUTBOUND_PROFILE_ID"))
	cc.MaxDialAttempts, err = optionalInt("ACD_MAX_DIAL_ATTEMPTS", 3)
	collect(err)
	cc.DialTimeout, err = optionalDuration("ACD_DIAL_TIMEOUT", 30*time.Second)
	collect(err)
	cc.DialTimeLimit, err = optionalDuration("ACD_DIAL_TIME_LIMIT", 4*time.Hour)
	collect(err)
	cc.VoicemailEnabled, err = optionalBool("ACD_VOICEMAIL_ENABLED", true)
	collect(err)
	cc.RecordingEnabled, err = optionalBool("ACD_RECORDING_ENABLED", true)
	collect(err)
	cc.VoicemailMaxLength, err = optionalDuration("ACD_VOICEMAIL_MAX_LENGTH", 120*time.Second)
	collect(err)
	cc.WebhookBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("ACD_WEBHOOK_BASE_URL")), "/")
	cc.HeartbeatMaxAge, err = optionalDuration("ACD_HEARTBEAT_MAX_AGE", 90*time.Second)
	collect(err)
	cc.SweepInterval, err = optionalDuration("ACD_SWEEP_INTERVAL", 30*time.Second)
	collect(err)
	cc.InitialAgents, err = parseAgents("ACD_INITIAL_AGENTS")
	collect(err)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills the values that have environment-dependent defaults.
func (c *Config) ApplyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = kv.BackendMemory
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.CallCenter.WebhookBaseURL == "" && c.IsLocal() {
		c.CallCenter.WebhookBaseURL = fmt.Sprintf("http://localhost:%d/webhooks/voice", c.App.Port)
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	switch c.App.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	switch c.Storage.Backend {
	case kv.BackendMemory:
	case kv.BackendPostgres:
		errs = append(errs, c.validateDB()...)
	case kv.BackendRedis:
		errs = append(errs, c.validateRedis()...)
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, postgres, got %q", c.Storage.Backend))
	}
	if c.Redis.Host != "" && c.Storage.Backend != kv.BackendRedis {
		errs = append(errs, c.validateRedis()...)
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
		if c.Twilio.WebhookSecret == "" {
			errs = append(errs, errors.New("TWILIO_WEBHOOK_SECRET is required in production"))
		}
	}
	if c.Auth.JWKSURL != "" && !strings.HasPrefix(c.Auth.JWKSURL, "https://") && !c.IsLocal() {
		errs = append(errs, errors.New("AUTH_JWKS_URL must use https outside local and dev"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateCallCenter()...)
	return joinErrors(errs)
}

func (c Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) validateRedis() []error {
	var errs []error
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	return errs
}

func (c Config) validateCallCenter() []error {
	var errs []error
	cc := c.CallCenter
	if cc.MaxDialAttempts < 1 {
		errs = append(errs, fmt.Errorf("ACD_MAX_DIAL_ATTEMPTS must be at least 1, got %d", cc.MaxDialAttempts))
	}
	if cc.DialTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ACD_DIAL_TIMEOUT must be at least 1s, got %s", cc.DialTimeout))
	}
	if cc.DialTimeLimit < cc.DialTimeout {
		errs = append(errs, errors.New("ACD_DIAL_TIME_LIMIT must not be shorter than ACD_DIAL_TIMEOUT"))
	}
	if cc.VoicemailEnabled && cc.VoicemailMaxLength < time.Second {
		errs = append(errs, fmt.Errorf("ACD_VOICEMAIL_MAX_LENGTH must be at least 1s, got %s", cc.VoicemailMaxLength))
	}
	if cc.WebhookBaseURL == "" {
		errs = append(errs, errors.New("ACD_WEBHOOK_BASE_URL is required outside local and dev"))
	} else if !strings.HasPrefix(cc.WebhookBaseURL, "http://") && !strings.HasPrefix(cc.WebhookBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("ACD_WEBHOOK_BASE_URL must be an http(s) URL, got %q", cc.WebhookBaseURL))
	}
	if cc.HeartbeatMaxAge <= 0 {
		errs = append(errs, errors.New("ACD_HEARTBEAT_MAX_AGE must be positive"))
	}
	if cc.SweepInterval <= 0 {
		errs = append(errs, errors.New("ACD_SWEEP_INTERVAL must be positive"))
	}
	for i, a := range cc.InitialAgents {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Address) == "" {
			errs = append(errs, fmt.Errorf("ACD_INITIAL_AGENTS[%d] needs id and address", i))
		}
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
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

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration like 30s, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func parseAgents(key string) ([]agents.Registration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	var out []agents.Registration
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("%s must be a JSON array of agents: %w", key, err)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
