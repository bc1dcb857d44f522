package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	OpenAI     OpenAIConfig
	ElevenLabs ElevenLabsConfig
	HubSpot    HubSpotConfig
	Calling    CallingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base URL used to build
	// provider callback URLs (e.g. https://api.example.com).
	PublicBaseURL string
}

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
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

type OpenAIConfig struct {
	APIKey string

	// ClassifyModel is the cheap/fast model used for intent labels.
	// GenerateModel is used for spoken replies.
	ClassifyModel string
	GenerateModel string
}

type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
}

type HubSpotConfig struct {
	AccessToken string

	// NurtureWorkflowID is the workflow contacts are enrolled in when a
	// lead scores into the nurture band. Empty disables enrollment.
	NurtureWorkflowID string
}

// CallingConfig governs compliance and pacing defaults.
type CallingConfig struct {
	// WindowStartHour/WindowEndHour bound the dialing window, half-open
	// [start, end), evaluated in the campaign timezone.
	WindowStartHour int
	WindowEndHour   int

	// DefaultTimezone is the IANA zone used when a campaign has none.
	DefaultTimezone string

	// LookbackWindow blocks redialing a contact called within this span.
	LookbackWindow time.Duration

	// DispatchBatchCap limits contacts queued per campaign start.
	DispatchBatchCap int

	// DefaultCallsPerMinute is used when a start request omits pacing.
	DefaultCallsPerMinute int

	// BookingLink is texted to qualified leads.
	BookingLink string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.ClassifyModel = strings.TrimSpace(os.Getenv("OPENAI_CLASSIFY_MODEL"))
	c.OpenAI.GenerateModel = strings.TrimSpace(os.Getenv("OPENAI_GENERATE_MODEL"))

	c.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.ElevenLabs.VoiceID = strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID"))

	c.HubSpot.AccessToken = os.Getenv("HUBSPOT_ACCESS_TOKEN")
	c.HubSpot.NurtureWorkflowID = strings.TrimSpace(os.Getenv("HUBSPOT_NURTURE_WORKFLOW_ID"))

	c.Calling.WindowStartHour = optInt("CALLING_WINDOW_START_HOUR", 9)
	c.Calling.WindowEndHour = optInt("CALLING_WINDOW_END_HOUR", 17)
	c.Calling.DefaultTimezone = strings.TrimSpace(os.Getenv("CALLING_DEFAULT_TZ"))
	c.Calling.LookbackWindow = optDuration("CALLING_LOOKBACK_WINDOW")
	c.Calling.DispatchBatchCap = optInt("CALLING_DISPATCH_BATCH_CAP", 100)
	c.Calling.DefaultCallsPerMinute = optInt("CALLING_DEFAULT_CPM", 2)
	c.Calling.BookingLink = strings.TrimSpace(os.Getenv("CALLING_BOOKING_LINK"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" && c.IsProduction() {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required in production"))
	}

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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.IsProduction() {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required in production"))
		}
		if c.Twilio.PhoneNumber == "" {
			errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required in production"))
		}
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
		}
	}
	if c.OpenAI.ClassifyModel == "" {
		c.OpenAI.ClassifyModel = "gpt-4o-mini"
	}
	if c.OpenAI.GenerateModel == "" {
		c.OpenAI.GenerateModel = "gpt-4o"
	}

	if c.Calling.WindowStartHour < 0 || c.Calling.WindowStartHour > 23 {
		errs = append(errs, fmt.Errorf("CALLING_WINDOW_START_HOUR out of range: %d", c.Calling.WindowStartHour))
	}
	if c.Calling.WindowEndHour < 1 || c.Calling.WindowEndHour > 24 {
		errs = append(errs, fmt.Errorf("CALLING_WINDOW_END_HOUR out of range: %d", c.Calling.WindowEndHour))
	}
	if c.Calling.WindowStartHour >= c.Calling.WindowEndHour {
		errs = append(errs, errors.New("calling window start must be before end"))
	}
	if c.Calling.DefaultTimezone == "" {
		c.Calling.DefaultTimezone = "America/Chicago"
	}
	if _, err := time.LoadLocation(c.Calling.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("CALLING_DEFAULT_TZ is not a valid IANA zone: %q", c.Calling.DefaultTimezone))
	}
	if c.Calling.LookbackWindow <= 0 {
		c.Calling.LookbackWindow = 24 * time.Hour
	}
	if c.Calling.DispatchBatchCap <= 0 {
		c.Calling.DispatchBatchCap = 100
	}
	if c.Calling.DefaultCallsPerMinute <= 0 {
		c.Calling.DefaultCallsPerMinute = 2
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

// WebhookURL builds a provider callback URL under the public base.
func (c Config) WebhookURL(path string) string {
	return c.App.PublicBaseURL + "/webhooks/twilio" + path
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

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optDuration(key string) time.Duration {
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
