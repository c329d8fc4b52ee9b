package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds terminal configuration loaded from the environment.
type Config struct {
	AppEnv     string
	Port       string
	TerminalID string

	API      APIConfig
	RedisURL string

	CatalogCacheTTL    time.Duration
	ScaleLayout        string
	Shortcuts          map[string]string
	IdempotencyTTL     time.Duration
	LaneLeaseTTL       time.Duration
	ScanRateLimit      string
	Webhook            WebhookConfig
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	Obs ObsConfig
}

// APIConfig describes the backoffice REST API the terminal depends on.
type APIConfig struct {
	BaseURL             string
	Email               string
	Password            string
	Timeout             time.Duration
	MaxAttempts         int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	TokenSkew           time.Duration
}

// WebhookConfig points lane events at an external endpoint. An empty URL
// disables forwarding.
type WebhookConfig struct {
	URL         string
	Secret      string
	MaxAttempts int
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnablePrometheus bool
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
}

// DefaultShortcuts is the key binding used when TERMINAL_SHORTCUTS is unset.
const DefaultShortcuts = "F2=focus-search,F5=pick-customer,F12=finalize-sale,ESC=cancel-sale"

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:     valueOrDefault(k.String("APP_ENV"), "development"),
		Port:       valueOrDefault(k.String("PORT"), "8080"),
		TerminalID: valueOrDefault(k.String("TERMINAL_ID"), uuid.NewString()),
		API: APIConfig{
			BaseURL:             strings.TrimSpace(k.String("API_BASE_URL")),
			Email:               strings.TrimSpace(k.String("API_EMAIL")),
			Password:            k.String("API_PASSWORD"),
			Timeout:             parseDuration(k.String("API_TIMEOUT"), "5s"),
			MaxAttempts:         parseInt(k.String("API_MAX_ATTEMPTS"), 3),
			BreakerMinRequests:  parseInt(k.String("API_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("API_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("API_BREAKER_OPEN_FOR"), "30s"),
			TokenSkew:           parseDuration(k.String("API_TOKEN_SKEW"), "1m"),
		},
		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		ScaleLayout:     valueOrDefault(k.String("SCALE_LAYOUT"), "auto"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LaneLeaseTTL:    parseDuration(k.String("LANE_LEASE_TTL"), "30s"),
		ScanRateLimit:   valueOrDefault(k.String("SCAN_RATE_LIMIT"), "20-S"),
		Webhook: WebhookConfig{
			URL:         strings.TrimSpace(k.String("EVENTS_WEBHOOK_URL")),
			Secret:      k.String("EVENTS_WEBHOOK_SECRET"),
			MaxAttempts: parseInt(k.String("EVENTS_WEBHOOK_MAX_ATTEMPTS"), 5),
		},
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pdv"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	shortcuts, err := ParseShortcuts(valueOrDefault(k.String("TERMINAL_SHORTCUTS"), DefaultShortcuts))
	if err != nil {
		return nil, err
	}
	cfg.Shortcuts = shortcuts

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL %q must be an absolute URL", c.API.BaseURL)
	}
	if c.API.Email != "" && c.API.Password == "" {
		return errors.New("API_PASSWORD is required when API_EMAIL is set")
	}
	switch strings.ToLower(c.ScaleLayout) {
	case "auto", "ean13", "short12":
	default:
		return fmt.Errorf("SCALE_LAYOUT %q must be auto, ean13 or short12", c.ScaleLayout)
	}
	if c.API.BreakerFailureRatio <= 0 || c.API.BreakerFailureRatio > 1 {
		return errors.New("API_BREAKER_FAILURE_RATIO must be in (0,1]")
	}
	return nil
}

// ParseShortcuts reads "KEY=command,KEY=command" bindings. Keys are
// upper-cased; a key bound twice is an error.
func ParseShortcuts(value string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitAndTrim(value) {
		key, command, ok := strings.Cut(pair, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		command = strings.TrimSpace(command)
		if !ok || key == "" || command == "" {
			return nil, fmt.Errorf("TERMINAL_SHORTCUTS: malformed binding %q", pair)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("TERMINAL_SHORTCUTS: %s bound twice", key)
		}
		out[key] = command
	}
	return out, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
