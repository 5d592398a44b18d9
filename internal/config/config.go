package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/usps-tracking/internal/usps"
)

// Config holds application configuration loaded from the environment. The env tag
// names the variable each field is read from and is used in validation messages.
type Config struct {
	AppEnv string `env:"APP_ENV" validate:"required"`
	Port   string `env:"PORT" validate:"required"`

	USPSAPIKey         string        `env:"USPS_API_KEY" validate:"required"`
	USPSSourceID       string        `env:"USPS_SOURCE_ID" validate:"required"`
	USPSBaseURL        string        `env:"USPS_BASE_URL" validate:"required,url"`
	USPSTimeout        time.Duration `env:"USPS_TIMEOUT" validate:"gt=0"`
	BreakerMinRequests int           `env:"USPS_BREAKER_MIN_REQUESTS" validate:"gte=1"`
	BreakerFailure     float64       `env:"USPS_BREAKER_FAILURE_RATIO" validate:"gt=0,lte=1"`
	BreakerOpenFor     time.Duration `env:"USPS_BREAKER_OPEN_FOR" validate:"gt=0"`

	RedisURL           string        `env:"REDIS_URL" validate:"omitempty,url"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" validate:"gt=0"`
	RateLimitMax       int           `env:"RATE_LIMIT_MAX" validate:"gte=1"`
	TrustedProxies     []string      `env:"TRUSTED_PROXIES" validate:"dive,cidr"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS"`
	HSTSMaxAge         int           `env:"SECURITY_HSTS_MAX_AGE" validate:"gte=0"`
	ReadyTimeout       time.Duration `env:"HEALTH_READY_TIMEOUT_MS" validate:"gt=0"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT_MS" validate:"gt=0"`

	Obs Observability
}

// Observability configures logging, metrics, tracing and profiling.
type Observability struct {
	LogFormat        string  `env:"OBS_LOG_FORMAT" validate:"oneof=json console text"`
	LogLevel         string  `env:"OBS_LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	MetricsEnabled   bool    `env:"OBS_ENABLE_PROMETHEUS"`
	MetricsNamespace string  `env:"OBS_METRICS_NAMESPACE" validate:"required"`
	MetricsBuckets   string  `env:"OBS_METRICS_BUCKETS_MS"`
	TracingEnabled   bool    `env:"OBS_ENABLE_TRACING"`
	TracingExporter  string  `env:"OBS_TRACING_EXPORTER" validate:"oneof=otlp none"`
	OTLPEndpoint     string  `env:"OBS_OTLP_ENDPOINT" validate:"omitempty,url"`
	OTLPHeaders      string  `env:"OBS_OTLP_HEADERS"`
	SamplingRatio    float64 `env:"OBS_TRACING_SAMPLING_RATIO" validate:"gt=0,lte=1"`
	PprofEnabled     bool    `env:"OBS_ENABLE_PPROF"`
	PprofUser        string  `env:"SECURE_PPROF_BASIC_AUTH_USER"`
	PprofPass        string  `env:"SECURE_PPROF_BASIC_AUTH_PASS"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	str := func(key, fallback string) string { return valueOrDefault(k.String(key), fallback) }

	cfg := &Config{
		AppEnv:             str("APP_ENV", "development"),
		Port:               str("PORT", "8080"),
		USPSAPIKey:         strings.TrimSpace(k.String("USPS_API_KEY")),
		USPSSourceID:       strings.TrimSpace(k.String("USPS_SOURCE_ID")),
		USPSBaseURL:        str("USPS_BASE_URL", usps.DefaultBaseURL),
		USPSTimeout:        parseDuration(k.String("USPS_TIMEOUT"), "10s"),
		BreakerMinRequests: parseInt(k.String("USPS_BREAKER_MIN_REQUESTS"), 5),
		BreakerFailure:     parseFloat(k.String("USPS_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:     parseDuration(k.String("USPS_BREAKER_OPEN_FOR"), "30s"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 60),
		TrustedProxies:     splitAndTrim(k.String("TRUSTED_PROXIES")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HSTSMaxAge:         parseInt(k.String("SECURITY_HSTS_MAX_AGE"), 0),
		ReadyTimeout:       parseMillis(k.String("HEALTH_READY_TIMEOUT_MS"), 500),
		ShutdownTimeout:    parseMillis(k.String("SHUTDOWN_TIMEOUT_MS"), 10000),
		Obs: Observability{
			LogFormat:        strings.ToLower(str("OBS_LOG_FORMAT", "json")),
			LogLevel:         strings.ToLower(str("OBS_LOG_LEVEL", "info")),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: str("OBS_METRICS_NAMESPACE", "usps_tracking"),
			MetricsBuckets:   strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), true),
			TracingExporter:  strings.ToLower(str("OBS_TRACING_EXPORTER", "otlp")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			OTLPHeaders:      strings.TrimSpace(k.String("OBS_OTLP_HEADERS")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and reports every invalid variable.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Element errors arrive as NAME[i]; report the variable.
		name, _, _ := strings.Cut(fe.Field(), "[")
		if fe.Tag() == "required" {
			msgs = append(msgs, name+" is required")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", name, fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
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

// The parse helpers fall back on empty input only. Malformed values yield a zero
// that Validate rejects.

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		return 0
	}
	return d
}

func parseMillis(value string, fallback int) time.Duration {
	return time.Duration(parseInt(value, fallback)) * time.Millisecond
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseBool accepts the usual spellings; anything unrecognised keeps the fallback.
func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

// LoadForTests allows tests to override environment variables without touching the real environment.
// An empty value unsets the variable for the duration of the load.
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
