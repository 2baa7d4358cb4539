package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	"github.com/BradenHooton/bastion/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const EnvProduction = "production"

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Security   SecurityConfig
	RateLimits map[string]models.RateLimitRule `validate:"dive"`
	Lockout    services.LockoutConfig
	DoS        services.DoSConfig
	Timing     auth.TimingConfig
	Cleanup    CleanupConfig
}

type ServerConfig struct {
	Port         string        `validate:"required,numeric"`
	Env          string        `validate:"oneof=development test production"`
	LogLevel     string        `validate:"oneof=debug info warn error"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
}

// DatabaseConfig is optional; without a URL the login endpoint is not mounted
type DatabaseConfig struct {
	URL               string
	MaxConns          int32 `validate:"gte=1"`
	MinConns          int32 `validate:"gte=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// RedisConfig is optional; without a URL all counters are process-local
type RedisConfig struct {
	URL     string
	Timeout time.Duration `validate:"gt=0"`
}

type SecurityConfig struct {
	AllowedOrigins []string `validate:"dive,required"`
	TrustedProxies []string `validate:"dive,cidr"`
	JWTSecret      string
}

type CleanupConfig struct {
	DoSInterval   time.Duration `validate:"gt=0"`
	StoreInterval time.Duration `validate:"gt=0"`
}

// IsProduction reports whether the process runs with the production profile
func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProduction
}

// Load reads configuration from the environment (and .env when present).
// Malformed values and unsafe production settings are returned as errors
// instead of silently defaulting.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := &envReader{}
	env := r.getEnv("ENV", "development")

	dos := services.DefaultDoSConfig()
	dos.MaxRequestSize = r.getEnvAsInt64("MAX_REQUEST_SIZE", dos.MaxRequestSize)
	dos.MaxConcurrentRequests = r.getEnvAsInt("MAX_CONCURRENT_REQUESTS", dos.MaxConcurrentRequests)
	dos.RequestTimeout = r.getEnvAsDuration("REQUEST_TIMEOUT", dos.RequestTimeout)
	dos.EnableAnomalyDetection = r.getEnvAsBool("ANOMALY_DETECTION_ENABLED", dos.EnableAnomalyDetection)
	dos.AnomalyRequestsPerMinute = r.getEnvAsInt("ANOMALY_REQUESTS_PER_MINUTE", dos.AnomalyRequestsPerMinute)
	dos.SuspiciousIPTTL = r.getEnvAsDuration("SUSPICIOUS_IP_TTL", dos.SuspiciousIPTTL)

	lockout := services.DefaultLockoutConfig()
	lockout.MaxFailedAttempts = r.getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", lockout.MaxFailedAttempts)
	lockout.FailureWindow = r.getEnvAsDuration("LOCKOUT_FAILURE_WINDOW", lockout.FailureWindow)
	lockout.LockoutDuration = r.getEnvAsDuration("LOCKOUT_DURATION", lockout.LockoutDuration)

	cfg := &Config{
		Server: ServerConfig{
			Port:         r.getEnv("PORT", "8080"),
			Env:          env,
			LogLevel:     strings.ToLower(r.getEnv("LOG_LEVEL", "info")),
			ReadTimeout:  r.getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: r.getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  r.getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:               r.getEnv("DATABASE_URL", ""),
			MaxConns:          int32(r.getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns:          int32(r.getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime:   r.getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   r.getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: r.getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			URL:     r.getEnv("REDIS_URL", ""),
			Timeout: r.getEnvAsDuration("REDIS_TIMEOUT", store.DefaultTimeout),
		},
		Security: SecurityConfig{
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
			JWTSecret:      os.Getenv("JWT_SECRET"),
		},
		RateLimits: loadRateLimits(r),
		Lockout:    lockout,
		DoS:        dos,
		Timing: auth.TimingConfig{
			BaseDelayMs:    r.getEnvAsInt("AUTH_TIMING_BASE_MS", 100),
			RandomDelayMs:  r.getEnvAsInt("AUTH_TIMING_RANDOM_MS", 50),
			DelayOnSuccess: r.getEnvAsBool("AUTH_TIMING_ON_SUCCESS", false),
		},
		Cleanup: CleanupConfig{
			DoSInterval:   r.getEnvAsDuration("DOS_CLEANUP_INTERVAL", time.Minute),
			StoreInterval: r.getEnvAsDuration("STORE_CLEANUP_INTERVAL", time.Hour),
		},
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateOrigins(cfg.Security.AllowedOrigins, env); err != nil {
		return nil, err
	}

	if cfg.Security.JWTSecret != "" {
		if err := validateJWTSecret(cfg.Security.JWTSecret, env); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// RateLimitEnvName returns the variable stem for a rule: LOGIN -> RATE_LIMIT_LOGIN,
// path class general -> RATE_LIMIT_CLASS_GENERAL
func RateLimitEnvName(rule string) string {
	name := strings.ToUpper(rule)
	if rule == strings.ToLower(rule) {
		name = "CLASS_" + name
	}
	return "RATE_LIMIT_" + name
}

func loadRateLimits(r *envReader) map[string]models.RateLimitRule {
	rules := services.DefaultRules()
	for name, rule := range rules {
		stem := RateLimitEnvName(name)
		rule.Window = r.getEnvAsDuration(stem+"_WINDOW", rule.Window)
		rule.MaxRequests = r.getEnvAsInt(stem+"_MAX", rule.MaxRequests)
		rule.BlockDuration = r.getEnvAsDuration(stem+"_BLOCK", rule.BlockDuration)
		rules[name] = rule
	}
	return rules
}

// validateOrigins requires each entry to be a bare scheme://host[:port].
// Production refuses to start with an empty allow-list.
func validateOrigins(origins []string, env string) error {
	if env == EnvProduction && len(origins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	for _, origin := range origins {
		normalized, ok := auth.OriginFromURL(origin)
		if !ok || normalized != origin {
			return fmt.Errorf("ALLOWED_ORIGINS entry %q is not a valid origin (expected scheme://host[:port])", origin)
		}
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == EnvProduction {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func parseAllowedOrigins(env string) []string {
	if origins := splitList(os.Getenv("ALLOWED_ORIGINS")); len(origins) > 0 {
		return origins
	}

	if env == EnvProduction {
		return nil
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite default
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:8080",
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.TrimSuffix(item, "/"))
		}
	}
	return out
}

// envReader collects parse errors so that every bad variable is reported at once
type envReader struct {
	errs []error
}

func (r *envReader) getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func (r *envReader) getEnvAsInt(key string, defaultVal int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultVal
	}
	return intVal
}

func (r *envReader) getEnvAsInt64(key string, defaultVal int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultVal
	}
	return intVal
}

func (r *envReader) getEnvAsBool(key string, defaultVal bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return defaultVal
	}
	return boolVal
}

func (r *envReader) getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultVal
	}
	return duration
}
