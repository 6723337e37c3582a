package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Session     SessionConfig
	CSRF        CSRFConfig
	RateLimit   RateLimitConfig
	MFA         MFAConfig
	HRDirectory HRDirectoryConfig
	Audit       AuditConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig enables shared session and counter stores for
// multi-instance deployments. When disabled, in-memory stores are used.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AuthConfig describes how identity-provider bearer tokens are verified.
// The upstream exchange (Azure AD) is a collaborator; we only check the
// signature and read the {oid, name, preferred_username} claims.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type SessionConfig struct {
	CookieName   string
	Lifetime     time.Duration
	CookieSecure bool
}

type CSRFConfig struct {
	TokenName      string
	Lifetime       time.Duration
	Strict         bool
	AllowedOrigins []string
}

// EndpointLimit is a per-endpoint sliding-window rate limit.
type EndpointLimit struct {
	Requests int
	Window   time.Duration
}

type RateLimitConfig struct {
	Enabled        bool
	GlobalRequests int
	GlobalWindow   time.Duration
	BurstPerSecond int
	BurstSize      int
	Endpoints      map[string]EndpointLimit
}

type MFAConfig struct {
	RequiredRoles     []string
	GraceDays         int
	SessionLifetime   time.Duration
	MaxAttempts       int
	AttemptWindow     time.Duration
	LockoutDuration   time.Duration
	TrustedDeviceDays int
	TempSecretTTL     time.Duration
	EncryptionKey     string
	Issuer            string
}

// HRDirectoryConfig points at the legacy HR SQL Server used to resolve
// a user's home location when a principal is first seen.
type HRDirectoryConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
}

// AuditConfig controls the optional append-only audit stream sink.
// The Postgres audit table is always written.
type AuditConfig struct {
	StreamEnabled bool
	Host          string
	Port          int
	Insecure      bool
	Username      string
	Password      string
}

// Development fallbacks for the two secrets the guards depend on. They
// must never survive into a production deployment.
const (
	devJWTSecret     = "dev-secret-change-in-prod"
	devEncryptionKey = "dev-mfa-key-change-in-prod"
)

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvInt("SERVER_PORT", 8080),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "zeitwerk"),
			Password: getEnv("DB_PASSWORD", "zeitwerk"),
			Database: getEnv("DB_NAME", "zeitwerk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("IDP_JWT_SECRET", devJWTSecret),
			Issuer:    getEnv("IDP_ISSUER", "https://login.microsoftonline.com/zeitwerk"),
			Audience:  getEnv("IDP_AUDIENCE", "zeitwerk-platform"),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "zw_session"),
			Lifetime:     getEnvDuration("SESSION_LIFETIME", 12*time.Hour),
			CookieSecure: getEnvBool("SESSION_COOKIE_SECURE", true),
		},
		CSRF: CSRFConfig{
			TokenName:      getEnv("CSRF_TOKEN_NAME", "csrf_token"),
			Lifetime:       getEnvDuration("CSRF_TOKEN_LIFETIME", time.Hour),
			Strict:         getEnvBool("CSRF_STRICT_ORIGIN", true),
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"https://zeit.example.com"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			GlobalRequests: getEnvInt("RATE_LIMIT_GLOBAL_REQUESTS", 50),
			GlobalWindow:   getEnvDuration("RATE_LIMIT_GLOBAL_WINDOW", time.Minute),
			BurstPerSecond: getEnvInt("RATE_LIMIT_BURST_PER_SECOND", 20),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST_SIZE", 40),
			Endpoints:      parseEndpointLimits(getEnv("RATE_LIMIT_RULES", ""), defaultEndpointLimits()),
		},
		MFA: MFAConfig{
			RequiredRoles:     getEnvSlice("MFA_REQUIRED_ROLES", []string{"Admin", "Bereichsleiter", "Standortleiter"}),
			GraceDays:         getEnvInt("MFA_GRACE_PERIOD_DAYS", 14),
			SessionLifetime:   getEnvDuration("MFA_SESSION_LIFETIME", 12*time.Hour),
			MaxAttempts:       getEnvInt("MFA_MAX_ATTEMPTS", 5),
			AttemptWindow:     getEnvDuration("MFA_ATTEMPT_WINDOW", 30*time.Minute),
			LockoutDuration:   getEnvDuration("MFA_LOCKOUT_DURATION", 15*time.Minute),
			TrustedDeviceDays: getEnvInt("MFA_TRUSTED_DEVICE_DAYS", 30),
			TempSecretTTL:     getEnvDuration("MFA_TEMP_SECRET_TTL", 30*time.Minute),
			EncryptionKey:     getEnv("MFA_ENCRYPTION_KEY", devEncryptionKey),
			Issuer:            getEnv("MFA_ISSUER", "Zeitwerk"),
		},
		HRDirectory: HRDirectoryConfig{
			Enabled:  getEnvBool("HRDIR_ENABLED", false),
			Host:     getEnv("HRDIR_HOST", "localhost"),
			Port:     getEnvInt("HRDIR_PORT", 1433),
			User:     getEnv("HRDIR_USER", ""),
			Password: getEnv("HRDIR_PASSWORD", ""),
			Database: getEnv("HRDIR_DATABASE", "HR"),
			Encrypt:  getEnvBool("HRDIR_ENCRYPT", true),
		},
		Audit: AuditConfig{
			StreamEnabled: getEnvBool("AUDIT_STREAM_ENABLED", false),
			Host:          getEnv("AUDIT_STREAM_HOST", "localhost"),
			Port:          getEnvInt("AUDIT_STREAM_PORT", 2113),
			Insecure:      getEnvBool("AUDIT_STREAM_INSECURE", true),
			Username:      getEnv("AUDIT_STREAM_USERNAME", ""),
			Password:      getEnv("AUDIT_STREAM_PASSWORD", ""),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate refuses to start a production instance on development
// fallback secrets.
func (c *Config) validate() error {
	if c.Server.Env != "production" {
		return nil
	}
	if c.Auth.JWTSecret == devJWTSecret {
		return fmt.Errorf("IDP_JWT_SECRET must be set in production")
	}
	if c.MFA.EncryptionKey == devEncryptionKey {
		return fmt.Errorf("MFA_ENCRYPTION_KEY must be set in production")
	}
	return nil
}

// defaultEndpointLimits is the per-endpoint table: stricter for
// authentication endpoints, looser for high-traffic timesheet reads.
func defaultEndpointLimits() map[string]EndpointLimit {
	return map[string]EndpointLimit{
		"login":        {Requests: 10, Window: time.Minute},
		"session":      {Requests: 10, Window: time.Minute},
		"mfa":          {Requests: 10, Window: time.Minute},
		"csrf":         {Requests: 30, Window: time.Minute},
		"time-entries": {Requests: 200, Window: time.Minute},
		"users":        {Requests: 60, Window: time.Minute},
		"approvals":    {Requests: 60, Window: time.Minute},
		"reports":      {Requests: 30, Window: time.Minute},
	}
}

// parseEndpointLimits parses "endpoint=requests/windowSeconds" pairs,
// e.g. "login=10/60,time-entries=200/60". Entries override defaults.
func parseEndpointLimits(raw string, defaults map[string]EndpointLimit) map[string]EndpointLimit {
	limits := make(map[string]EndpointLimit, len(defaults))
	for k, v := range defaults {
		limits[k] = v
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, spec, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		reqStr, winStr, ok := strings.Cut(spec, "/")
		if !ok {
			continue
		}
		requests, err1 := strconv.Atoi(strings.TrimSpace(reqStr))
		window, err2 := strconv.Atoi(strings.TrimSpace(winStr))
		if err1 != nil || err2 != nil || requests <= 0 || window <= 0 {
			continue
		}
		limits[strings.TrimSpace(name)] = EndpointLimit{
			Requests: requests,
			Window:   time.Duration(window) * time.Second,
		}
	}
	return limits
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
