package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	AppName     string
	ServiceName string
	DatabaseURL string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	BcryptCost int

	EmailHost     string
	EmailPort     int
	EmailSecure   bool
	EmailUser     string
	EmailPassword string
	EmailFrom     string

	FrontendBaseURL string
	BackendBaseURL  string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminEmail    string
	AdminPassword string

	TelemetryEndpoint string
	TelemetryInsecure bool
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("PORT", "3000"),
		AppName:     getEnv("APP_NAME", "Identity Provider"),
		ServiceName: getEnv("SERVICE_NAME", "keystone-identity"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		AccessTokenSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		RefreshTokenSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:     getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		RefreshTokenTTL:    getDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),

		BcryptCost: getInt("BCRYPT_COST", 12),

		EmailHost:     os.Getenv("EMAIL_HOST"),
		EmailPort:     getInt("EMAIL_PORT", 587),
		EmailSecure:   getBool("EMAIL_SECURE", false),
		EmailUser:     os.Getenv("EMAIL_USER"),
		EmailPassword: os.Getenv("EMAIL_PASSWORD"),
		EmailFrom:     getEnv("EMAIL_FROM", "no-reply@localhost"),

		FrontendBaseURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		BackendBaseURL:  getEnv("BACKEND_URL", "http://localhost:3000"),

		RateLimitWindow:      getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMaxRequests: getInt("RATE_LIMIT_MAX_REQUESTS", 5),

		CookieDomain:   getEnv("COOKIE_DOMAIN", "localhost"),
		CookieSecure:   getBool("COOKIE_SECURE", false),
		CookieSameSite: getEnv("COOKIE_SAME_SITE", "strict"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AccessTokenSecret == "" {
		return Config{}, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.RefreshTokenSecret == "" {
		return Config{}, fmt.Errorf("JWT_REFRESH_SECRET is required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return Config{}, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	switch cfg.CookieSameSite {
	case "strict", "lax", "none":
	default:
		return Config{}, fmt.Errorf("COOKIE_SAME_SITE must be strict, lax or none")
	}

	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		cfg.BcryptCost = 12
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
