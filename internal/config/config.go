package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-super-secret-jwt-key-change-in-production"

type Config struct {
	Env  string
	Port int

	StoreDriver string
	DBURL       string
	RedisAddr   string
	RedisPass   string
	RedisDB     int

	JWTSecret     string
	JWTExpiresIn  time.Duration
	ResetTokenTTL time.Duration
	BcryptCost    int

	// ALLOW_ADMIN_SIGNUP=false stops the public register endpoint from
	// creating ADMIN users.
	AllowAdminSignup bool

	SMTP        SMTPConfig
	FrontendURL string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	// WorkerInterval is how often cmd/worker prunes expired reset tokens.
	WorkerInterval time.Duration

	CORSOrigins  []string
	OTELEndpoint string

	AdminEmail    string
	AdminPassword string
	AdminName     string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Load reads .env (if present) and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	smtpUser := getEnv("SMTP_USER", "")

	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 3000),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DBURL:       getEnv("DATABASE_URL", buildDBURL()),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:     getEnvInt("REDIS_DB", 0),

		JWTSecret:     getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiresIn:  getEnvDuration("JWT_EXPIRES_IN", 7*24*time.Hour),
		ResetTokenTTL: getEnvDuration("RESET_TOKEN_TTL", time.Hour),
		BcryptCost:    getEnvInt("BCRYPT_COST", 12),

		AllowAdminSignup: getEnvBool("ALLOW_ADMIN_SIGNUP", true),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     smtpUser,
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("MAIL_FROM", fmt.Sprintf("\"Dairy Farm Management\" <%s>", smtpUser)),
		},
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),

		RateLimitWindow:      time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),

		WorkerInterval: getEnvDuration("WORKER_INTERVAL", 10*time.Minute),

		CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"http://localhost:5173"}),
		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),
	}
}

// Validate rejects settings that are only acceptable on a developer machine.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if !c.IsDev() && c.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed from the default outside dev (APP_ENV=%q)", c.Env)
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RateLimitMaxRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit window and max requests must be positive")
	}
	return nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	pass := getEnv("DB_PASSWORD", "password")
	name := getEnv("DB_NAME", "dairy_farm_db")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// ParseDuration accepts Go durations plus a whole-day suffix ("7d").
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid integer env, using default", "key", key, "value", v)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env, using default", "key", key, "value", v)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("invalid duration env, using default", "key", key, "value", v)
			return fallback
		}
		return d
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return fallback
	}
	return out
}
