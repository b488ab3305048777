// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Roles    RolesConfig
	Notifx   NotifxConfig
	Mail     MailConfig
	Jobx     JobxConfig
	Events   EventsConfig
	OAuth    OAuthConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port        string
	AppName     string
	Version     string
	CORSOrigins string
	BodyLimit   int
	Debug       bool
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	JWT      JWTConfig
	Password PasswordConfig
	Admin    AdminConfig
	Throttle ThrottleConfig
}

type JWTConfig struct {
	Issuer          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	APIDefaultTTL   time.Duration
	CleanupInterval time.Duration
}

type PasswordConfig struct {
	BcryptCost        int
	MaxFailedAttempts int
	ResetTokenTTL     time.Duration
	ResetDelayMin     time.Duration
	ResetDelayMax     time.Duration
	ResetURL          string
}

// AdminConfig lists the rights a role must hold to count as
// administrative. Empty means the built-in baseline.
type AdminConfig struct {
	Rights []string
}

type ThrottleConfig struct {
	PerMinute int
	Burst     int
}

type RolesConfig struct {
	DefaultRole   string
	DefaultLocale string
}

// MailConfig controls account mail delivery. Delivery is "inline" or
// "queue".
type MailConfig struct {
	Delivery string
	Attempts int
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			AppName:     getEnv("APP_NAME", "Bastion"),
			Version:     getEnv("APP_VERSION", "dev"),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
			BodyLimit:   getEnvInt("BODY_LIMIT", 1024*1024),
			Debug:       getEnvBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "bastion"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Issuer:          getEnv("JWT_ISSUER", "bastion"),
				AccessTTL:       getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
				RefreshTTL:      getEnvDuration("JWT_REFRESH_TTL", 30*24*time.Hour),
				APIDefaultTTL:   getEnvDuration("JWT_API_DEFAULT_TTL", 365*24*time.Hour),
				CleanupInterval: getEnvDuration("JWT_CLEANUP_INTERVAL", time.Hour),
			},
			Password: PasswordConfig{
				BcryptCost:        getEnvInt("PASSWORD_BCRYPT_COST", 12),
				MaxFailedAttempts: getEnvInt("PASSWORD_MAX_FAILED_ATTEMPTS", 10),
				ResetTokenTTL:     getEnvDuration("PASSWORD_RESET_TOKEN_TTL", 24*time.Hour),
				ResetDelayMin:     getEnvDuration("PASSWORD_RESET_DELAY_MIN", 800*time.Millisecond),
				ResetDelayMax:     getEnvDuration("PASSWORD_RESET_DELAY_MAX", 3*time.Second),
				ResetURL:          getEnv("PASSWORD_RESET_URL", "http://localhost:3000/set-password"),
			},
			Admin: AdminConfig{
				Rights: getEnvStringSlice("ADMIN_RIGHTS", nil),
			},
			Throttle: ThrottleConfig{
				PerMinute: getEnvInt("AUTH_THROTTLE_PER_MINUTE", 30),
				Burst:     getEnvInt("AUTH_THROTTLE_BURST", 10),
			},
		},
		Roles: RolesConfig{
			DefaultRole:   getEnv("DEFAULT_ROLE", "USER"),
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Notifx: loadNotifxConfig(),
		Mail: MailConfig{
			Delivery: getEnv("MAIL_DELIVERY", "inline"),
			Attempts: getEnvInt("MAIL_ATTEMPTS", 3),
		},
		Jobx: loadJobxConfig(),
		Events: EventsConfig{
			AMQPURL:  getEnv("EVENTS_AMQP_URL", ""),
			Exchange: getEnv("EVENTS_EXCHANGE", "bastion.security"),
		},
		OAuth: loadOAuthConfig(),
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnv("METRICS_NAMESPACE", "bastion"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings that would break token handling.
func (c *Config) Validate() error {
	j := c.Auth.JWT
	if j.AccessTTL <= 0 || j.RefreshTTL <= 0 || j.APIDefaultTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if j.AccessTTL > j.RefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TTL (%s) exceeds JWT_REFRESH_TTL (%s)", j.AccessTTL, j.RefreshTTL)
	}
	p := c.Auth.Password
	if p.ResetDelayMin > p.ResetDelayMax {
		return fmt.Errorf("PASSWORD_RESET_DELAY_MIN exceeds PASSWORD_RESET_DELAY_MAX")
	}
	switch c.Mail.Delivery {
	case "inline", "queue":
	default:
		return fmt.Errorf("unknown MAIL_DELIVERY %q (use inline or queue)", c.Mail.Delivery)
	}
	switch c.Notifx.Provider {
	case "console", "ses", "smtp":
	default:
		return fmt.Errorf("unknown NOTIFX_PROVIDER %q (use console, ses or smtp)", c.Notifx.Provider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
