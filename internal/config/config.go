package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEnvFile = ".env"

	StorageNeo4j  = "neo4j"
	StorageMemory = "memory"

	MailSMTP = "smtp"
	MailAPI  = "api"
	MailLog  = "log"
)

// Config собирает настройки приложения из переменных окружения.
type Config struct {
	HTTPAddr string
	BaseURL  string

	StorageDriver string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionCookie      string
	SessionTTL         time.Duration
	SessionIdleTimeout time.Duration
	CookieSecure       bool

	// TrustProxy makes the server take the client address from
	// X-Forwarded-For / X-Real-IP. Enable only behind a reverse proxy.
	TrustProxy bool

	MailDriver   string
	MailFrom     string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailAPIURL   string
	MailAPIKey   string
	AdminEmail   string

	RequireVerifiedEmail bool
	VerifyTokenTTL       time.Duration
	ResetTokenTTL        time.Duration
	LoginRatePerMinute   int
	LoginBurst           int

	SettingsFile         string
	OverdueSweepInterval time.Duration
}

// Load читает конфигурацию из окружения, подставляя значения по умолчанию.
func Load() (*Config, error) {
	r := reader{}
	cfg := &Config{
		HTTPAddr:      r.str("HTTP_ADDR", ":8080"),
		BaseURL:       strings.TrimRight(r.str("BASE_URL", "http://localhost:8080"), "/"),
		StorageDriver: r.str("STORAGE_DRIVER", StorageNeo4j),
		Neo4jURI:      r.str("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:     r.str("NEO4J_USER", "neo4j"),
		Neo4jPassword: r.str("NEO4J_PASSWORD", ""),

		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.int("REDIS_DB", 0),

		SessionCookie:      r.str("SESSION_COOKIE", "portal_session"),
		SessionTTL:         r.duration("SESSION_TTL", 7*24*time.Hour),
		SessionIdleTimeout: r.duration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		CookieSecure:       r.bool("COOKIE_SECURE", false),
		TrustProxy:         r.bool("TRUST_PROXY", false),

		MailDriver:   r.str("MAIL_DRIVER", MailLog),
		MailFrom:     r.str("MAIL_FROM", "no-reply@localhost"),
		SMTPHost:     r.str("SMTP_HOST", "localhost"),
		SMTPPort:     r.int("SMTP_PORT", 25),
		SMTPUser:     r.str("SMTP_USER", ""),
		SMTPPassword: r.str("SMTP_PASSWORD", ""),
		MailAPIURL:   r.str("MAIL_API_URL", ""),
		MailAPIKey:   r.str("MAIL_API_KEY", ""),
		AdminEmail:   r.str("ADMIN_EMAIL", ""),

		RequireVerifiedEmail: r.bool("REQUIRE_VERIFIED_EMAIL", true),
		VerifyTokenTTL:       r.duration("VERIFY_TOKEN_TTL", 48*time.Hour),
		ResetTokenTTL:        r.duration("RESET_TOKEN_TTL", time.Hour),
		LoginRatePerMinute:   r.int("LOGIN_RATE_PER_MINUTE", 5),
		LoginBurst:           r.int("LOGIN_BURST", 5),

		SettingsFile:         r.str("SETTINGS_FILE", ""),
		OverdueSweepInterval: r.duration("OVERDUE_SWEEP_INTERVAL", time.Hour),
	}
	if len(r.errs) > 0 {
		return nil, fmt.Errorf("load config: %s", strings.Join(r.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageNeo4j, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.MailDriver {
	case MailSMTP, MailLog:
	case MailAPI:
		if c.MailAPIURL == "" {
			return fmt.Errorf("MAIL_API_URL is required for MAIL_DRIVER=api")
		}
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}
	if c.LoginRatePerMinute <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_MINUTE and LOGIN_BURST must be positive")
	}
	if c.SessionTTL <= 0 || c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("session lifetimes must be positive")
	}
	if c.OverdueSweepInterval <= 0 {
		return fmt.Errorf("OVERDUE_SWEEP_INTERVAL must be positive")
	}
	return nil
}

type reader struct {
	errs []string
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}
