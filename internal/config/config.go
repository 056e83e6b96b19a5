package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port          string
	DatabaseURL   string
	StorageDriver string
	JWTSecret     string
	JWTIssuer     string
	JWTTTL        time.Duration
	CORSOrigins   []string

	LogLevel  string
	LogFormat string

	SMTP             SMTPConfig
	EmailConcurrency int

	AMQPURL      string
	AMQPExchange string

	AuthRatePerMinute int
	AuthRateBurst     int
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// SMTPConfig configures outbound mail. An empty Host selects the log mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:          fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StorageDriver: strings.ToLower(fallback(os.Getenv("STORAGE_DRIVER"), DriverPostgres)),
		JWTSecret:     strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:     fallback(os.Getenv("JWT_ISSUER"), "crm-backend"),
		JWTTTL:        time.Duration(positiveInt("JWT_TTL_MINUTES", 60)) * time.Minute,
		CORSOrigins:   parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		LogLevel:      strings.ToLower(fallback(os.Getenv("LOG_LEVEL"), "info")),
		LogFormat:     strings.ToLower(fallback(os.Getenv("LOG_FORMAT"), "json")),
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:     positiveInt("SMTP_PORT", 587),
			Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     fallback(os.Getenv("SMTP_FROM"), "no-reply@localhost"),
		},
		EmailConcurrency:  positiveInt("EMAIL_SEND_CONCURRENCY", 8),
		AMQPURL:           strings.TrimSpace(os.Getenv("AMQP_URL")),
		AMQPExchange:      fallback(os.Getenv("AMQP_EXCHANGE"), "crm.events"),
		AuthRatePerMinute: positiveInt("AUTH_RATE_PER_MINUTE", 30),
		AuthRateBurst:     positiveInt("AUTH_RATE_BURST", 15),
	}

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required")
		}
	case DriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	proxies, err := parsePrefixes(splitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

// positiveInt parses key as a positive integer, using def when unset or invalid.
func positiveInt(key string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return n
	}
	return def
}

func parseCSV(input string) []string {
	out := splitList(input)
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func splitList(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parsePrefixes accepts CIDR blocks and bare addresses.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
