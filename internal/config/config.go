package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	SessionTTL  time.Duration
	CORSOrigins []string

	OfferTTL          time.Duration
	OtpTTL            time.Duration
	OtpLength         int
	TransferThreshold int64
	InitBalance       int64
	Currency          string

	RabbitMQURL      string
	RabbitMQExchange string
	SweepInterval    time.Duration
}

// Load reads configuration from the environment and performs minimal validation.
// An empty DATABASE_URL selects the in-memory store.
func Load() (Config, error) {
	cfg := Config{
		Port:             fallback(os.Getenv("PORT"), "8080"),
		Env:              fallback(os.Getenv("APP_ENV"), "development"),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:        strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:        fallback(os.Getenv("JWT_ISSUER"), "qrpay-backend"),
		CORSOrigins:      parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		Currency:         strings.ToUpper(fallback(os.Getenv("CURRENCY"), "PHP")),
		RabbitMQURL:      strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		RabbitMQExchange: fallback(os.Getenv("RABBITMQ_EXCHANGE"), "qrpay.events"),
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	var err error
	if cfg.SessionTTL, err = minutes("SESSION_TTL_MINUTES", 24*60); err != nil {
		return Config{}, err
	}
	if cfg.OfferTTL, err = minutes("OFFER_TTL_MINUTES", 10); err != nil {
		return Config{}, err
	}
	if cfg.OtpTTL, err = minutes("OTP_TTL_MINUTES", 5); err != nil {
		return Config{}, err
	}
	seconds, err := integer("SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	if seconds <= 0 {
		return Config{}, errors.New("SWEEP_INTERVAL_SECONDS must be positive")
	}
	cfg.SweepInterval = time.Duration(seconds) * time.Second

	length, err := integer("OTP_LENGTH", 6)
	if err != nil {
		return Config{}, err
	}
	if length < 4 || length > 10 {
		return Config{}, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", length)
	}
	cfg.OtpLength = int(length)

	if cfg.TransferThreshold, err = integer("TRANSFER_OTP_THRESHOLD", 0); err != nil {
		return Config{}, err
	}
	if cfg.InitBalance, err = integer("INIT_BALANCE", 0); err != nil {
		return Config{}, err
	}
	if cfg.TransferThreshold < 0 || cfg.InitBalance < 0 {
		return Config{}, errors.New("TRANSFER_OTP_THRESHOLD and INIT_BALANCE must not be negative")
	}

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

func integer(key string, def int64) (int64, error) {
	raw := fallback(os.Getenv(key), strconv.FormatInt(def, 10))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func minutes(key string, def int64) (time.Duration, error) {
	n, err := integer(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return time.Duration(n) * time.Minute, nil
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
