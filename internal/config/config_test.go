package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "APP_ENV", "DATABASE_URL", "JWT_SECRET", "JWT_ISSUER", "SESSION_TTL_MINUTES",
	"OFFER_TTL_MINUTES", "OTP_TTL_MINUTES", "OTP_LENGTH", "TRANSFER_OTP_THRESHOLD",
	"INIT_BALANCE", "CURRENCY", "CORS_ALLOWED_ORIGINS", "RABBITMQ_URL", "RABBITMQ_EXCHANGE",
	"SWEEP_INTERVAL_SECONDS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddress())
	assert.Equal(t, "development", cfg.Env)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "qrpay-backend", cfg.JWTIssuer)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.OfferTTL)
	assert.Equal(t, 5*time.Minute, cfg.OtpTTL)
	assert.Equal(t, 6, cfg.OtpLength)
	assert.Zero(t, cfg.TransferThreshold)
	assert.Equal(t, "PHP", cfg.Currency)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "qrpay.events", cfg.RabbitMQExchange)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("OFFER_TTL_MINUTES", "3")
	t.Setenv("TRANSFER_OTP_THRESHOLD", "50000")
	t.Setenv("INIT_BALANCE", "100000")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddress())
	assert.Equal(t, 3*time.Minute, cfg.OfferTTL)
	assert.Equal(t, int64(50000), cfg.TransferThreshold)
	assert.Equal(t, int64(100000), cfg.InitBalance)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":     {},
		"ttl not a number":   {"JWT_SECRET": "x", "OFFER_TTL_MINUTES": "ten"},
		"zero session ttl":   {"JWT_SECRET": "x", "SESSION_TTL_MINUTES": "0"},
		"otp too short":      {"JWT_SECRET": "x", "OTP_LENGTH": "2"},
		"negative threshold": {"JWT_SECRET": "x", "TRANSFER_OTP_THRESHOLD": "-1"},
		"zero sweep":         {"JWT_SECRET": "x", "SWEEP_INTERVAL_SECONDS": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
