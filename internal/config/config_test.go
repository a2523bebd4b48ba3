package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "testuser")
	t.Setenv("DB_PASSWORD", "testpass")
	t.Setenv("DB_NAME", "testdb")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CALLBACK_BASE_URL", "https://shop.example/api/orders/payment/callback")
	t.Setenv("PAYMENT_GATEWAY", "zarinpal")
	t.Setenv("ZARINPAL_MERCHANT_ID", "merchant-1")
}

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("GATEWAY_TIMEOUT", "3s")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "testuser", cfg.DBUser)
		assert.Equal(t, "testpass", cfg.DBPassword)
		assert.Equal(t, "testdb", cfg.DBName)
		assert.Equal(t, "5433", cfg.DBPort)
		assert.Equal(t, "9090", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, "zarinpal", cfg.PaymentGateway)
		assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	})

	t.Run("Defaults", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("GATEWAY_TIMEOUT", "")
		t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")
		t.Setenv("KAFKA_TOPIC", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, 20, cfg.DBMaxOpenConns)
		assert.Equal(t, 2*time.Minute, cfg.VerifyStaleAfter)
		assert.Equal(t, "orders", cfg.KafkaTopic)
		assert.Empty(t, cfg.KafkaBrokers)
	})

	t.Run("Missing required values", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("JWT_SECRET", "")
		t.Setenv("ZARINPAL_MERCHANT_ID", "")

		cfg, err := LoadConfig()
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, ErrMissingEnv)
		assert.Contains(t, err.Error(), "JWT_SECRET, ZARINPAL_MERCHANT_ID")
	})

	t.Run("Mellat requires terminal credentials", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("PAYMENT_GATEWAY", "MELLAT")
		t.Setenv("MELLAT_TERMINAL_ID", "")
		t.Setenv("MELLAT_USERNAME", "user")

		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrMissingEnv)
		assert.Contains(t, err.Error(), "MELLAT_TERMINAL_ID")
	})

	t.Run("Unknown gateway", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("PAYMENT_GATEWAY", "paypal")

		_, err := LoadConfig()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported PAYMENT_GATEWAY")
	})
}
