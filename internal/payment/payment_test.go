package payment

import (
	"testing"

	"storefront-checkout/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(20), MinorUnits(decimal.RequireFromString("20.00"), 1))
	assert.Equal(t, int64(200), MinorUnits(decimal.RequireFromString("20.00"), 10))
	assert.Equal(t, int64(125), MinorUnits(decimal.RequireFromString("12.45"), 10))
	assert.Equal(t, int64(13), MinorUnits(decimal.RequireFromString("12.50"), 1))
}

func TestNew(t *testing.T) {
	t.Run("Zarinpal", func(t *testing.T) {
		gw, err := New(&config.Config{PaymentGateway: "zarinpal", ZarinpalMerchantID: "m"})
		require.NoError(t, err)
		assert.Equal(t, "zarinpal", gw.Name())
	})

	t.Run("Mellat", func(t *testing.T) {
		gw, err := New(&config.Config{PaymentGateway: "mellat", MellatTerminalID: "1"})
		require.NoError(t, err)
		assert.Equal(t, "mellat", gw.Name())
	})

	t.Run("Unknown", func(t *testing.T) {
		gw, err := New(&config.Config{PaymentGateway: "sadad"})
		assert.Nil(t, gw)
		assert.ErrorIs(t, err, ErrUnsupportedGateway)
	})
}

func TestGatewayError(t *testing.T) {
	err := rejected("zarinpal", "verify", "-51")
	assert.Equal(t, "zarinpal verify: payment gateway rejected request (code -51)", err.Error())
	assert.ErrorIs(t, err, ErrGatewayRejected)
}
