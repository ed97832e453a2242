package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DELIVERY_FEE", "")
	t.Setenv("CART_MAX_QTY_PER_ITEM", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "40", cfg.Business.DeliveryFee.String())
	assert.Equal(t, 10, cfg.Business.MaxQtyPerItem)
	assert.Equal(t, 30*time.Second, cfg.Business.PaymentLockTTL)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
	assert.NotEmpty(t, cfg.Kafka.ConsumerGroup)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DELIVERY_FEE", "55.50")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://urbancove.in,https://admin.urbancove.in")

	cfg := Load()

	assert.Equal(t, "55.5", cfg.Business.DeliveryFee.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Len(t, cfg.Server.AllowedOrigins, 2)
}

func TestInvalidDecimalFallsBack(t *testing.T) {
	t.Setenv("WALLET_MAX_TOPUP", "lots")

	cfg := Load()

	assert.Equal(t, "50000", cfg.Business.WalletMaxTopUp.String())
}

func TestTraceSampleRatio(t *testing.T) {
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")
	assert.Equal(t, 0.25, Load().Observ.TraceSampleRatio)

	t.Setenv("TRACE_SAMPLE_RATIO", "often")
	assert.Equal(t, 1.0, Load().Observ.TraceSampleRatio)
}
