package bootstrap

import (
	"testing"
	"time"

	domainErrors "github.com/hotelbooker/bookingpay/internal/domain/errors"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/config"
	"github.com/hotelbooker/bookingpay/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:        "https://sandbox.payments.example.com/pg",
			KeyID:          "key_test",
			KeySecret:      "secret_test",
			RequestTimeout: 5 * time.Second,
		},
		Webhook: config.WebhookConfig{Secret: "whsec_test"},
	}
}

func TestBuildGateway(t *testing.T) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	client, err := BuildGateway(gatewayConfig(), zerolog.Nop(), metrics)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestBuildGateway_MissingCredentials(t *testing.T) {
	cfg := gatewayConfig()
	cfg.Gateway.KeySecret = ""

	client, err := BuildGateway(cfg, zerolog.Nop(), nil)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, domainErrors.ErrMissingCredentials)
}
