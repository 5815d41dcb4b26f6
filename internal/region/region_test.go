package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
)

func TestResolve(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		name             string
		code             string
		paymentProvider  string
		shippingProvider string
		currency         money.Currency
		wantErr          bool
	}{
		{name: "india", code: "IN", paymentProvider: ProviderRazorpay, shippingProvider: ProviderShiprocket, currency: money.INR},
		{name: "united states", code: "US", paymentProvider: ProviderPayPal, shippingProvider: ProviderEasyPost, currency: money.USD},
		{name: "united kingdom", code: "GB", paymentProvider: ProviderPayPal, shippingProvider: ProviderEasyPost, currency: money.GBP},
		{name: "germany", code: "DE", paymentProvider: ProviderPayPal, shippingProvider: ProviderEasyPost, currency: money.EUR},
		{name: "inactive region", code: "BR", wantErr: true},
		{name: "unknown region", code: "FR", wantErr: true},
		{name: "codes are case-sensitive", code: "in", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := registry.Resolve(tt.code)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperror.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.paymentProvider, cfg.PaymentProvider)
			assert.Equal(t, tt.shippingProvider, cfg.ShippingProvider)
			assert.Equal(t, tt.currency, cfg.Currency)
		})
	}
}

func TestRegionForPaymentProvider(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	cfg, err := registry.RegionForPaymentProvider(ProviderRazorpay)
	require.NoError(t, err)
	assert.Equal(t, "IN", cfg.Code)

	cfg, err = registry.RegionForPaymentProvider(ProviderPayPal)
	require.NoError(t, err)
	assert.True(t, cfg.Active)
	assert.Equal(t, ProviderPayPal, cfg.PaymentProvider)

	_, err = registry.RegionForPaymentProvider("stripe")
	require.Error(t, err)
	assert.True(t, apperror.IsConfiguration(err))
}

func TestRegionForShippingProvider(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	cfg, err := registry.RegionForShippingProvider(ProviderShiprocket)
	require.NoError(t, err)
	assert.Equal(t, "IN", cfg.Code)

	_, err = registry.RegionForShippingProvider("fedex")
	require.Error(t, err)
}

func TestInactiveRegionExcludedFromReverseMapping(t *testing.T) {
	registry, err := newRegistry([]Config{
		{Code: "BR", DisplayName: "Brazil", Currency: money.BRL, PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: false},
	})
	require.NoError(t, err)

	_, err = registry.RegionForPaymentProvider(ProviderPayPal)
	require.Error(t, err, "inactive regions must not serve webhooks")
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := newRegistry([]Config{
		{Code: "IN", Currency: money.INR, PaymentProvider: ProviderRazorpay, ShippingProvider: ProviderShiprocket, Active: true},
		{Code: "IN", Currency: money.INR, PaymentProvider: ProviderRazorpay, ShippingProvider: ProviderShiprocket, Active: true},
	})
	require.Error(t, err, "duplicate region codes are rejected")

	_, err = newRegistry([]Config{
		{Code: "JP", Currency: "JPY", PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: true},
	})
	require.Error(t, err, "unsupported currencies are rejected")

	_, err = newRegistry([]Config{
		{Code: "US", Currency: money.USD, PaymentProvider: ProviderPayPal, Active: true},
	})
	require.Error(t, err, "active regions must configure both providers")
}
