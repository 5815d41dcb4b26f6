// Package factory constructs and caches provider adapters per region.
// Adapters are stateless apart from connection pools and cached auth
// tokens, so one instance per region and provider is shared by all
// requests.
package factory

import (
	"fmt"
	"log/slog"
	"sync"

	"commercegate/internal/common/apperror"
	"commercegate/internal/credentials"
	"commercegate/internal/providers"
	"commercegate/internal/providers/easypost"
	"commercegate/internal/providers/paypal"
	"commercegate/internal/providers/razorpay"
	"commercegate/internal/providers/shiprocket"
	"commercegate/internal/region"
)

// Overrides point adapters at non-default endpoints. Tests use them to
// target httptest servers; production leaves them empty.
type Overrides struct {
	RazorpayBaseURL   string
	PayPalBaseURL     string
	ShiprocketBaseURL string
	EasyPostBaseURL   string
	PayPalReturnURL   string
	PayPalCancelURL   string
}

// Factory hands out provider adapters for resolved regions.
type Factory struct {
	registry    *region.Registry
	credentials *credentials.Resolver
	overrides   Overrides
	logger      *slog.Logger

	mu       sync.RWMutex
	payment  map[string]providers.PaymentProvider
	shipping map[string]providers.ShippingProvider
}

// New creates a Factory.
func New(registry *region.Registry, creds *credentials.Resolver, overrides Overrides, logger *slog.Logger) *Factory {
	return &Factory{
		registry:    registry,
		credentials: creds,
		overrides:   overrides,
		logger:      logger,
		payment:     make(map[string]providers.PaymentProvider),
		shipping:    make(map[string]providers.ShippingProvider),
	}
}

// PaymentProvider returns the payment adapter serving a region.
func (f *Factory) PaymentProvider(regionCode string) (providers.PaymentProvider, error) {
	cfg, err := f.registry.Resolve(regionCode)
	if err != nil {
		return nil, err
	}
	return f.paymentByName(cfg.PaymentProvider, cfg.Code)
}

// PaymentProviderByName returns a payment adapter by provider name,
// resolving the region that serves its webhooks.
func (f *Factory) PaymentProviderByName(provider string) (providers.PaymentProvider, error) {
	cfg, err := f.registry.RegionForPaymentProvider(provider)
	if err != nil {
		return nil, err
	}
	return f.paymentByName(provider, cfg.Code)
}

// ShippingProvider returns the shipping adapter serving a region.
func (f *Factory) ShippingProvider(regionCode string) (providers.ShippingProvider, error) {
	cfg, err := f.registry.Resolve(regionCode)
	if err != nil {
		return nil, err
	}
	return f.shippingByName(cfg.ShippingProvider, cfg.Code)
}

// ShippingProviderByName returns a shipping adapter by provider name,
// resolving the region that serves its webhooks.
func (f *Factory) ShippingProviderByName(provider string) (providers.ShippingProvider, error) {
	cfg, err := f.registry.RegionForShippingProvider(provider)
	if err != nil {
		return nil, err
	}
	return f.shippingByName(provider, cfg.Code)
}

func (f *Factory) paymentByName(provider, regionCode string) (providers.PaymentProvider, error) {
	key := cacheKey(regionCode, provider)

	f.mu.RLock()
	cached, ok := f.payment[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.payment[key]; ok {
		return cached, nil
	}

	creds, err := f.credentials.Resolve(provider)
	if err != nil {
		return nil, apperror.Configuration(regionCode, provider, err.Error())
	}

	var adapter providers.PaymentProvider
	switch provider {
	case region.ProviderRazorpay:
		adapter = razorpay.New(razorpay.Config{
			BaseURL:     f.overrides.RazorpayBaseURL,
			Credentials: creds,
		}, f.logger)
	case region.ProviderPayPal:
		adapter, err = paypal.New(paypal.Config{
			BaseURL:     f.overrides.PayPalBaseURL,
			Mode:        f.credentials.Mode(),
			Credentials: creds,
			ReturnURL:   f.overrides.PayPalReturnURL,
			CancelURL:   f.overrides.PayPalCancelURL,
		}, f.logger)
		if err != nil {
			return nil, apperror.Configuration(regionCode, provider, err.Error())
		}
	default:
		return nil, apperror.Configuration(regionCode, provider, "unknown payment provider")
	}

	f.payment[key] = adapter
	f.logger.Info("payment adapter initialized", "provider", provider, "region", regionCode)
	return adapter, nil
}

func (f *Factory) shippingByName(provider, regionCode string) (providers.ShippingProvider, error) {
	key := cacheKey(regionCode, provider)

	f.mu.RLock()
	cached, ok := f.shipping[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.shipping[key]; ok {
		return cached, nil
	}

	creds, err := f.credentials.Resolve(provider)
	if err != nil {
		return nil, apperror.Configuration(regionCode, provider, err.Error())
	}

	var adapter providers.ShippingProvider
	switch provider {
	case region.ProviderShiprocket:
		adapter = shiprocket.New(shiprocket.Config{
			BaseURL:     f.overrides.ShiprocketBaseURL,
			Credentials: creds,
		}, f.logger)
	case region.ProviderEasyPost:
		adapter = easypost.New(easypost.Config{
			BaseURL:     f.overrides.EasyPostBaseURL,
			Credentials: creds,
		}, f.logger)
	default:
		return nil, apperror.Configuration(regionCode, provider, "unknown shipping provider")
	}

	f.shipping[key] = adapter
	f.logger.Info("shipping adapter initialized", "provider", provider, "region", regionCode)
	return adapter, nil
}

// ClearCache drops all cached adapters so the next request constructs
// fresh ones. Intended for test isolation; request paths never call it.
func (f *Factory) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payment = make(map[string]providers.PaymentProvider)
	f.shipping = make(map[string]providers.ShippingProvider)
}

func cacheKey(regionCode, provider string) string {
	return fmt.Sprintf("%s|%s", regionCode, provider)
}
