// Package region maps market regions onto their configured payment and
// shipping providers. Pure lookup, no I/O.
package region

import (
	"fmt"

	"commercegate/internal/common/apperror"
	"commercegate/internal/common/money"
)

// Config describes one market region. Immutable after startup.
type Config struct {
	Code             string
	DisplayName      string
	Currency         money.Currency
	PaymentProvider  string
	ShippingProvider string
	Active           bool
}

// Payment provider identifiers.
const (
	ProviderRazorpay = "razorpay"
	ProviderPayPal   = "paypal"
)

// Shipping provider identifiers.
const (
	ProviderShiprocket = "shiprocket"
	ProviderEasyPost   = "easypost"
)

// builtin is the static region table. Region codes are case-sensitive.
var builtin = []Config{
	{Code: "IN", DisplayName: "India", Currency: money.INR, PaymentProvider: ProviderRazorpay, ShippingProvider: ProviderShiprocket, Active: true},
	{Code: "US", DisplayName: "United States", Currency: money.USD, PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: true},
	{Code: "GB", DisplayName: "United Kingdom", Currency: money.GBP, PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: true},
	{Code: "DE", DisplayName: "Germany", Currency: money.EUR, PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: true},
	{Code: "BR", DisplayName: "Brazil", Currency: money.BRL, PaymentProvider: ProviderPayPal, ShippingProvider: ProviderEasyPost, Active: false},
}

// Registry resolves regions and the reverse provider-to-region mapping used
// by webhook handlers, which arrive without a region header.
type Registry struct {
	regions         map[string]Config
	paymentRegions  map[string]string
	shippingRegions map[string]string
}

// NewRegistry builds the registry from the builtin table.
func NewRegistry() (*Registry, error) {
	return newRegistry(builtin)
}

func newRegistry(configs []Config) (*Registry, error) {
	r := &Registry{
		regions:         make(map[string]Config, len(configs)),
		paymentRegions:  make(map[string]string),
		shippingRegions: make(map[string]string),
	}

	for _, cfg := range configs {
		if _, dup := r.regions[cfg.Code]; dup {
			return nil, fmt.Errorf("duplicate region %s", cfg.Code)
		}
		if !money.IsSupported(cfg.Currency) {
			return nil, fmt.Errorf("region %s: unsupported currency %s", cfg.Code, cfg.Currency)
		}
		if cfg.Active && (cfg.PaymentProvider == "" || cfg.ShippingProvider == "") {
			return nil, fmt.Errorf("region %s: active region must configure both providers", cfg.Code)
		}
		r.regions[cfg.Code] = cfg

		// First active region wins the reverse mapping; webhooks only
		// need a region whose credentials match the provider.
		if cfg.Active {
			if _, ok := r.paymentRegions[cfg.PaymentProvider]; !ok {
				r.paymentRegions[cfg.PaymentProvider] = cfg.Code
			}
			if _, ok := r.shippingRegions[cfg.ShippingProvider]; !ok {
				r.shippingRegions[cfg.ShippingProvider] = cfg.Code
			}
		}
	}

	return r, nil
}

// Resolve returns the config for a region code. Codes are case-sensitive;
// unknown or inactive regions yield a ConfigurationError.
func (r *Registry) Resolve(code string) (Config, error) {
	cfg, ok := r.regions[code]
	if !ok {
		return Config{}, apperror.Configuration(code, "", "unknown region")
	}
	if !cfg.Active {
		return Config{}, apperror.Configuration(code, "", "region not active")
	}
	return cfg, nil
}

// RegionForPaymentProvider returns the region config serving a payment
// provider's webhooks.
func (r *Registry) RegionForPaymentProvider(provider string) (Config, error) {
	code, ok := r.paymentRegions[provider]
	if !ok {
		return Config{}, apperror.Configuration("", provider, "no region configured for payment provider")
	}
	return r.regions[code], nil
}

// RegionForShippingProvider returns the region config serving a shipping
// provider's webhooks.
func (r *Registry) RegionForShippingProvider(provider string) (Config, error) {
	code, ok := r.shippingRegions[provider]
	if !ok {
		return Config{}, apperror.Configuration("", provider, "no region configured for shipping provider")
	}
	return r.regions[code], nil
}

// Regions returns all configured regions, active or not.
func (r *Registry) Regions() []Config {
	out := make([]Config, 0, len(r.regions))
	for _, cfg := range r.regions {
		out = append(out, cfg)
	}
	return out
}
