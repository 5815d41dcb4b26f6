// Package credentials resolves per-provider, per-mode credentials from the
// environment. In live mode a missing credential is a startup-time error,
// never a runtime default.
package credentials

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"commercegate/internal/region"
)

// Mode selects between provider sandbox and live endpoints.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// ModeForEnvironment derives the execution mode from the deployment
// environment name.
func ModeForEnvironment(environment string) Mode {
	if environment == "production" {
		return ModeLive
	}
	return ModeSandbox
}

// ProviderCredentials holds one provider's resolved configuration. Secrets
// are never logged in full; use Redacted.
type ProviderCredentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Redacted returns a loggable description with secrets masked.
func (c ProviderCredentials) Redacted() string {
	return fmt.Sprintf("key_id=%s key_secret=%s webhook_secret=%s timeout=%s",
		c.KeyID, mask(c.KeySecret), mask(c.WebhookSecret), c.Timeout)
}

func mask(s string) string {
	if len(s) > 4 {
		return "****" + s[len(s)-4:]
	}
	return "****"
}

// envCredentials is the flat environment surface for all providers.
type envCredentials struct {
	RazorpayKeyID         string        `envconfig:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string        `envconfig:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string        `envconfig:"RAZORPAY_WEBHOOK_SECRET"`
	RazorpayTimeout       time.Duration `envconfig:"RAZORPAY_TIMEOUT" default:"30s"`
	RazorpayRetries       int           `envconfig:"RAZORPAY_RETRIES" default:"2"`
	RazorpayRetryDelay    time.Duration `envconfig:"RAZORPAY_RETRY_DELAY" default:"500ms"`

	PayPalClientID      string        `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret  string        `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookSecret string        `envconfig:"PAYPAL_WEBHOOK_SECRET"`
	PayPalTimeout       time.Duration `envconfig:"PAYPAL_TIMEOUT" default:"30s"`
	PayPalRetries       int           `envconfig:"PAYPAL_RETRIES" default:"2"`
	PayPalRetryDelay    time.Duration `envconfig:"PAYPAL_RETRY_DELAY" default:"500ms"`

	ShiprocketKeyID         string        `envconfig:"SHIPROCKET_API_KEY"`
	ShiprocketKeySecret     string        `envconfig:"SHIPROCKET_API_SECRET"`
	ShiprocketWebhookSecret string        `envconfig:"SHIPROCKET_WEBHOOK_SECRET"`
	ShiprocketTimeout       time.Duration `envconfig:"SHIPROCKET_TIMEOUT" default:"30s"`
	ShiprocketRetries       int           `envconfig:"SHIPROCKET_RETRIES" default:"2"`
	ShiprocketRetryDelay    time.Duration `envconfig:"SHIPROCKET_RETRY_DELAY" default:"500ms"`

	EasyPostKeyID         string        `envconfig:"EASYPOST_API_KEY"`
	EasyPostWebhookSecret string        `envconfig:"EASYPOST_WEBHOOK_SECRET"`
	EasyPostTimeout       time.Duration `envconfig:"EASYPOST_TIMEOUT" default:"30s"`
	EasyPostRetries       int           `envconfig:"EASYPOST_RETRIES" default:"2"`
	EasyPostRetryDelay    time.Duration `envconfig:"EASYPOST_RETRY_DELAY" default:"500ms"`
}

// Resolver hands out provider credentials for the active mode.
type Resolver struct {
	mode       Mode
	byProvider map[string]ProviderCredentials
}

// Load reads credentials from the environment. Outside live mode, missing
// values fall back to sandbox placeholders so local development works
// without a full credential set.
func Load(mode Mode) (*Resolver, error) {
	var env envCredentials
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("processing credentials: %w", err)
	}

	r := &Resolver{
		mode:       mode,
		byProvider: make(map[string]ProviderCredentials),
	}

	r.byProvider[region.ProviderRazorpay] = ProviderCredentials{
		KeyID:         env.RazorpayKeyID,
		KeySecret:     env.RazorpayKeySecret,
		WebhookSecret: env.RazorpayWebhookSecret,
		Timeout:       env.RazorpayTimeout,
		RetryAttempts: env.RazorpayRetries,
		RetryDelay:    env.RazorpayRetryDelay,
	}
	r.byProvider[region.ProviderPayPal] = ProviderCredentials{
		KeyID:         env.PayPalClientID,
		KeySecret:     env.PayPalClientSecret,
		WebhookSecret: env.PayPalWebhookSecret,
		Timeout:       env.PayPalTimeout,
		RetryAttempts: env.PayPalRetries,
		RetryDelay:    env.PayPalRetryDelay,
	}
	r.byProvider[region.ProviderShiprocket] = ProviderCredentials{
		KeyID:         env.ShiprocketKeyID,
		KeySecret:     env.ShiprocketKeySecret,
		WebhookSecret: env.ShiprocketWebhookSecret,
		Timeout:       env.ShiprocketTimeout,
		RetryAttempts: env.ShiprocketRetries,
		RetryDelay:    env.ShiprocketRetryDelay,
	}
	r.byProvider[region.ProviderEasyPost] = ProviderCredentials{
		KeyID:         env.EasyPostKeyID,
		KeySecret:     env.EasyPostKeyID, // EasyPost authenticates with the API key alone
		WebhookSecret: env.EasyPostWebhookSecret,
		Timeout:       env.EasyPostTimeout,
		RetryAttempts: env.EasyPostRetries,
		RetryDelay:    env.EasyPostRetryDelay,
	}

	for provider, creds := range r.byProvider {
		if creds.KeyID != "" && creds.KeySecret != "" && creds.WebhookSecret != "" {
			continue
		}
		if mode == ModeLive {
			return nil, fmt.Errorf("missing credentials for provider %s in live mode", provider)
		}
		r.byProvider[provider] = withSandboxDefaults(provider, creds)
	}

	return r, nil
}

func withSandboxDefaults(provider string, creds ProviderCredentials) ProviderCredentials {
	if creds.KeyID == "" {
		creds.KeyID = fmt.Sprintf("sandbox-%s-key", provider)
	}
	if creds.KeySecret == "" {
		creds.KeySecret = fmt.Sprintf("sandbox-%s-secret", provider)
	}
	if creds.WebhookSecret == "" {
		creds.WebhookSecret = fmt.Sprintf("sandbox-%s-webhook", provider)
	}
	return creds
}

// Mode returns the active execution mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns the credentials for a provider.
func (r *Resolver) Resolve(provider string) (ProviderCredentials, error) {
	creds, ok := r.byProvider[provider]
	if !ok {
		return ProviderCredentials{}, fmt.Errorf("no credentials for provider %s", provider)
	}
	return creds, nil
}
