package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commercegate/internal/region"
)

func TestModeForEnvironment(t *testing.T) {
	assert.Equal(t, ModeLive, ModeForEnvironment("production"))
	assert.Equal(t, ModeSandbox, ModeForEnvironment("development"))
	assert.Equal(t, ModeSandbox, ModeForEnvironment("staging"))
	assert.Equal(t, ModeSandbox, ModeForEnvironment(""))
}

func TestLoadSandboxDefaults(t *testing.T) {
	resolver, err := Load(ModeSandbox)
	require.NoError(t, err)
	assert.Equal(t, ModeSandbox, resolver.Mode())

	creds, err := resolver.Resolve(region.ProviderRazorpay)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.KeyID)
	assert.NotEmpty(t, creds.KeySecret)
	assert.NotEmpty(t, creds.WebhookSecret)
	assert.Positive(t, creds.Timeout)
	assert.Positive(t, creds.RetryAttempts)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_abc")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret123")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec456")
	t.Setenv("RAZORPAY_TIMEOUT", "5s")

	resolver, err := Load(ModeSandbox)
	require.NoError(t, err)

	creds, err := resolver.Resolve(region.ProviderRazorpay)
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_abc", creds.KeyID)
	assert.Equal(t, "secret123", creds.KeySecret)
	assert.Equal(t, "whsec456", creds.WebhookSecret)
	assert.Equal(t, "5s", creds.Timeout.String())
}

func TestLoadLiveModeRequiresCredentials(t *testing.T) {
	_, err := Load(ModeLive)
	require.Error(t, err, "live mode must not fall back to sandbox placeholders")
}

func TestEasyPostKeyDoublesAsSecret(t *testing.T) {
	t.Setenv("EASYPOST_API_KEY", "EZAK_test")
	t.Setenv("EASYPOST_WEBHOOK_SECRET", "whsec")

	resolver, err := Load(ModeSandbox)
	require.NoError(t, err)

	creds, err := resolver.Resolve(region.ProviderEasyPost)
	require.NoError(t, err)
	assert.Equal(t, "EZAK_test", creds.KeyID)
	assert.Equal(t, "EZAK_test", creds.KeySecret)
}

func TestResolveUnknownProvider(t *testing.T) {
	resolver, err := Load(ModeSandbox)
	require.NoError(t, err)

	_, err = resolver.Resolve("stripe")
	require.Error(t, err)
}

func TestRedacted(t *testing.T) {
	creds := ProviderCredentials{
		KeyID:         "rzp_test_abc",
		KeySecret:     "supersecret1234",
		WebhookSecret: "whsecret5678",
	}

	redacted := creds.Redacted()
	assert.Contains(t, redacted, "rzp_test_abc")
	assert.NotContains(t, redacted, "supersecret1234")
	assert.Contains(t, redacted, "****1234")
	assert.Contains(t, redacted, "****5678")
}
