package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ValidateHMAC verifies an HMAC-SHA256 hex signature over the raw payload
// bytes using constant-time comparison. Malformed input resolves to false
// rather than an error: webhook endpoints are public attack surface and
// verification must never become a crash vector.
func ValidateHMAC(payload []byte, signature, secret string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if secret == "" || signature == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hmac.Equal(mac.Sum(nil), expected)
}

// SignHMAC computes the hex HMAC-SHA256 signature for a payload. Providers
// compute this on their side; we use it when simulating callbacks in tests.
func SignHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
