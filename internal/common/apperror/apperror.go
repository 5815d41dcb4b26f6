// Package apperror defines the error taxonomy shared by the orchestration
// services, provider adapters and HTTP handlers. Each kind carries enough
// structure for callers to decide whether an operation is retryable and how
// it maps onto an HTTP response.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates a malformed or inconsistent request. Never
// retried; surfaced to the caller as a 4xx-equivalent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation creates a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validationf creates a ValidationError with a formatted reason.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationError indicates an unsupported region or provider. It is
// fatal for the request and points at a deployment gap, not caller input.
type ConfigurationError struct {
	Region   string
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: region=%q provider=%q: %s", e.Region, e.Provider, e.Reason)
}

// Configuration creates a ConfigurationError.
func Configuration(region, provider, reason string) *ConfigurationError {
	return &ConfigurationError{Region: region, Provider: provider, Reason: reason}
}

// ProviderTimeoutError indicates the provider did not respond within the
// configured budget. Safe to retry with the same idempotency key; the
// provider may still have completed the operation out-of-band, so a later
// webhook or verify call is the authoritative reconciliation path.
type ProviderTimeoutError struct {
	Provider string
	Op       string
	Timeout  time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s: %s timed out after %s", e.Provider, e.Op, e.Timeout)
}

// Timeout creates a ProviderTimeoutError.
func Timeout(provider, op string, timeout time.Duration) *ProviderTimeoutError {
	return &ProviderTimeoutError{Provider: provider, Op: op, Timeout: timeout}
}

// ProviderError indicates the provider responded with a business error
// (declined card, invalid account). Not retried automatically; the
// provider's own error code is preserved for diagnostics.
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	RawDetails json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Code, e.Message)
}

// WebhookAuthError indicates an inbound callback failed signature
// verification. The payload is never processed; logged as a potential
// security event.
type WebhookAuthError struct {
	Provider string
	Reason   string
}

func (e *WebhookAuthError) Error() string {
	return fmt.Sprintf("webhook auth: provider %s: %s", e.Provider, e.Reason)
}

// IllegalStateTransitionError indicates an attempt to move a record through
// a transition the state machine forbids. Usually a harmless replay;
// discarded and logged rather than propagated as a hard failure.
type IllegalStateTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a ProviderTimeoutError.
func IsTimeout(err error) bool {
	var e *ProviderTimeoutError
	return errors.As(err, &e)
}

// IsProvider reports whether err is a ProviderError.
func IsProvider(err error) bool {
	var e *ProviderError
	return errors.As(err, &e)
}

// IsWebhookAuth reports whether err is a WebhookAuthError.
func IsWebhookAuth(err error) bool {
	var e *WebhookAuthError
	return errors.As(err, &e)
}

// IsIllegalTransition reports whether err is an IllegalStateTransitionError.
func IsIllegalTransition(err error) bool {
	var e *IllegalStateTransitionError
	return errors.As(err, &e)
}

// Kind returns a short tag for metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsValidation(err):
		return "validation"
	case IsConfiguration(err):
		return "configuration"
	case IsTimeout(err):
		return "timeout"
	case IsProvider(err):
		return "provider"
	case IsWebhookAuth(err):
		return "webhook_auth"
	case IsIllegalTransition(err):
		return "illegal_transition"
	default:
		return "internal"
	}
}
