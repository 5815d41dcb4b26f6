package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"commercegate/internal/common/apperror"
)

// ClassifyTransportError maps an outbound HTTP transport failure onto the
// error taxonomy: deadline/timeout failures become ProviderTimeoutError so
// the orchestration layer can decide whether a retry is safe, everything
// else becomes a ProviderError with a network code.
func ClassifyTransportError(provider, op string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout(provider, op, timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Timeout(provider, op, timeout)
	}
	return &apperror.ProviderError{
		Provider: provider,
		Code:     "NETWORK_ERROR",
		Message:  err.Error(),
	}
}

// DecodeResponse reads a provider response. Non-2xx responses become
// ProviderError with the raw body preserved for diagnostics; 2xx bodies are
// decoded into v when v is non-nil.
func DecodeResponse(provider, op string, resp *http.Response, v any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &apperror.ProviderError{
			Provider: provider,
			Code:     "READ_ERROR",
			Message:  err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &apperror.ProviderError{
			Provider:   provider,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    fmt.Sprintf("%s returned status %d", op, resp.StatusCode),
			RawDetails: json.RawMessage(body),
		}
		// Providers that return a structured error get their own code
		// surfaced instead of the bare status.
		var detail struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
				Message     string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Error.Code != "" {
			perr.Code = detail.Error.Code
			if detail.Error.Description != "" {
				perr.Message = detail.Error.Description
			} else if detail.Error.Message != "" {
				perr.Message = detail.Error.Message
			}
		}
		return perr
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &apperror.ProviderError{
			Provider:   provider,
			Code:       "DECODE_ERROR",
			Message:    err.Error(),
			RawDetails: json.RawMessage(body),
		}
	}
	return nil
}
