package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ClassifyTransportError maps an http.Client failure to ErrProviderUnavailable so
// pollers can treat it as transient. A cancelled caller context is returned as is.
func ClassifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// ClassifyStatus maps a non-2xx provider response. 5xx and 429 are transient,
// anything else is the provider rejecting the request and is returned verbatim.
func ClassifyStatus(provider string, code int, message string) error {
	if message == "" {
		message = http.StatusText(code)
	}
	if code >= 500 || code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s returned %d: %s", ErrProviderUnavailable, provider, code, message)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%w: %s rejected credentials: %s", ErrMissingCredentials, provider, message)
	}
	return fmt.Errorf("%s: %s", provider, message)
}
