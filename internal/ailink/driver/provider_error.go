package driver

import (
	"errors"
	"fmt"
)

// ProviderError is returned when a provider answers with a non-2xx status.
//
// RawResponse holds the provider body bytes for logs and traces. It must never
// include API keys and is never relayed to callers.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// StatusCode extracts the provider HTTP status from err, or 0 when err did
// not come from a provider response.
func StatusCode(err error) int {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr.StatusCode
	}
	return 0
}
