package ailink

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/admitcraft/admitcraft/internal/ailink/driver"
)

func mapProviderError(err error) *GenerateError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerateError{Code: CodeProviderTimeout, Message: "provider request timed out", Details: err.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &GenerateError{Code: CodeProviderCanceled, Message: "provider request canceled", Details: err.Error(), Err: err}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		details := strings.TrimSpace(perr.Message)
		mapped := &GenerateError{StatusCode: status, Details: details, Err: err}
		switch {
		case status == http.StatusTooManyRequests:
			mapped.Code, mapped.Message = CodeProviderRateLimit, "provider rate limited"
		case status == http.StatusBadRequest:
			mapped.Code, mapped.Message = CodeProviderBadRequest, "provider rejected request"
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			mapped.Code, mapped.Message = CodeProviderAuth, "provider authentication failed"
		case status >= 500 && status <= 599:
			mapped.Code, mapped.Message = CodeProviderUnavailable, "provider unavailable"
		default:
			mapped.Code, mapped.Message = CodeProviderError, "provider request failed"
		}
		return mapped
	}

	return &GenerateError{Code: CodeProviderError, Message: "provider request failed", Details: err.Error(), Err: err}
}
