package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/observability"
	"github.com/admitcraft/admitcraft/internal/server/middleware"
)

// Error codes carried by envelopes. Each one resolves to an HTTP status and
// a public title in publicErrors.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeContentTooLong      = "CONTENT_TOO_LONG"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstreamRateLimited = "UPSTREAM_RATE_LIMITED"
	CodeUpstreamRejected    = "UPSTREAM_REJECTED"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeInternal            = "INTERNAL_ERROR"
)

// Public messages that never vary with the underlying cause
const (
	MessageMessagesRequired = "Messages array is required"
	MessageInvalidJSON      = "Request body must be valid JSON"
	MessageContentTooLong   = "Total message content exceeds maximum length"
	MessageRateLimited      = "Too many requests. Please try again later."
	MessageUpstreamThrottle = "Service is experiencing high demand. Please try again in a few moments."
	MessageUpstreamRejected = "The request could not be processed. Please check your input."
	MessageServerError      = "An unexpected error occurred. Please try again."
)

// retryAfterKey is the envelope detail holding the advisory retry delay in seconds
const retryAfterKey = "retryAfter"

type publicError struct {
	status  int
	title   string
	message string
	// fixed marks codes whose public message never comes from the envelope
	fixed bool
}

var publicErrors = map[string]publicError{
	CodeInvalidRequest:      {status: http.StatusBadRequest, title: "Invalid request", message: MessageMessagesRequired},
	CodeContentTooLong:      {status: http.StatusBadRequest, title: "Content too long", message: MessageContentTooLong, fixed: true},
	CodeRateLimited:         {status: http.StatusTooManyRequests, title: "Rate limit exceeded", message: MessageRateLimited, fixed: true},
	CodeUpstreamRateLimited: {status: http.StatusTooManyRequests, title: "API rate limit", message: MessageUpstreamThrottle, fixed: true},
	CodeUpstreamRejected:    {status: http.StatusBadRequest, title: "Invalid request", message: MessageUpstreamRejected, fixed: true},
	CodePayloadTooLarge:     {status: http.StatusRequestEntityTooLarge, title: "Payload too large", message: "Request body exceeds the maximum allowed size"},
	CodeNotFound:            {status: http.StatusNotFound, title: "Not found", message: "The requested resource was not found"},
	CodeMethodNotAllowed:    {status: http.StatusMethodNotAllowed, title: "Method not allowed", message: "The requested method is not allowed for this resource"},
	CodeServiceUnavailable:  {status: http.StatusServiceUnavailable, title: "Service unavailable", message: "The service is not ready. Please try again later.", fixed: true},
	CodeConfigInvalid:       {status: http.StatusInternalServerError, title: "Server error", message: MessageServerError, fixed: true},
	CodeInternal:            {status: http.StatusInternalServerError, title: "Server error", message: MessageServerError, fixed: true},
}

// Client errors

func NewInvalidRequestError(message string) *errors.ErrorEnvelope {
	if message == "" {
		message = MessageMessagesRequired
	}
	return errors.NewErrorEnvelope(CodeInvalidRequest, message)
}

func NewContentTooLongError(length, limit int) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeContentTooLong, MessageContentTooLong)
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"content_length": length,
		"content_limit":  limit,
	})
	return envelope
}

func NewPayloadTooLargeError(limit int64) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodePayloadTooLarge, publicErrors[CodePayloadTooLarge].message)
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"max_body_bytes": limit,
	})
	return envelope
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

// Throttling

// NewRateLimitedError reports the local limiter refusing a client.
// retryAfter is surfaced to the caller in whole seconds.
func NewRateLimitedError(clientID string, retryAfter time.Duration) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeRateLimited, MessageRateLimited)
	envelope = envelope.WithDetails(map[string]interface{}{
		retryAfterKey: int(retryAfter / time.Second),
	})
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"client_id": clientID,
	})
	return envelope
}

func NewUpstreamRateLimitedError(provider string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeUpstreamRateLimited, MessageUpstreamThrottle)
	envelope, _ = envelope.WithContext(map[string]interface{}{"provider": provider})
	envelope, _ = envelope.WithSeverity(errors.SeverityMedium)
	return envelope
}

func NewUpstreamRejectedError(provider string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeUpstreamRejected, MessageUpstreamRejected)
	envelope, _ = envelope.WithContext(map[string]interface{}{"provider": provider})
	envelope, _ = envelope.WithSeverity(errors.SeverityMedium)
	return envelope
}

// Server errors

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(CodeInternal, message)
	envelope, _ = envelope.WithSeverity(errors.SeverityHigh)
	return envelope
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

// Wrap functions attach the request correlation id and keep the underlying
// error in the envelope context, which is logged but never serialized.

func WrapInvalidRequest(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, NewInvalidRequestError(message), err)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, NewInternalError(message), err)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, NewConfigInvalidError(message), err)
}

func wrap(ctx context.Context, envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	correlationID := extractCorrelationID(ctx)
	envelope = envelope.WithCorrelationID(correlationID)
	envelope = envelope.WithTraceID(correlationID)
	return withWrappedError(envelope, err)
}

// extractCorrelationID gets the request id from context or mints a new one
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// EnsureEnvelope normalizes any error into an ErrorEnvelope. Foreign errors
// become INTERNAL_ERROR with the original text kept in context only.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env = withWrappedError(env, err)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation id from the context when missing
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}
	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromCode resolves the HTTP status for an error code
func HTTPStatusFromCode(code string) int {
	if pe, ok := publicErrors[code]; ok {
		return pe.status
	}
	return http.StatusInternalServerError
}

// HTTPStatusFromEnvelope resolves the HTTP status for an envelope
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// RetryAfterSeconds returns the advisory retry delay carried by the envelope
func RetryAfterSeconds(envelope *errors.ErrorEnvelope) (int, bool) {
	if envelope == nil || envelope.Details == nil {
		return 0, false
	}
	switch v := envelope.Details[retryAfterKey].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// HTTPErrorResponse is the body every failed request receives
type HTTPErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// PublicResponse builds the caller-facing body for an envelope. Internal
// codes always map to the generic server error text.
func PublicResponse(envelope *errors.ErrorEnvelope) HTTPErrorResponse {
	pe, ok := publicErrors[codeOf(envelope)]
	if !ok {
		pe = publicErrors[CodeInternal]
	}

	message := pe.message
	if !pe.fixed && envelope != nil && envelope.Message != "" {
		message = envelope.Message
	}

	response := HTTPErrorResponse{Error: pe.title, Message: message}
	if seconds, ok := RetryAfterSeconds(envelope); ok {
		response.RetryAfter = &seconds
	}
	return response
}

func codeOf(envelope *errors.ErrorEnvelope) string {
	if envelope == nil {
		return CodeInternal
	}
	return envelope.Code
}

// RespondWithError normalizes the supplied error and writes a JSON response
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs the envelope, records metrics and writes the body
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)
	response := PublicResponse(envelope)

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	if response.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*response.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
