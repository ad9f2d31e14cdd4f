package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidRequest marks a payload that is structurally unacceptable.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrContentTooLong marks a payload whose messages exceed the content cap.
	ErrContentTooLong = errors.New("content too long")
)

// Public messages for invalid payloads
const (
	MessageMessagesRequired = "Messages array is required"
	MessageInvalidMaxTokens = "maxTokens must be a positive integer"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// InvalidRequestError carries the caller-facing reason a payload was refused.
type InvalidRequestError struct {
	Message string
	Err     error
}

func (e *InvalidRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// ContentTooLongError reports the measured length against the cap.
type ContentTooLongError struct {
	Length int
	Limit  int
}

func (e *ContentTooLongError) Error() string {
	return fmt.Sprintf("content length %d exceeds limit %d", e.Length, e.Limit)
}

func (e *ContentTooLongError) Is(target error) bool { return target == ErrContentTooLong }

func invalid(message string, err error) error {
	return &InvalidRequestError{Message: message, Err: err}
}

// DecodeGenerateRequest parses a syntactically valid JSON body. An empty
// body decodes as an empty object.
func DecodeGenerateRequest(body []byte) (*GenerateRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}

	var raw struct {
		Messages  json.RawMessage `json:"messages"`
		MaxTokens json.RawMessage `json:"maxTokens"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, invalid(MessageMessagesRequired, err)
	}

	req := &GenerateRequest{}

	if len(raw.Messages) == 0 || bytes.Equal(raw.Messages, []byte("null")) {
		return nil, invalid(MessageMessagesRequired, nil)
	}
	// Entries are forwarded untouched; the provider judges their shape.
	if err := json.Unmarshal(raw.Messages, &req.Messages); err != nil {
		return nil, invalid(MessageMessagesRequired, err)
	}

	if len(raw.MaxTokens) > 0 && !bytes.Equal(raw.MaxTokens, []byte("null")) {
		var maxTokens int
		if err := json.Unmarshal(raw.MaxTokens, &maxTokens); err != nil {
			return nil, invalid(MessageInvalidMaxTokens, err)
		}
		req.MaxTokens = &maxTokens
	}

	return req, nil
}

// Validate applies the structural rules and the content cap.
func Validate(req *GenerateRequest, policy Policy) error {
	if req == nil {
		return invalid(MessageMessagesRequired, nil)
	}

	if err := validate.Struct(req); err != nil {
		return invalid(validationMessage(err), err)
	}

	limit := policy.MaxContentLength
	if limit <= 0 {
		limit = DefaultMaxContentLength
	}
	if length := req.ContentLength(); length > limit {
		return &ContentTooLongError{Length: length, Limit: limit}
	}

	return nil
}

// ParseAndValidate decodes and validates a body in one pass.
func ParseAndValidate(body []byte, policy Policy) (*GenerateRequest, error) {
	req, err := DecodeGenerateRequest(body)
	if err != nil {
		return nil, err
	}
	if err := Validate(req, policy); err != nil {
		return nil, err
	}
	return req, nil
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return MessageMessagesRequired
	}

	switch validationErrors[0].StructField() {
	case "MaxTokens":
		return MessageInvalidMaxTokens
	default:
		return MessageMessagesRequired
	}
}
