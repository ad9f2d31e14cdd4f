package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/ailink/driver"
	"github.com/admitcraft/admitcraft/internal/ailink/driver/anthropic"
	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/observability"
)

// Service forwards validated requests to the configured driver with a
// fixed model and classifies failures.
type Service struct {
	Driver driver.Driver
	Model  string
}

// NewService builds a Service from provider configuration.
func NewService(cfg Config) (*Service, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	if provider != ProviderAnthropic {
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}

	client := anthropic.NewClient(cfg.BaseURL, cfg.APIKey)
	client.Timeout = cfg.Timeout

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = anthropic.DefaultModel
	}

	return &Service{Driver: client, Model: model}, nil
}

// Generate sends one completion. Failures are always returned as
// *GenerateError.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if s == nil || s.Driver == nil {
		return nil, &GenerateError{Code: CodeProviderError, Message: "provider not configured"}
	}

	resp, err := s.Driver.Complete(ctx, &driver.Request{
		Model:     s.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		RequestID: req.RequestID,
	})
	if err != nil {
		mapped := mapProviderError(err)
		mapped.Provider = s.Driver.Name()
		s.logFailure(req.RequestID, mapped)
		metrics.RecordUpstreamError(s.Driver.Name(), mapped.Code)
		return nil, mapped
	}

	return &GenerateResponse{Content: resp.Content, Usage: resp.Usage}, nil
}

func (s *Service) logFailure(requestID string, gerr *GenerateError) {
	if observability.ServerLogger == nil || gerr == nil {
		return
	}

	fields := []zap.Field{
		zap.String("provider", s.Driver.Name()),
		zap.String("model", s.Model),
		zap.String("error_code", gerr.Code),
		zap.String("details", gerr.Details),
	}
	if gerr.StatusCode > 0 {
		fields = append(fields, zap.Int("upstream_status", gerr.StatusCode))
	}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	switch gerr.Code {
	case CodeProviderRateLimit, CodeProviderBadRequest, CodeProviderCanceled:
		observability.ServerLogger.Warn("Upstream request failed", fields...)
	default:
		observability.ServerLogger.Error("Upstream request failed", fields...)
	}
}
