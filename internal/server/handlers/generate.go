package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/admitcraft/admitcraft/internal/ailink"
	"github.com/admitcraft/admitcraft/internal/core"
	apperrors "github.com/admitcraft/admitcraft/internal/errors"
	"github.com/admitcraft/admitcraft/internal/metrics"
	"github.com/admitcraft/admitcraft/internal/server/middleware"
)

// Limiter admits or refuses a request for a client key.
type Limiter interface {
	Allow(key string) bool
}

// Generator performs one upstream completion.
type Generator interface {
	Generate(ctx context.Context, req ailink.GenerateRequest) (*ailink.GenerateResponse, error)
}

// GenerateHandler serves POST /generate.
//
// Pipeline: read body, reject malformed JSON, consult the limiter, validate
// the payload, call the upstream and relay content and usage verbatim.
type GenerateHandler struct {
	Limiter   Limiter
	Generator Generator
	Policy    core.Policy
	// RetryAfter is advertised on local throttling responses.
	RetryAfter time.Duration
}

func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.RecordGenerate(metrics.OutcomeInvalid)
			respondWithError(w, r, apperrors.NewPayloadTooLargeError(maxErr.Limit))
			return
		}
		metrics.RecordGenerate(metrics.OutcomeInvalid)
		respondWithError(w, r, apperrors.WrapInvalidRequest(r.Context(), err, apperrors.MessageInvalidJSON))
		return
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && !json.Valid(trimmed) {
		metrics.RecordGenerate(metrics.OutcomeInvalid)
		respondWithError(w, r, apperrors.NewInvalidRequestError(apperrors.MessageInvalidJSON))
		return
	}

	clientID := middleware.ClientIP(r)
	if h.Limiter != nil && !h.Limiter.Allow(clientID) {
		metrics.RecordRateLimitRejection()
		metrics.RecordGenerate(metrics.OutcomeThrottled)
		respondWithError(w, r, apperrors.NewRateLimitedError(clientID, h.RetryAfter))
		return
	}

	req, err := core.ParseAndValidate(body, h.Policy)
	if err != nil {
		metrics.RecordGenerate(metrics.OutcomeInvalid)
		respondWithError(w, r, validationEnvelope(r.Context(), err))
		return
	}

	if h.Generator == nil {
		metrics.RecordGenerate(metrics.OutcomeFailed)
		respondWithError(w, r, apperrors.NewInternalError("generator not configured"))
		return
	}

	resp, err := h.Generator.Generate(r.Context(), ailink.GenerateRequest{
		Messages:  req.Messages,
		MaxTokens: req.ResolveMaxTokens(h.Policy),
		RequestID: middleware.GetRequestID(r.Context()),
	})
	if err != nil {
		outcome, envelopeErr := upstreamEnvelope(r.Context(), err)
		metrics.RecordGenerate(outcome)
		respondWithError(w, r, envelopeErr)
		return
	}

	metrics.RecordGenerate(metrics.OutcomeSuccess)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func validationEnvelope(ctx context.Context, err error) error {
	var tooLong *core.ContentTooLongError
	if errors.As(err, &tooLong) {
		return apperrors.NewContentTooLongError(tooLong.Length, tooLong.Limit)
	}

	var invalid *core.InvalidRequestError
	if errors.As(err, &invalid) {
		return apperrors.WrapInvalidRequest(ctx, err, invalid.Message)
	}

	return apperrors.WrapInvalidRequest(ctx, err, "")
}

func upstreamEnvelope(ctx context.Context, err error) (string, error) {
	var gerr *ailink.GenerateError
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case ailink.CodeProviderRateLimit:
			return metrics.OutcomeUpstreamThrottled, apperrors.NewUpstreamRateLimitedError(gerr.Provider)
		case ailink.CodeProviderBadRequest:
			return metrics.OutcomeUpstreamRejected, apperrors.NewUpstreamRejectedError(gerr.Provider)
		}
	}
	return metrics.OutcomeFailed, apperrors.WrapInternal(ctx, err, "upstream request failed")
}
