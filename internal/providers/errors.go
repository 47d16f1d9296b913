// Package providers implements the per-vendor adapters that translate the
// neutral request/response model into each upstream LLM API and back.
//
// Every adapter classifies upstream failures into the canonical error kinds
// consumed by the retry/fallback pipeline; the pipeline only ever matches on
// the kind, never on vendor-specific payloads.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// Kind is the canonical classification of a provider failure.
type Kind string

const (
	// Transient.
	KindRateLimit             Kind = "rate_limit"
	KindProviderInternalError Kind = "provider_internal_error"
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindReadTimeout           Kind = "read_timeout"
	KindTimeout               Kind = "timeout"

	// Generation-side.
	KindMaxTokensExceeded         Kind = "max_tokens_exceeded"
	KindStructuredGenerationError Kind = "structured_generation_error"
	KindInvalidGeneration         Kind = "invalid_generation"
	KindFailedGeneration          Kind = "failed_generation"

	// Policy.
	KindContentModeration Kind = "content_moderation"
	KindTaskBanned        Kind = "task_banned"

	// Client-side.
	KindInvalidFile             Kind = "invalid_file"
	KindBadRequest              Kind = "bad_request"
	KindModelDoesNotSupportMode Kind = "model_does_not_support_mode"

	// Configuration.
	KindMissingModel              Kind = "missing_model"
	KindNoProviderSupportingModel Kind = "no_provider_supporting_model"
	KindInvalidProviderConfig     Kind = "invalid_provider_config"

	// Runtime.
	KindMaxToolCallIteration Kind = "max_tool_call_iteration"
	KindAgentRunFailed       Kind = "agent_run_failed"
	KindInternalError        Kind = "internal_error"
	KindUnpriceableRun       Kind = "unpriceable_run"
)

// Retryable reports whether another attempt (possibly on another provider)
// may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindProviderInternalError, KindProviderUnavailable,
		KindReadTimeout, KindTimeout, KindMissingModel,
		KindStructuredGenerationError, KindInvalidGeneration,
		KindFailedGeneration, KindContentModeration, KindMaxTokensExceeded:
		return true
	default:
		return false
	}
}

// ShouldTryNextProvider reports whether the pipeline should move to the next
// provider for the same model after this kind.
func (k Kind) ShouldTryNextProvider() bool {
	switch k {
	case KindRateLimit, KindProviderInternalError, KindProviderUnavailable,
		KindReadTimeout, KindTimeout, KindMissingModel,
		KindInvalidProviderConfig, KindMaxTokensExceeded:
		return true
	default:
		return false
	}
}

// MaxAttemptCount bounds same-provider retries for this kind; 1 means no
// same-provider retry.
func (k Kind) MaxAttemptCount() int {
	switch k {
	case KindRateLimit:
		return 3
	case KindInvalidGeneration, KindFailedGeneration:
		return 2
	default:
		return 1
	}
}

// AddToMessages reports whether a retry should append the failed response
// and a corrective user message to the conversation.
func (k Kind) AddToMessages() bool {
	switch k {
	case KindInvalidGeneration, KindFailedGeneration:
		return true
	default:
		return false
	}
}

// StatusCode is the HTTP status surfaced for this kind on the gateway API.
func (k Kind) StatusCode() int {
	switch k {
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindReadTimeout, KindTimeout:
		return http.StatusGatewayTimeout
	case KindMaxTokensExceeded, KindInvalidFile, KindBadRequest,
		KindModelDoesNotSupportMode, KindMissingModel,
		KindNoProviderSupportingModel, KindInvalidProviderConfig,
		KindMaxToolCallIteration, KindTaskBanned:
		return http.StatusBadRequest
	case KindContentModeration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Capture reports whether the error should be captured by the host error
// tracker; expected client-side failures are not.
func (k Kind) Capture() bool {
	switch k {
	case KindBadRequest, KindInvalidFile, KindMaxTokensExceeded,
		KindContentModeration, KindRateLimit, KindMaxToolCallIteration:
		return false
	default:
		return true
	}
}

// Error is the single structured error type every adapter produces. The
// pipeline matches on Kind; the rest is context for surfacing and tracing.
type Error struct {
	Kind     Kind
	Provider domain.Provider
	Model    string
	ConfigID string

	// Status is the upstream HTTP status, when applicable.
	Status int

	// Code is the vendor-specific error code.
	Code string

	Message string

	// IncursCost is true when the provider charges for the failed request
	// (e.g. an HTTP 200 carrying an error payload).
	IncursCost bool

	// PartialOutput holds whatever output was produced before the failure,
	// used by corrective retries and surfaced on invalid generations.
	PartialOutput string

	// Usage carries the token counts when the provider reported them despite
	// the failure (e.g. the final frame of a max-tokens stream), so the run
	// can still be priced.
	Usage *domain.Usage

	// Details carries structured payload for serialization, e.g. the
	// provider/env-var listing of a no_provider_supporting_model error.
	Details map[string]any

	Cause error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, string(e.Provider))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Serialize converts the error into its storable form.
func (e *Error) Serialize() *domain.CompletionError {
	return &domain.CompletionError{
		Kind:       string(e.Kind),
		Message:    e.Message,
		StatusCode: e.Kind.StatusCode(),
		Details:    e.Details,
	}
}

// NewError builds a classified error.
func NewError(kind Kind, provider domain.Provider, model, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Message: message}
}

// WithStatus attaches the upstream HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCode attaches the vendor error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	if e.Message == "" && cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithDetails attaches the structured payload.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts a classified error from err, wrapping unclassified
// errors as internal_error.
func AsError(err error, provider domain.Provider, model string) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindInternalError
	if isTimeout(err) {
		kind = KindReadTimeout
	}
	return NewError(kind, provider, model, err.Error()).WithCause(err)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "timed out")
}

// ClassifyStatus maps an upstream HTTP status to the default kind for that
// status. Adapters refine it from the response body.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound:
		return KindMissingModel
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidProviderConfig
	case status == http.StatusRequestTimeout:
		return KindReadTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return KindProviderUnavailable
	case status >= 500:
		return KindProviderInternalError
	case status == http.StatusBadRequest:
		return KindBadRequest
	default:
		return KindInternalError
	}
}

// ClassifyMessage refines a kind from well-known substrings of vendor error
// messages. The fallback kind is returned when nothing matches.
func ClassifyMessage(message string, fallback Kind) Kind {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "context_length_exceeded"),
		strings.Contains(m, "context length"),
		strings.Contains(m, "string_above_max_length"),
		strings.Contains(m, "prompt is too long"),
		strings.Contains(m, "image exceeds"),
		strings.Contains(m, "too many total text bytes"):
		return KindMaxTokensExceeded
	case strings.Contains(m, "content filter"),
		strings.Contains(m, "content_filter"),
		strings.Contains(m, "violated ai practices"),
		strings.Contains(m, "content management policy"),
		strings.Contains(m, "safety"):
		return KindContentModeration
	case strings.Contains(m, "invalid image"),
		strings.Contains(m, "unsupported image"),
		strings.Contains(m, "could not process image"),
		strings.Contains(m, "error while downloading"),
		strings.Contains(m, "invalid base64"),
		strings.Contains(m, "failed to decode image"):
		return KindInvalidFile
	case strings.Contains(m, "model_not_found"),
		strings.Contains(m, "model not found"),
		strings.Contains(m, "is not deployed"),
		strings.Contains(m, "does not exist"):
		return KindMissingModel
	case strings.Contains(m, "response_format"),
		strings.Contains(m, "json_schema"),
		strings.Contains(m, "structured output"):
		return KindStructuredGenerationError
	case strings.Contains(m, "unsupported parameter") && strings.Contains(m, "tools"),
		strings.Contains(m, "does not support tools"):
		return KindModelDoesNotSupportMode
	case strings.Contains(m, "rate limit"),
		strings.Contains(m, "rate_limit"),
		strings.Contains(m, "too many requests"),
		strings.Contains(m, "quota"):
		return KindRateLimit
	case strings.Contains(m, "overloaded"),
		strings.Contains(m, "server is busy"):
		return KindProviderUnavailable
	case strings.Contains(m, "malformed function call"),
		strings.Contains(m, "failed to generate"):
		return KindFailedGeneration
	default:
		return fallback
	}
}
