// Package provider is the boundary to the external content-generation
// service. Adapters translate vendor errors into the pipeline's retryable
// versus fatal taxonomy.
package provider

import (
	"context"
	"errors"
)

var (
	// Transient: the same call may succeed on a later attempt.
	ErrRateLimited = errors.New("provider_rate_limit")
	ErrTimeout     = errors.New("provider_timeout")
	ErrUnavailable = errors.New("provider_unavailable")

	// Fatal: retrying is expected to reproduce the same condition.
	ErrContentPolicy   = errors.New("provider_content_policy")
	ErrMalformedOutput = errors.New("provider_malformed_output")

	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("provider_invalid_config")
)

// Retryable reports whether the error is transient per the taxonomy.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// GenerationRequest carries the assembled prompt and generation parameters.
type GenerationRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the provider's response including the token-usage report.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	RequestID        string
}

// Provider issues a single content-generation call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) (*Completion, error)
}
