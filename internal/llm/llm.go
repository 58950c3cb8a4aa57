// Package llm wraps the remote text-generation endpoints behind one
// Generator contract.
//
// A Generator makes exactly one network call per Generate and never retries.
// Failures are split into two kinds so the retry coordinator can branch:
// ErrRateLimited (the endpoint is temporarily overloaded, safe to retry after
// waiting) and ErrGeneration (anything else, not retried). Caller context
// cancellation or deadline errors are passed through unclassified.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcript-classifier-go/internal/config"
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

var (
	ErrRateLimited = errors.New("rate limited")
	ErrGeneration  = errors.New("generation failed")
)

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// HTTPStatusCoder is implemented by errors that carry an upstream status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string       { return fmt.Sprintf("upstream %d: %s", e.code, e.msg) }
func (e statusError) HTTPStatusCode() int { return e.code }

// New builds the generator named by cfg.Provider.
func New(ctx context.Context, cfg config.Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGemini(ctx, cfg.GeminiKey, cfg.Model)
	case "gateway", "openai":
		return NewGateway(cfg.GatewayURL, cfg.GatewayKey, cfg.Model)
	case "anthropic":
		if strings.HasPrefix(cfg.Model, "gemini") {
			return nil, fmt.Errorf("llm_model %q is not an anthropic model", cfg.Model)
		}
		return NewAnthropic(cfg.AnthropicKey, cfg.Model)
	case "mock":
		return NewMock(), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// classify wraps err with its kind. limited forces the rate-limit branch for
// backends that detect it themselves.
func classify(ctx context.Context, provider string, limited bool, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	if limited || rateLimited(err) {
		return fmt.Errorf("%s: %w: %w", provider, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrGeneration, err)
}

func rateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted")
}
