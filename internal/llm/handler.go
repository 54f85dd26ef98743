// Package llm provides provider-agnostic text generation for mastermind.
// A Dispatcher fronts one or more provider adapters (Anthropic, OpenAI,
// Gemini, OpenRouter) behind a shared rate limiter and per-provider
// circuit breakers. Components depend only on the Handler capability.
package llm

import (
	"context"

	"mastermind/internal/types"
)

// Handler is the capability components program against.
type Handler interface {
	// GenerateText produces a completion for prompt. Options not supplied
	// fall back to configured defaults.
	GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error)
}

// Provider is one concrete backend. Adapters classify their failures with
// the ratelimit markers so the retry policy can tell transient from
// permanent without provider knowledge.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Options carries per-call generation settings.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  *float64 // nil = default; pointer keeps explicit zero expressible
	JSONMode     bool
	Stop         []string
	SystemPrompt string
}

// Option mutates Options.
type Option func(*Options)

// WithModel overrides the model for this call.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature. Zero is meaningful and
// forces deterministic output where the provider supports it.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithJSONMode requests a JSON document response.
func WithJSONMode() Option {
	return func(o *Options) { o.JSONMode = true }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) Option {
	return func(o *Options) { o.Stop = stop }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(system string) Option {
	return func(o *Options) { o.SystemPrompt = system }
}

// unavailableHandler reports a structured LLM failure on every call.
type unavailableHandler struct{ reason string }

// NewUnavailableHandler returns a Handler that fails every call with a
// classified LLM_ERROR. Used when no provider is configured so the rest
// of the system sees a structured failure instead of a nil handler.
func NewUnavailableHandler(reason string) Handler {
	if reason == "" {
		reason = "no LLM provider configured"
	}
	return &unavailableHandler{reason: reason}
}

func (h *unavailableHandler) GenerateText(context.Context, string, ...Option) (string, error) {
	return "", &DispatchError{Kind: types.ErrLLM, Provider: "none", Detail: h.reason, Err: ErrUnavailable}
}
