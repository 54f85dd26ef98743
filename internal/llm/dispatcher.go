package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mastermind/internal/config"
	"mastermind/internal/logging"
	"mastermind/internal/ratelimit"
	"mastermind/internal/types"
)

// Dispatcher implements Handler over an ordered provider list. Every call
// passes the shared rate limiter; each provider sits behind its own
// circuit breaker. Failover advances to the next provider on dead
// endpoints, unknown models, and open breakers; everything else surfaces
// as a structured DispatchError.
type Dispatcher struct {
	cfg       config.LLMConfig
	limiter   *ratelimit.Limiter
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	timeout   time.Duration
	secrets   []string
}

// NewDispatcher builds a dispatcher over providers (primary first).
func NewDispatcher(cfg config.LLMConfig, limiter *ratelimit.Limiter, providers ...Provider) *Dispatcher {
	openFor, err := time.ParseDuration(cfg.Breaker.OpenFor)
	if err != nil || openFor <= 0 {
		openFor = 60 * time.Second
	}
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Timeout:     openFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				// User cancellation is not a provider fault.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.LLMWarn("breaker %s: %s -> %s", name, from, to)
			},
		})
	}

	return &Dispatcher{
		cfg:       cfg,
		limiter:   limiter,
		providers: providers,
		breakers:  breakers,
		timeout:   cfg.TimeoutDuration(),
	}
}

// SetSecrets registers values to scrub from logs and error payloads.
func (d *Dispatcher) SetSecrets(secrets ...string) {
	d.secrets = secrets
}

// Limiter exposes the shared limiter so callers can install a status
// callback for retry progress.
func (d *Dispatcher) Limiter() *ratelimit.Limiter {
	return d.limiter
}

// GenerateText implements Handler.
func (d *Dispatcher) GenerateText(ctx context.Context, prompt string, opts ...Option) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &DispatchError{
			Kind:     types.ErrInvalidInput,
			Provider: "none",
			Detail:   "prompt must not be empty",
		}
	}
	if len(d.providers) == 0 {
		return "", &DispatchError{
			Kind:     types.ErrLLM,
			Provider: "none",
			Detail:   "no providers configured",
		}
	}

	o := d.buildOptions(opts)

	var lastErr error
	for _, p := range d.providers {
		text, err := d.callProvider(ctx, p, prompt, o)
		if err == nil {
			if o.JSONMode && ExtractJSON(text) == "" {
				logging.LLMWarn("json mode requested but %s returned no JSON document", p.Name())
			}
			return text, nil
		}
		lastErr = err

		if !failoverEligible(err) {
			return "", d.dispatchError(p.Name(), err)
		}
		logging.LLMWarn("provider %s failed over: %v", p.Name(), d.scrub(err.Error()))
	}
	return "", d.dispatchError("all", lastErr)
}

// callProvider runs one provider behind its breaker, the shared limiter,
// and the per-call timeout.
func (d *Dispatcher) callProvider(ctx context.Context, p Provider, prompt string, o Options) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, fmt.Sprintf("generate via %s", p.Name()))
	defer timer.Stop()

	cb := d.breakers[p.Name()]
	result, err := cb.Execute(func() (interface{}, error) {
		var out string
		callErr := d.limiter.Call(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			text, genErr := p.Generate(callCtx, prompt, o)
			if genErr != nil {
				return genErr
			}
			out = text
			return nil
		})
		return out, callErr
	})
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	logging.LLMDebug("%s completed: prompt=%dB response=%dB json_mode=%v",
		p.Name(), len(prompt), len(text), o.JSONMode)
	return text, nil
}

// buildOptions layers per-call options over config defaults.
func (d *Dispatcher) buildOptions(opts []Option) Options {
	temp := d.cfg.Temperature
	o := Options{
		Model:       d.cfg.Model,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: &temp,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// failoverEligible reports whether the next provider should be tried.
func failoverEligible(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// dispatchError wraps a provider failure into the structured form with
// secrets scrubbed.
func (d *Dispatcher) dispatchError(provider string, err error) *DispatchError {
	return &DispatchError{
		Kind:     classifyKind(err),
		Provider: provider,
		Detail:   d.scrub(err.Error()),
		Err:      err,
	}
}

func (d *Dispatcher) scrub(s string) string {
	return Scrub(s, d.secrets...)
}
