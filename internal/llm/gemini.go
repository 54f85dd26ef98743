package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"mastermind/internal/config"
	"mastermind/internal/ratelimit"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient generates text through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds the adapter. Client construction performs no I/O
// beyond credential setup, but the SDK wants a context anyway.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Name() string { return config.ProviderGemini }

func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	genCfg := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.JSONMode {
		genCfg.ResponseMIMEType = "application/json"
	}
	if opts.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}
	if len(opts.Stop) > 0 {
		genCfg.StopSequences = opts.Stop
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", classifyGeminiErr(err)
	}
	text := resp.Text()
	if text == "" {
		return "", ratelimit.Permanent(fmt.Errorf("%w: no candidates", ErrEmptyResponse))
	}
	return text, nil
}

// classifyGeminiErr maps API failures onto the retry markers. The SDK does
// not expose a stable typed error, so this goes by status text.
func classifyGeminiErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota"):
		return ratelimit.Transient(fmt.Errorf("%w: %v", ErrThrottled, err))
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "INTERNAL"):
		return ratelimit.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return ratelimit.Permanent(fmt.Errorf("%w: %v", ErrModelNotFound, err))
	default:
		return ratelimit.Permanent(err)
	}
}
