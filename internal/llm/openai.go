package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"mastermind/internal/config"
	"mastermind/internal/ratelimit"
)

const (
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenRouterModel = "anthropic/claude-sonnet-4"
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
)

// OpenAIClient generates text through an OpenAI-compatible chat endpoint.
// OpenRouter reuses the same adapter with a base URL override.
type OpenAIClient struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIClient builds the adapter for api.openai.com.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
		name:   config.ProviderOpenAI,
	}
}

// NewOpenRouterClient builds the adapter against OpenRouter's
// OpenAI-compatible endpoint.
func NewOpenRouterClient(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = defaultOpenRouterModel
	}
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		name:   config.ProviderOpenRouter,
	}
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stop:     opts.Stop,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		// The request field is omitempty, so an explicit zero must be
		// nudged to the smallest representable value to survive encoding.
		t := float32(*opts.Temperature)
		if t == 0 {
			t = math.SmallestNonzeroFloat32
		}
		req.Temperature = t
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", ratelimit.Permanent(fmt.Errorf("%w: no choices", ErrEmptyResponse))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIErr maps API failures onto the retry markers.
func classifyOpenAIErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return ratelimit.Transient(fmt.Errorf("%w: %v", ErrThrottled, err))
		case 500, 502, 503:
			return ratelimit.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
		case 404:
			return ratelimit.Permanent(fmt.Errorf("%w: %v", ErrModelNotFound, err))
		default:
			return ratelimit.Permanent(err)
		}
	}
	return ratelimit.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
}
