package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mastermind/internal/config"
	"mastermind/internal/ratelimit"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient generates text through the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds the adapter. model may be empty.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *AnthropicClient) Name() string { return config.ProviderAnthropic }

// Generate sends one user message and concatenates the text blocks of the
// reply. JSON mode has no native switch here; the dispatcher validates the
// output shape instead.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropicErr(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return "", ratelimit.Permanent(fmt.Errorf("%w: no text blocks in reply", ErrEmptyResponse))
	}
	return text, nil
}

// classifyAnthropicErr maps SDK failures onto the retry markers.
func classifyAnthropicErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429:
			return ratelimit.Transient(fmt.Errorf("%w: %v", ErrThrottled, err))
		case 500, 502, 503, 529:
			return ratelimit.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
		case 404:
			return ratelimit.Permanent(fmt.Errorf("%w: %v", ErrModelNotFound, err))
		default:
			return ratelimit.Permanent(err)
		}
	}
	// No structured status: treat as a connection-level failure.
	return ratelimit.Transient(fmt.Errorf("%w: %v", ErrUnavailable, err))
}
