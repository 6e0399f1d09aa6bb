// Package genai condenses free-form caregiver feedback using the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// summarySystemPrompt keeps summaries to one plain sentence.
const summarySystemPrompt = "You condense caregiver feedback about a therapy-session tracking assistant " +
	"into one short sentence capturing the main point. Reply with the sentence only, no preamble."

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the real client to chatService.
type openaiChat struct {
	client openai.Client
}

func (o openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service for summarization.
type Client struct {
	chat chatService
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when no option provides one.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: openaiChat{client: cli}}, nil
}

// Summarize produces a one-line summary of the given feedback text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(text),
		},
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("summarize feedback: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize feedback: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
