package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNotConfigured indicates the AI client is not configured
	ErrNotConfigured = errors.New("AI client not configured")
	// ErrAPICallFailed indicates the AI API call failed
	ErrAPICallFailed = errors.New("AI API call failed")
	// ErrInvalidResponse indicates an invalid response from the AI API
	ErrInvalidResponse = errors.New("invalid AI API response")
)

// CompletionRequest is one chat completion call
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

// Completer returns the raw text of a chat completion
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Client talks to any OpenAI compatible chat completion endpoint (Groq, OpenAI, self hosted)
type Client struct {
	client     openai.Client
	model      string
	configured bool
}

// NewClient creates a client. An empty apiKey leaves it unconfigured.
func NewClient(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// the classifier owns the retry policy
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"))
	}

	return &Client{
		client:     openai.NewClient(opts...),
		model:      model,
		configured: apiKey != "",
	}
}

// IsConfigured returns whether the client is configured
func (c *Client) IsConfigured() bool {
	return c.configured
}

// Model returns the default model name
func (c *Client) Model() string {
	return c.model
}

// Complete sends the prompts and returns the first choice's content
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       model,
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}

	return completion.Choices[0].Message.Content, nil
}
