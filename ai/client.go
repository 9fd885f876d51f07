package ai

import (
	"context"
	"errors"
	"fmt"

	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the provider responds without content.
var ErrNoChoices = errors.New("provider returned no choices")

// Config holds provider settings for one client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client is the upstream generative-AI boundary: conversational turns in,
// text out. The crisis engine injects hidden guidance turns through the
// same channel; they are folded into the prompt as system turns and never
// echoed back.
type Client struct {
	api   *openai.Client
	model string
	log   *logger.Logger
}

// NewClient creates a provider client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	return &Client{
		api:   openai.NewClientWithConfig(clientConfig),
		model: model,
		log:   log,
	}, nil
}

// Complete sends a single system+user exchange and returns the text.
// The redaction gateway runs on this primitive.
func (c *Client) Complete(ctx context.Context, system, input string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Reply generates the assistant's next turn from the session transcript.
// Hidden ai_guidance messages become system turns so the provider follows
// them while the end user never sees them.
func (c *Client) Reply(ctx context.Context, persona string, history []models.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: persona,
	})

	for _, msg := range history {
		role := openai.ChatMessageRoleAssistant
		switch {
		case msg.HiddenFromUser() || msg.Role == models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case msg.Role == models.RoleUser:
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}
