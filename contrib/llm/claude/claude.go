package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Config holds Claude client configuration
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig() *Config {
	return &Config{
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
	}
}

// Client implements llm.Client on the official Anthropic SDK.
type Client struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude completion client.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: c.config.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	var sb strings.Builder
	for _, content := range msg.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Claude API error: empty completion")
	}
	return sb.String(), nil
}
