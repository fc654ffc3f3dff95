// Package claude implements the rewrite provider on the Anthropic Messages
// API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/avwatch/internal/rewrite"
)

const (
	defaultTimeout   = 40 * time.Second
	defaultMaxTokens = 1024
	temperature      = 0.2
)

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // empty for the public API
	Timeout time.Duration
}

// Client completes prompts with Claude.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: cfg.Model,
	}
}

// Name identifies the provider in logs.
func (c *Client) Name() string { return "claude" }

// Complete sends one system + user exchange and returns the text blocks of
// the reply joined together. HTTP 402 is reported as rewrite.ErrPaymentRequired.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired {
			return "", fmt.Errorf("claude: %w: %v", rewrite.ErrPaymentRequired, err)
		}
		return "", fmt.Errorf("claude: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
