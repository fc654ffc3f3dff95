// Package openai implements the rewrite provider for OpenAI-compatible chat
// completion APIs such as DeepSeek and OpenRouter.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/avwatch/internal/rewrite"
)

const (
	defaultTimeout = 40 * time.Second
	temperature    = 0.2
)

// Default endpoints and models.
const (
	DeepSeekBaseURL   = "https://api.deepseek.com/v1"
	DeepSeekModel     = "deepseek-chat"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenRouterModel   = "deepseek/deepseek-chat"
)

// Config configures a Client.
type Config struct {
	Name    string // provider label, e.g. "deepseek"
	APIKey  string
	Model   string
	BaseURL string
	Headers map[string]string // sent on every request
	Timeout time.Duration
}

// Client completes prompts through a chat completions endpoint.
type Client struct {
	name  string
	model string
	api   *goopenai.Client
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			headers: cfg.Headers,
			next:    otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	return &Client{
		name:  cfg.Name,
		model: cfg.Model,
		api:   goopenai.NewClientWithConfig(oc),
	}
}

// NewDeepSeek creates a client for the DeepSeek API.
func NewDeepSeek(apiKey, model, baseURL string) *Client {
	return New(Config{
		Name:    "deepseek",
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
	})
}

// NewOpenRouter creates a client for OpenRouter with its attribution headers.
func NewOpenRouter(apiKey, model, baseURL, siteURL, appName string) *Client {
	return New(Config{
		Name:    "openrouter",
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Headers: map[string]string{
			"HTTP-Referer": siteURL,
			"X-Title":      appName,
		},
	})
}

// Name identifies the provider in logs.
func (c *Client) Name() string { return c.name }

// Complete sends one system + user exchange and returns the first choice.
// HTTP 402 is reported as rewrite.ErrPaymentRequired.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		if statusCode(err) == http.StatusPaymentRequired {
			return "", fmt.Errorf("%s: %w: %v", c.name, rewrite.ErrPaymentRequired, err)
		}
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

type headerTransport struct {
	headers map[string]string
	next    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.next.RoundTrip(req)
}
