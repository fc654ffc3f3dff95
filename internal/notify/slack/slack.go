// Package slack publishes posts to a Slack channel with a bot token and sends
// operator alerts through an incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
)

const (
	maxSectionLen = 3000
	maxHeaderLen  = 150
	httpTimeout   = 10 * time.Second
	alertTitle    = "🚨 avwatch ALERT"
)

var (
	errNoToken   = errors.New("slack: bot token is empty")
	errNoChannel = errors.New("slack: channel is empty")
)

// Config configures a Notifier.
type Config struct {
	BotToken   string
	Channel    string // channel ID or name for posts
	WebhookURL string // incoming webhook for alerts; empty logs alerts only
	APIURL     string // empty for the public Web API
}

// Notifier implements the pipeline publisher on Slack.
type Notifier struct {
	cfg    Config
	api    *slack.Client
	client *http.Client
	logger log.Logger
	now    func() time.Time
}

// New creates a Slack notifier.
func New(cfg Config, logger log.Logger) *Notifier {
	httpClient := &http.Client{
		Timeout:   httpTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Notifier{
		cfg:    cfg,
		api:    slack.New(cfg.BotToken, opts...),
		client: httpClient,
		logger: logger,
		now:    time.Now,
	}
}

// Publish posts text to the channel via chat.postMessage.
func (n *Notifier) Publish(ctx context.Context, text string) error {
	if n.cfg.BotToken == "" {
		return errNoToken
	}
	if n.cfg.Channel == "" {
		return errNoChannel
	}
	_, _, err := n.api.PostMessageContext(ctx, n.cfg.Channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// SendAlert posts an alert to the webhook. Failures are logged, never returned.
func (n *Notifier) SendAlert(ctx context.Context, text string) {
	if n.cfg.WebhookURL == "" {
		n.logger.Warn(ctx, "ALERT (no slack webhook configured)", "alert", text)
		return
	}
	msg := buildAlert(text, n.now())
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.cfg.WebhookURL, n.client, msg); err != nil {
		n.logger.Error(ctx, err, "failed to send slack alert")
	}
}

func buildAlert(text string, at time.Time) *slack.WebhookMessage {
	body := truncate(text, maxSectionLen)
	if body == "" {
		body = "_No details._"
	}
	return &slack.WebhookMessage{
		Text: alertTitle + ": " + truncate(text, maxHeaderLen),
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(alertTitle, maxHeaderLen), true, false)),
			slack.NewDividerBlock(),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
			slack.NewContextBlock("",
				slack.NewTextBlockObject(slack.MarkdownType, "avwatch • "+at.UTC().Format("2006-01-02 15:04 UTC"), false, false),
			),
		}},
	}
}

// truncate shortens s to at most limit runes.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
