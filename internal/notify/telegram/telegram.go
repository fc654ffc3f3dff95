// Package telegram publishes posts and operator alerts through the Telegram
// Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultAPIURL is the Bot API root.
	DefaultAPIURL = "https://api.telegram.org"

	httpTimeout = 20 * time.Second
	alertPrefix = "🚨 avwatch ALERT\n\n"
)

var (
	errNoToken   = errors.New("telegram: bot token is empty")
	errNoChannel = errors.New("telegram: channel is empty")
)

// Config configures a Publisher.
type Config struct {
	BotToken    string
	Channel     string // target of Publish, e.g. "@avia_crash"
	AlertChatID string // target of SendAlert; empty logs alerts only
	APIURL      string // empty for DefaultAPIURL
}

// Publisher sends messages with sendMessage.
type Publisher struct {
	cfg     Config
	api     *bot.Bot
	initErr error
	logger  log.Logger
}

// New creates a Publisher. It makes no network calls.
func New(cfg Config, logger log.Logger) *Publisher {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	p := &Publisher{cfg: cfg, logger: logger}
	if cfg.BotToken == "" {
		return p
	}
	client := &http.Client{
		Timeout:   httpTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	p.api, p.initErr = bot.New(cfg.BotToken,
		bot.WithSkipGetMe(),
		bot.WithServerURL(cfg.APIURL),
		bot.WithHTTPClient(httpTimeout, client),
	)
	return p
}

// Publish posts text to the channel.
func (p *Publisher) Publish(ctx context.Context, text string) error {
	if p.cfg.BotToken == "" {
		return errNoToken
	}
	if p.cfg.Channel == "" {
		return errNoChannel
	}
	return p.sendText(ctx, p.cfg.Channel, text)
}

// SendAlert posts an operator alert to the alert chat. Missing configuration
// and delivery failures are logged and never returned.
func (p *Publisher) SendAlert(ctx context.Context, text string) {
	if p.cfg.AlertChatID == "" {
		p.logger.Warn(ctx, "ALERT (no alert chat configured)", "alert", text)
		return
	}
	if p.cfg.BotToken == "" {
		p.logger.Warn(ctx, "ALERT (no bot token)", "alert", text)
		return
	}
	if err := p.sendText(ctx, p.cfg.AlertChatID, alertPrefix+text); err != nil {
		p.logger.Error(ctx, err, "failed to send alert", "chat_id", p.cfg.AlertChatID)
	}
}

// sendText sends with Markdown and retries once as plain text when Telegram
// rejects the entities.
func (p *Publisher) sendText(ctx context.Context, chatID, text string) error {
	if p.initErr != nil {
		return fmt.Errorf("telegram: init bot: %w", p.initErr)
	}

	params := &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          models.ParseModeMarkdownV1,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	}
	_, err := p.api.SendMessage(ctx, params)
	if err != nil && isEntityParseError(err) {
		p.logger.Warn(ctx, "telegram rejected markdown, retrying as plain text", "chat_id", chatID, "details", err.Error())
		params.ParseMode = ""
		_, err = p.api.SendMessage(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("telegram sendMessage failed: chat_id=%s: %w", chatID, redact(err))
	}
	return nil
}

func isEntityParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

// redact keeps the bot token, which is part of every request URL, out of
// transport errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
