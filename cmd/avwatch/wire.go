package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/avwatch/internal/collector/asn"
	vc "github.com/linnemanlabs/avwatch/internal/cfg"
	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/incident/memstore"
	"github.com/linnemanlabs/avwatch/internal/incident/pgstore"
	"github.com/linnemanlabs/avwatch/internal/incident/sqlitestore"
	"github.com/linnemanlabs/avwatch/internal/llm/claude"
	"github.com/linnemanlabs/avwatch/internal/llm/openai"
	"github.com/linnemanlabs/avwatch/internal/notify/slack"
	"github.com/linnemanlabs/avwatch/internal/notify/telegram"
	"github.com/linnemanlabs/avwatch/internal/pipeline"
	"github.com/linnemanlabs/avwatch/internal/postgres"
	"github.com/linnemanlabs/avwatch/internal/rewrite"
)

// canaryText is posted by -test-delivery.
const canaryText = "✅ Тестовое сообщение avwatch\n\nИнтеграция настроена корректно."

// openStore picks the incident store from the database URL scheme. The
// returned close func is never nil.
func openStore(ctx context.Context, c vc.Config, L log.Logger) (incident.Store, func(), error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{SlowQuery: c.SlowQuery()})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return st, pool.Close, nil

	case strings.HasPrefix(c.DatabaseURL, sqlitestore.URLPrefix):
		path, ok := sqlitestore.PathFromURL(c.DatabaseURL)
		if !ok {
			return nil, nil, fmt.Errorf("sqlite url %q has no path", c.DatabaseURL)
		}
		st, err := sqlitestore.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", path)
		return st, func() {
			if err := st.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite store")
			}
		}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
}

// newProvider returns the configured rewrite provider, or nil when its API
// key is missing so the rewriter runs template-only.
func newProvider(c vc.Config) rewrite.Provider {
	switch c.Provider() {
	case vc.ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return nil
		}
		return openai.NewOpenRouter(c.OpenRouterAPIKey, c.OpenRouterModel, c.OpenRouterBaseURL, c.OpenRouterSiteURL, c.OpenRouterAppName)
	case vc.ProviderClaude:
		if c.ClaudeAPIKey == "" {
			return nil
		}
		return claude.New(claude.Config{APIKey: c.ClaudeAPIKey, Model: c.ClaudeModel, BaseURL: c.ClaudeBaseURL})
	default:
		if c.DeepSeekAPIKey == "" {
			return nil
		}
		return openai.NewDeepSeek(c.DeepSeekAPIKey, c.DeepSeekModel, c.DeepSeekBaseURL)
	}
}

func newPublisher(c vc.Config, L log.Logger) pipeline.Publisher {
	if c.Publisher == vc.PublisherSlack {
		return slack.New(slack.Config{
			BotToken:   c.SlackBotToken,
			Channel:    c.SlackChannel,
			WebhookURL: c.SlackWebhookURL,
		}, L)
	}
	return telegram.New(telegram.Config{
		BotToken:    c.TelegramBotToken,
		Channel:     c.TelegramChannel,
		AlertChatID: c.TelegramAlertChatID,
		APIURL:      c.TelegramAPIURL,
	}, L)
}

// onceExitErr maps a failed -once cycle to the process result. Only an
// unreachable incident source fails the run; other cycle errors are logged
// and retried on the next invocation.
func onceExitErr(err error) error {
	if errors.Is(err, asn.ErrSourceUnavailable) {
		return fmt.Errorf("cycle failed: %w", err)
	}
	return nil
}
