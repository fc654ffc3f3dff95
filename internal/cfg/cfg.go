package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/avwatch/internal/collector/asn"
	"github.com/linnemanlabs/avwatch/internal/liveness"
	"github.com/linnemanlabs/avwatch/internal/llm/openai"
)

// Publisher backends.
const (
	PublisherTelegram = "telegram"
	PublisherSlack    = "slack"
)

// LLM provider modes. ProviderAuto resolves to openrouter when its key is
// set, else deepseek.
const (
	ProviderAuto       = "auto"
	ProviderDeepSeek   = "deepseek"
	ProviderOpenRouter = "openrouter"
	ProviderClaude     = "claude"
)

// Config adds avwatch-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	DBSlowQueryMillis     int

	Publisher           string
	TelegramBotToken    string
	TelegramChannel     string
	TelegramAlertChatID string
	TelegramAPIURL      string
	SlackBotToken       string
	SlackChannel        string
	SlackWebhookURL     string

	LLMProvider       string
	DeepSeekAPIKey    string
	DeepSeekModel     string
	DeepSeekBaseURL   string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string
	ClaudeAPIKey      string
	ClaudeModel       string
	ClaudeBaseURL     string

	PollIntervalMinutes   int
	UserAgent             string
	DryRun                bool
	FeedURLs              string
	MaxPublications       int
	DateWindowDays        int
	DetailDelayMillis     int
	HealthFile            string
	HealthIntervalSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 5, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "status API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required for mutating status API calls (empty = open)")
	fs.StringVar(&c.DatabaseURL, "database-url", "sqlite:///./data/avwatch.db", "incident store URL: postgres://..., sqlite:///path or empty for in-memory")
	fs.IntVar(&c.DBSlowQueryMillis, "db-slow-query-ms", 200, "log postgres queries slower than this many milliseconds")

	fs.StringVar(&c.Publisher, "publisher", PublisherTelegram, "publisher backend (telegram|slack)")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token")
	fs.StringVar(&c.TelegramChannel, "telegram-channel", "@avia_crash", "Telegram channel that receives posts")
	fs.StringVar(&c.TelegramAlertChatID, "telegram-alert-chat-id", "", "Telegram chat that receives operator alerts (empty = log only)")
	fs.StringVar(&c.TelegramAPIURL, "telegram-api-url", "https://api.telegram.org", "Telegram Bot API root URL")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token for posts")
	fs.StringVar(&c.SlackChannel, "slack-channel", "", "Slack channel ID that receives posts")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook for operator alerts")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderAuto, "rewrite provider (auto|deepseek|openrouter|claude)")
	fs.StringVar(&c.DeepSeekAPIKey, "deepseek-api-key", "", "DeepSeek API key (empty = template rewrite)")
	fs.StringVar(&c.DeepSeekModel, "deepseek-model", openai.DeepSeekModel, "DeepSeek model")
	fs.StringVar(&c.DeepSeekBaseURL, "deepseek-base-url", openai.DeepSeekBaseURL, "DeepSeek API base URL")
	fs.StringVar(&c.OpenRouterAPIKey, "openrouter-api-key", "", "OpenRouter API key")
	fs.StringVar(&c.OpenRouterModel, "openrouter-model", openai.OpenRouterModel, "OpenRouter model")
	fs.StringVar(&c.OpenRouterBaseURL, "openrouter-base-url", openai.OpenRouterBaseURL, "OpenRouter API base URL")
	fs.StringVar(&c.OpenRouterSiteURL, "openrouter-site-url", "https://github.com/linnemanlabs/avwatch", "HTTP-Referer sent to OpenRouter")
	fs.StringVar(&c.OpenRouterAppName, "openrouter-app-name", "avwatch", "X-Title sent to OpenRouter")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "Anthropic API key")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "Anthropic API base URL (empty = default)")

	fs.IntVar(&c.PollIntervalMinutes, "poll-interval-minutes", 10, "minutes between cycles (>=1)")
	fs.StringVar(&c.UserAgent, "user-agent", "avwatch/1.0 (+https://github.com/linnemanlabs/avwatch)", "User-Agent for source requests")
	fs.BoolVar(&c.DryRun, "dry-run", false, "process incidents without publishing")
	fs.StringVar(&c.FeedURLs, "feed-urls", strings.Join(asn.DefaultFeedURLs(time.Now().UTC().Year()), ","), "comma-separated listing URLs tried in order")
	fs.IntVar(&c.MaxPublications, "max-publications-per-cycle", 10, "maximum publications per cycle (>=1)")
	fs.IntVar(&c.DateWindowDays, "date-window-days", 1, "days back from today an incident date may be (>=0)")
	fs.IntVar(&c.DetailDelayMillis, "detail-delay-ms", 1500, "pause before each detail page fetch in milliseconds")
	fs.StringVar(&c.HealthFile, "health-file", liveness.DefaultPath, "heartbeat file touched for container health checks")
	fs.IntVar(&c.HealthIntervalSeconds, "health-interval-seconds", int(liveness.DefaultInterval/time.Second), "seconds between background heartbeat touches")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if !validStoreURL(c.DatabaseURL) {
		errs = append(errs, fmt.Errorf("invalid DATABASE_URL %q (want postgres://, postgresql://, sqlite:/// or empty)", c.DatabaseURL))
	}
	if c.DBSlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >=0)", c.DBSlowQueryMillis))
	}

	switch c.Publisher {
	case PublisherTelegram, PublisherSlack:
	default:
		errs = append(errs, fmt.Errorf("invalid PUBLISHER %q (must be telegram or slack)", c.Publisher))
	}

	switch c.LLMProvider {
	case ProviderAuto, ProviderDeepSeek, ProviderOpenRouter, ProviderClaude:
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be auto, deepseek, openrouter or claude)", c.LLMProvider))
	}

	if c.PollIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_MINUTES %d (must be >=1)", c.PollIntervalMinutes))
	}
	if c.MaxPublications < 1 {
		errs = append(errs, fmt.Errorf("invalid MAX_PUBLICATIONS_PER_CYCLE %d (must be >=1)", c.MaxPublications))
	}
	if c.DateWindowDays < 0 {
		errs = append(errs, fmt.Errorf("invalid DATE_WINDOW_DAYS %d (must be >=0)", c.DateWindowDays))
	}
	if c.DetailDelayMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DETAIL_DELAY_MS %d (must be >=0)", c.DetailDelayMillis))
	}
	if len(c.Feeds()) == 0 {
		errs = append(errs, errors.New("FEED_URLS must list at least one URL"))
	}
	if c.HealthFile == "" {
		errs = append(errs, errors.New("HEALTH_FILE is required"))
	}
	if c.HealthIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("invalid HEALTH_INTERVAL_SECONDS %d (must be >=1)", c.HealthIntervalSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Feeds splits FeedURLs on commas, dropping blanks.
func (c *Config) Feeds() []string {
	var out []string
	for _, part := range strings.Split(c.FeedURLs, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Provider resolves ProviderAuto to a concrete provider name.
func (c *Config) Provider() string {
	if c.LLMProvider != ProviderAuto {
		return c.LLMProvider
	}
	if c.OpenRouterAPIKey != "" {
		return ProviderOpenRouter
	}
	return ProviderDeepSeek
}

// PollInterval is the pause between cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}

// DetailDelay is the pause before each detail fetch.
func (c *Config) DetailDelay() time.Duration {
	return time.Duration(c.DetailDelayMillis) * time.Millisecond
}

// SlowQuery is the postgres slow query log threshold.
func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.DBSlowQueryMillis) * time.Millisecond
}

func validStoreURL(u string) bool {
	if u == "" {
		return true
	}
	for _, prefix := range []string{"postgres://", "postgresql://", "sqlite:///"} {
		if strings.HasPrefix(u, prefix) && len(u) > len(prefix) {
			return true
		}
	}
	return false
}
