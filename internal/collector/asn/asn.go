// Package asn collects incident candidates from the Aviation Safety Network
// listing feeds (RSS or HTML) and scrapes incident detail pages.
package asn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// ErrSourceUnavailable means no configured feed URL returned a 2xx response.
var ErrSourceUnavailable = errors.New("ASN source unavailable")

const (
	// SiteURL prefixes relative incident links.
	SiteURL = "https://aviation-safety.net/"

	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; avwatch/1.0)"
	maxBodyBytes     = 8 << 20
)

// DefaultFeedURLs returns the listing endpoints tried in order, the yearly
// database page depending on year.
func DefaultFeedURLs(year int) []string {
	return []string{
		SiteURL + "rss.xml",
		fmt.Sprintf("%sasndb/year/%d", SiteURL, year),
		SiteURL + "database/",
		SiteURL + "wikibase/dblist.php?Country=",
	}
}

// Config configures a Collector.
type Config struct {
	FeedURLs  []string
	UserAgent string
	Timeout   time.Duration
}

// Collector fetches incident listings and details over HTTP.
type Collector struct {
	feedURLs  []string
	userAgent string
	client    *http.Client
	logger    log.Logger
}

// New creates a Collector.
func New(cfg Config, logger log.Logger) *Collector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Collector{
		feedURLs:  cfg.FeedURLs,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// FetchRecent tries each feed URL in order and returns the rows of the first
// one that parses to at least one incident. If some URL answered but nothing
// parsed, it returns an empty list. If none answered, it returns an error
// wrapping ErrSourceUnavailable.
func (c *Collector) FetchRecent(ctx context.Context) ([]incident.Raw, error) {
	var (
		failures  []string
		reachable bool
	)

	for _, url := range c.feedURLs {
		body, err := c.get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = append(failures, fmt.Sprintf("%s: %v", url, err))
			continue
		}
		reachable = true

		rows := parseListing(body)
		if len(rows) > 0 {
			c.logger.Info(ctx, "collector fetched rows", "count", len(rows), "url", url)
			return rows, nil
		}
		failures = append(failures, url+": parsed 0 incidents")
	}

	if reachable {
		c.logger.Warn(ctx, "ASN source returned no parseable incidents", "details", strings.Join(failures, " | "))
		return []incident.Raw{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, strings.Join(failures, " | "))
}

// FetchDetails scrapes an incident page. Any failure yields an empty Raw.
func (c *Collector) FetchDetails(ctx context.Context, url string) incident.Raw {
	if url == "" {
		return incident.Raw{}
	}
	body, err := c.get(ctx, url)
	if err != nil {
		c.logger.Warn(ctx, "failed to fetch incident details", "url", url, "error", err)
		return incident.Raw{}
	}
	details, err := parseDetail(body)
	if err != nil {
		c.logger.Warn(ctx, "failed to parse incident details", "url", url, "error", err)
		return incident.Raw{}
	}
	return details
}

func (c *Collector) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req) //nolint:gosec // feed URLs come from trusted config
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
