// Package rewrite turns incidents into channel posts, through a language
// model provider when one is configured and a fixed Russian template
// otherwise.
package rewrite

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// ErrPaymentRequired is returned by providers when the API answers HTTP 402.
// It disables the provider for the lifetime of the Rewriter.
var ErrPaymentRequired = errors.New("payment required")

// Provider completes a single system + user prompt exchange.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Rewriter produces post text. It never fails: any provider problem falls
// back to the template. Safe for concurrent use.
type Rewriter struct {
	provider Provider
	logger   log.Logger

	mu             sync.Mutex
	disabledReason string
}

// New creates a Rewriter. A nil provider means template-only output.
func New(provider Provider, logger log.Logger) *Rewriter {
	return &Rewriter{provider: provider, logger: logger}
}

// APIAvailable reports whether Rewrite will try the provider.
func (r *Rewriter) APIAvailable() bool {
	if r.provider == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabledReason == ""
}

// Rewrite returns post text for inc.
func (r *Rewriter) Rewrite(ctx context.Context, inc incident.Incident) string {
	text, _ := r.Compose(ctx, inc)
	return text
}

// Compose is Rewrite that also reports whether the provider wrote the text.
// viaAPI is false whenever the template was used, including after a
// provider error.
func (r *Rewriter) Compose(ctx context.Context, inc incident.Incident) (text string, viaAPI bool) {
	if r.provider == nil {
		return Fallback(inc), false
	}

	r.mu.Lock()
	reason := r.disabledReason
	r.mu.Unlock()
	if reason != "" {
		r.logger.Info(ctx, "rewrite provider disabled for this run, using fallback",
			"provider", r.provider.Name(),
			"reason", reason,
			"incident_id", inc.ID,
		)
		return Fallback(inc), false
	}

	text, err := r.provider.Complete(ctx, SystemPrompt, UserPrompt(inc))
	switch {
	case errors.Is(err, ErrPaymentRequired):
		r.mu.Lock()
		r.disabledReason = r.provider.Name() + "_402_payment_required"
		r.mu.Unlock()
		r.logger.Warn(ctx, "rewrite provider requires payment, disabling until restart",
			"provider", r.provider.Name(),
			"error", err,
		)
		return Fallback(inc), false
	case err != nil:
		r.logger.Warn(ctx, "rewrite provider failed, using fallback",
			"provider", r.provider.Name(),
			"incident_id", inc.ID,
			"error", err,
		)
		return Fallback(inc), false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		r.logger.Warn(ctx, "rewrite provider returned empty text, using fallback",
			"provider", r.provider.Name(),
			"incident_id", inc.ID,
		)
		return Fallback(inc), false
	}
	return text, true
}
