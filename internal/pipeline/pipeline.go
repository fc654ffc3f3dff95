// Package pipeline drives the incident lifecycle: one Orchestrator pass
// collects, deduplicates, enriches, rewrites and publishes incidents, and the
// Runner repeats passes on an interval with cross-cycle failure alerting.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/validate"
)

// AlertThreshold is the consecutive failure count at which alerts are sent,
// both for items within a cycle and for whole cycles.
const AlertThreshold = 3

// DefaultDetailDelay is the pause before every detail page fetch.
const DefaultDetailDelay = 1500 * time.Millisecond

// Collector lists candidate incidents and fetches their detail pages.
type Collector interface {
	// FetchRecent returns candidates in source order. It fails only when the
	// source is entirely unreachable.
	FetchRecent(ctx context.Context) ([]incident.Raw, error)
	// FetchDetails is best-effort and returns an empty map on any failure.
	FetchDetails(ctx context.Context, url string) incident.Raw
}

// Rewriter turns an incident into channel post text. Rewrite never fails;
// APIAvailable is false once the rewriter has fallen back permanently.
type Rewriter interface {
	Compose(ctx context.Context, inc incident.Incident) (text string, viaAPI bool)
	APIAvailable() bool
}

// Validator checks post text. The verdict is advisory.
type Validator interface {
	Validate(text string, mode validate.Mode) (bool, string)
}

// Publisher delivers posts and operator alerts.
type Publisher interface {
	Publish(ctx context.Context, text string) error
	// SendAlert never fails to the caller; delivery errors are logged by
	// the implementation.
	SendAlert(ctx context.Context, text string)
}

// Options are the per-cycle policy knobs.
type Options struct {
	MaxPublications int
	DateWindowDays  int
	DryRun          bool
	DetailDelay     time.Duration
}

// Incident outcomes, used as the metric label.
const (
	OutcomePublished     = "published"
	OutcomeSkippedDedup  = "skipped_dedup"
	OutcomeSkippedDate   = "skipped_date"
	OutcomeSkippedDryRun = "skipped_dry_run"
	OutcomeFailed        = "failed"
)

// Stats summarises one cycle. Not persisted.
type Stats struct {
	CycleID             string
	Fetched             int
	New                 int
	Published           int
	SkippedDedup        int
	SkippedDate         int
	SkippedDryRun       int
	Failed              int
	ConsecutiveFailures int
}

// Summary renders the counters on one line.
func (s *Stats) Summary() string {
	return fmt.Sprintf("fetched=%d new=%d published=%d skipped_dedup=%d skipped_date=%d skipped_dry_run=%d failed=%d",
		s.Fetched, s.New, s.Published, s.SkippedDedup, s.SkippedDate, s.SkippedDryRun, s.Failed)
}

// Hooks are optional callbacks fired as the pipeline makes progress.
type Hooks struct {
	OnCycle             func(stats *Stats, dur time.Duration, err error)
	OnIncident          func(outcome string)
	OnAlert             func(scope string)
	OnRewrite           func(mode string)
	OnValidationFailure func(mode string)
}

func (h *Hooks) cycle(stats *Stats, dur time.Duration, err error) {
	if h.OnCycle != nil {
		h.OnCycle(stats, dur, err)
	}
}

func (h *Hooks) incident(outcome string) {
	if h.OnIncident != nil {
		h.OnIncident(outcome)
	}
}

func (h *Hooks) alert(scope string) {
	if h.OnAlert != nil {
		h.OnAlert(scope)
	}
}

func (h *Hooks) rewrite(mode string) {
	if h.OnRewrite != nil {
		h.OnRewrite(mode)
	}
}

func (h *Hooks) validationFailure(mode string) {
	if h.OnValidationFailure != nil {
		h.OnValidationFailure(mode)
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
