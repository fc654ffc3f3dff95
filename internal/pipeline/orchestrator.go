package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/postgres"
	"github.com/linnemanlabs/avwatch/internal/validate"
)

var tracer = otel.Tracer("github.com/linnemanlabs/avwatch/internal/pipeline")

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store     incident.Store
	Collector Collector
	Rewriter  Rewriter
	Validator Validator
	Publisher Publisher
}

// Orchestrator runs single collection/publication cycles.
type Orchestrator struct {
	deps   Deps
	opts   Options
	hooks  Hooks
	logger log.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewOrchestrator creates an Orchestrator. Missing collaborators are a
// programming error and panic.
func NewOrchestrator(deps Deps, opts Options, logger log.Logger, hooks Hooks) *Orchestrator {
	switch {
	case deps.Store == nil:
		panic(xerrors.New("incident store is required"))
	case deps.Collector == nil:
		panic(xerrors.New("collector is required"))
	case deps.Rewriter == nil:
		panic(xerrors.New("rewriter is required"))
	case deps.Validator == nil:
		panic(xerrors.New("validator is required"))
	case deps.Publisher == nil:
		panic(xerrors.New("publisher is required"))
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// RunOnce performs one pass over the collector's candidates. It returns an
// error only for cycle-fatal conditions: the listing fetch failing, a store
// read or insert failing, or ctx being cancelled. Per-incident failures are
// recorded in the returned Stats.
func (o *Orchestrator) RunOnce(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	stats.CycleID = ulid.Make().String()

	L := o.logger.With("cycle_id", stats.CycleID)
	ctx = log.WithContext(ctx, L)
	ctx = postgres.NewDBStatsContext(ctx)

	ctx, span := tracer.Start(ctx, "pipeline.RunOnce")
	defer func() {
		span.SetAttributes(
			attribute.String("avwatch.cycle_id", stats.CycleID),
			attribute.Int("avwatch.fetched", stats.Fetched),
			attribute.Int("avwatch.published", stats.Published),
			attribute.Int("avwatch.failed", stats.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		o.hooks.cycle(&stats, time.Since(start), err)
	}()

	raws, err := o.deps.Collector.FetchRecent(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch recent incidents: %w", err)
	}
	stats.Fetched = len(raws)
	L.Info(ctx, "fetched candidate incidents", "count", stats.Fetched)

	for _, raw := range raws {
		if o.opts.MaxPublications > 0 && stats.Published >= o.opts.MaxPublications {
			L.Info(ctx, "publication limit reached for cycle", "limit", o.opts.MaxPublications)
			break
		}
		if err := o.handle(ctx, L, raw, &stats); err != nil {
			return stats, err
		}
	}

	queries, dbTime, dbErrs := 0, time.Duration(0), 0
	if s, ok := postgres.DBStatsFromContext(ctx); ok {
		queries, dbTime, dbErrs = s.Snapshot()
	}
	L.Info(ctx, "cycle complete",
		"summary", stats.Summary(),
		"duration", time.Since(start).Seconds(),
		"db_queries", queries,
		"db_time", dbTime.Seconds(),
		"db_errors", dbErrs,
	)
	return stats, nil
}

// handle runs one candidate through the lifecycle. A non-nil error aborts
// the cycle.
func (o *Orchestrator) handle(ctx context.Context, L log.Logger, raw incident.Raw, stats *Stats) error {
	inc := incident.Normalize(raw)
	IL := L.With("incident_id", inc.ID)

	handled, err := o.deps.Store.Exists(ctx, inc.ID)
	if err != nil {
		return fmt.Errorf("check incident %s: %w", inc.ID, err)
	}
	if handled {
		stats.SkippedDedup++
		o.hooks.incident(OutcomeSkippedDedup)
		return nil
	}

	// cheap pre-filter on the listing date before any detail I/O
	if inc.DateUTC != "" && !incident.IsRecent(inc.DateUTC, o.opts.DateWindowDays, o.now()) {
		IL.Info(ctx, "skip by list date", "date", inc.DateUTC)
		stats.SkippedDate++
		o.hooks.incident(OutcomeSkippedDate)
		return nil
	}

	if err := o.sleep(ctx, o.opts.DetailDelay); err != nil {
		return err
	}
	if inc.SourceURL != "" {
		inc = inc.Merge(o.deps.Collector.FetchDetails(ctx, inc.SourceURL))
	}

	if !incident.IsRecent(inc.DateUTC, o.opts.DateWindowDays, o.now()) {
		IL.Info(ctx, "skip by detail date", "date", inc.DateUTC)
		stats.SkippedDate++
		o.hooks.incident(OutcomeSkippedDate)
		return nil
	}

	stats.New++
	if err := o.deps.Store.SaveDiscovered(ctx, &inc); err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}

	published, err := o.process(ctx, IL, &inc)
	switch {
	case err != nil:
		o.recordFailure(ctx, IL, inc.ID, err, stats)
	case published:
		stats.Published++
		stats.ConsecutiveFailures = 0
		o.hooks.incident(OutcomePublished)
		IL.Info(ctx, "published")
	default:
		stats.SkippedDryRun++
		o.hooks.incident(OutcomeSkippedDryRun)
	}
	return nil
}

// process rewrites, validates and publishes (or dry-run skips) inc. It
// reports whether the incident was published.
func (o *Orchestrator) process(ctx context.Context, L log.Logger, inc *incident.Incident) (bool, error) {
	text, viaAPI := o.deps.Rewriter.Compose(ctx, *inc)
	if viaAPI {
		o.hooks.rewrite("api")
	} else {
		o.hooks.rewrite("fallback")
	}

	mode := validate.Strict
	if !o.deps.Rewriter.APIAvailable() {
		mode = validate.Lenient
	}

	if ok, reason := o.deps.Validator.Validate(text, mode); !ok {
		o.hooks.validationFailure(mode.String())
		L.Warn(ctx, "rewrite validation failed", "reason", reason, "mode", mode.String())
	}

	if o.opts.DryRun {
		L.Info(ctx, "dry run, skip publish")
		if err := o.deps.Store.MarkSkipped(ctx, inc.ID, incident.SkipReasonDryRun); err != nil {
			return false, fmt.Errorf("mark skipped: %w", err)
		}
		return false, nil
	}

	if err := o.deps.Publisher.Publish(ctx, text); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	if err := o.deps.Store.MarkPublished(ctx, inc.ID, text); err != nil {
		return false, fmt.Errorf("mark published: %w", err)
	}
	return true, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, L log.Logger, id string, cause error, stats *Stats) {
	stats.Failed++
	stats.ConsecutiveFailures++
	o.hooks.incident(OutcomeFailed)
	L.Error(ctx, cause, "failed to process incident", "consecutive_failures", stats.ConsecutiveFailures)

	if err := o.deps.Store.MarkFailed(ctx, id, cause.Error()); err != nil {
		L.Error(ctx, err, "failed to record incident failure")
	}

	if stats.ConsecutiveFailures >= AlertThreshold {
		o.hooks.alert("incident")
		o.deps.Publisher.SendAlert(ctx, fmt.Sprintf(
			"⚠️ %d подряд идущих ошибок публикации.\nПоследняя: `%s`",
			stats.ConsecutiveFailures, cause,
		))
	}
}
