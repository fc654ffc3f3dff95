package incident

import "time"

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusDiscovered means seen and persisted, not yet handled
	StatusDiscovered Status = "discovered"

	// StatusPublished means delivered to the channel
	StatusPublished Status = "published"

	// StatusSkipped means intentionally not published
	StatusSkipped Status = "skipped"

	// StatusFailed means the last attempt failed; retried until the budget is spent
	StatusFailed Status = "failed"
)

// MaxRetryAttempts is the number of failed attempts after which an incident
// is no longer retried.
const MaxRetryAttempts = 3

// SkipReason records why an incident was skipped.
type SkipReason string

const (
	// SkipReasonDryRun marks incidents processed while publishing was disabled.
	// Only these are reverted by a dry-run reset.
	SkipReasonDryRun SkipReason = "dry_run_skip_publish"

	// SkipReasonManual marks incidents excluded by an operator. avwatch never
	// sets it; operators write it directly into the store, and a dry-run
	// reset leaves such rows alone.
	SkipReasonManual SkipReason = "manual_exclude"
)

// Raw is a loosely structured record as produced by a collector.
type Raw map[string]any

// Raw field keys.
const (
	FieldTitle          = "title"
	FieldEventType      = "event_type"
	FieldDateUTC        = "date_utc"
	FieldLocation       = "location"
	FieldAircraft       = "aircraft"
	FieldOperator       = "operator"
	FieldPersonsOnboard = "persons_onboard"
	FieldSummary        = "summary"
	FieldSourceURL      = "source_url"
)

// Incident is the canonical form of a raw record. Unknown fields are "".
type Incident struct {
	ID             string `json:"incident_id"`
	Title          string `json:"title"`
	EventType      string `json:"event_type"`
	DateUTC        string `json:"date_utc"`
	Location       string `json:"location"`
	Aircraft       string `json:"aircraft"`
	Operator       string `json:"operator"`
	PersonsOnboard string `json:"persons_onboard"`
	Summary        string `json:"summary"`
	SourceURL      string `json:"source_url"`
}

// Record is the persisted lifecycle state of one incident.
type Record struct {
	ID          string     `json:"incident_id"`
	Title       string     `json:"title"`
	DateUTC     string     `json:"date_utc"`
	Location    string     `json:"location"`
	Aircraft    string     `json:"aircraft"`
	SourceURL   string     `json:"source_url"`
	RewriteText string     `json:"rewrite_text,omitempty"`
	Status      Status     `json:"status"`
	SkipReason  SkipReason `json:"skip_reason,omitempty"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// Handled reports whether an incident in the given state should no longer be
// processed: published and skipped are terminal, failed becomes terminal once
// the retry budget is spent.
func Handled(status Status, retryCount int) bool {
	switch status {
	case StatusPublished, StatusSkipped:
		return true
	case StatusFailed:
		return retryCount >= MaxRetryAttempts
	default:
		return false
	}
}

// Handled reports whether the record should be skipped by the pipeline.
func (r *Record) Handled() bool {
	return Handled(r.Status, r.RetryCount)
}

// NewRecord builds the discovery snapshot for an incident.
func NewRecord(inc *Incident, now time.Time) *Record {
	return &Record{
		ID:          inc.ID,
		Title:       inc.Title,
		DateUTC:     inc.DateUTC,
		Location:    inc.Location,
		Aircraft:    inc.Aircraft,
		SourceURL:   inc.SourceURL,
		Status:      StatusDiscovered,
		FirstSeenAt: now.UTC(),
	}
}
