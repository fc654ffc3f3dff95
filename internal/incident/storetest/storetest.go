// Package storetest is a conformance suite shared by the incident.Store
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// Factory returns a store for one subtest. Backends that share state across
// calls (e.g. a real database) are fine: the suite uses unique IDs and only
// asserts lower bounds on global counts.
type Factory func(t *testing.T) incident.Store

// Run exercises the full incident.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("SaveAndGet", func(t *testing.T) { testSaveAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("SaveDiscoveredIsInsertOnly", func(t *testing.T) { testInsertOnly(t, newStore(t)) })
	t.Run("Published", func(t *testing.T) { testPublished(t, newStore(t)) })
	t.Run("RetryBudget", func(t *testing.T) { testRetryBudget(t, newStore(t)) })
	t.Run("PublishAfterFailureClearsError", func(t *testing.T) { testPublishClearsError(t, newStore(t)) })
	t.Run("DryRunReset", func(t *testing.T) { testDryRunReset(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

var seq atomic.Int64

// NewIncident returns an incident with a unique source URL.
func NewIncident(t *testing.T) *incident.Incident {
	t.Helper()
	n := seq.Add(1)
	inc := incident.Normalize(incident.Raw{
		incident.FieldTitle:     "Runway excursion",
		incident.FieldDateUTC:   "1 Mar 2026",
		incident.FieldLocation:  "Oslo",
		incident.FieldAircraft:  "E190",
		incident.FieldSourceURL: fmt.Sprintf("https://aviation-safety.net/wikibase/%d-%d", time.Now().UnixNano(), n),
	})
	return &inc
}

func mustSave(t *testing.T, s incident.Store, inc *incident.Incident) {
	t.Helper()
	if err := s.SaveDiscovered(context.Background(), inc); err != nil {
		t.Fatalf("SaveDiscovered: %v", err)
	}
}

func mustGet(t *testing.T, s incident.Store, id string) *incident.Record {
	t.Helper()
	r, ok, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("Get(%q): not found", id)
	}
	return r
}

func assertExists(t *testing.T, s incident.Store, id string, want bool) {
	t.Helper()
	got, err := s.Exists(context.Background(), id)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if got != want {
		t.Errorf("Exists(%q) = %v, want %v", id, got, want)
	}
}

func testSaveAndGet(t *testing.T, s incident.Store) {
	inc := NewIncident(t)
	assertExists(t, s, inc.ID, false)
	mustSave(t, s, inc)

	r := mustGet(t, s, inc.ID)
	if r.Status != incident.StatusDiscovered {
		t.Errorf("Status = %q, want discovered", r.Status)
	}
	if r.Title != inc.Title || r.SourceURL != inc.SourceURL || r.Aircraft != inc.Aircraft {
		t.Errorf("snapshot mismatch: %+v", r)
	}
	if r.FirstSeenAt.IsZero() {
		t.Error("FirstSeenAt not set")
	}
	if r.RetryCount != 0 || r.PublishedAt != nil {
		t.Errorf("unexpected state on fresh record: %+v", r)
	}
	assertExists(t, s, inc.ID, false)
}

func testGetMissing(t *testing.T, s incident.Store) {
	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing ID")
	}
	assertExists(t, s, "does-not-exist", false)
}

func testInsertOnly(t *testing.T, s incident.Store) {
	ctx := context.Background()
	inc := NewIncident(t)
	mustSave(t, s, inc)
	if err := s.MarkFailed(ctx, inc.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	again := *inc
	again.Title = "Changed title"
	mustSave(t, s, &again)

	r := mustGet(t, s, inc.ID)
	if r.Status != incident.StatusFailed || r.RetryCount != 1 {
		t.Errorf("second save reset state: status=%q retry=%d", r.Status, r.RetryCount)
	}
	if r.Title != inc.Title {
		t.Errorf("second save overwrote title: %q", r.Title)
	}
}

func testPublished(t *testing.T, s incident.Store) {
	ctx := context.Background()
	inc := NewIncident(t)
	mustSave(t, s, inc)
	if err := s.MarkPublished(ctx, inc.ID, "✈️ post"); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}

	r := mustGet(t, s, inc.ID)
	if r.Status != incident.StatusPublished {
		t.Errorf("Status = %q, want published", r.Status)
	}
	if r.RewriteText != "✈️ post" {
		t.Errorf("RewriteText = %q", r.RewriteText)
	}
	if r.PublishedAt == nil {
		t.Error("PublishedAt not set")
	}
	assertExists(t, s, inc.ID, true)
}

func testRetryBudget(t *testing.T, s incident.Store) {
	ctx := context.Background()
	inc := NewIncident(t)
	mustSave(t, s, inc)

	for i := 1; i <= incident.MaxRetryAttempts; i++ {
		assertExists(t, s, inc.ID, false)
		if err := s.MarkFailed(ctx, inc.ID, fmt.Sprintf("attempt %d", i)); err != nil {
			t.Fatalf("MarkFailed %d: %v", i, err)
		}
		r := mustGet(t, s, inc.ID)
		if r.RetryCount != i {
			t.Errorf("RetryCount = %d, want %d", r.RetryCount, i)
		}
		if r.LastError != fmt.Sprintf("attempt %d", i) {
			t.Errorf("LastError = %q", r.LastError)
		}
	}
	assertExists(t, s, inc.ID, true)
}

func testPublishClearsError(t *testing.T, s incident.Store) {
	ctx := context.Background()
	inc := NewIncident(t)
	mustSave(t, s, inc)
	if err := s.MarkFailed(ctx, inc.ID, "timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := s.MarkPublished(ctx, inc.ID, "text"); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	r := mustGet(t, s, inc.ID)
	if r.LastError != "" {
		t.Errorf("LastError = %q, want cleared", r.LastError)
	}
	if r.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", r.RetryCount)
	}
}

func testDryRunReset(t *testing.T, s incident.Store) {
	ctx := context.Background()

	dry1, dry2, manual, failed := NewIncident(t), NewIncident(t), NewIncident(t), NewIncident(t)
	for _, inc := range []*incident.Incident{dry1, dry2, manual, failed} {
		mustSave(t, s, inc)
	}
	// a dry-run skip that previously failed once keeps its retry count
	if err := s.MarkFailed(ctx, dry2.ID, "flaky"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	for _, id := range []string{dry1.ID, dry2.ID} {
		if err := s.MarkSkipped(ctx, id, incident.SkipReasonDryRun); err != nil {
			t.Fatalf("MarkSkipped: %v", err)
		}
	}
	if err := s.MarkSkipped(ctx, manual.ID, incident.SkipReasonManual); err != nil {
		t.Fatalf("MarkSkipped manual: %v", err)
	}
	if err := s.MarkFailed(ctx, failed.ID, "x"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	assertExists(t, s, dry1.ID, true)

	n, err := s.ResetDryRunSkipped(ctx)
	if err != nil {
		t.Fatalf("ResetDryRunSkipped: %v", err)
	}
	if n < 2 {
		t.Errorf("reset %d records, want at least 2", n)
	}

	for _, inc := range []*incident.Incident{dry1, dry2} {
		r := mustGet(t, s, inc.ID)
		if r.Status != incident.StatusDiscovered || r.SkipReason != "" || r.RewriteText != "" {
			t.Errorf("%s not reset: %+v", inc.ID, r)
		}
		assertExists(t, s, inc.ID, false)
	}
	if r := mustGet(t, s, dry2.ID); r.RetryCount != 1 {
		t.Errorf("RetryCount = %d after reset, want 1", r.RetryCount)
	}
	if r := mustGet(t, s, manual.ID); r.Status != incident.StatusSkipped || r.SkipReason != incident.SkipReasonManual {
		t.Errorf("manual skip was reset: %+v", r)
	}
	if r := mustGet(t, s, failed.ID); r.Status != incident.StatusFailed {
		t.Errorf("failed record touched: %+v", r)
	}

	n, err = s.ResetDryRunSkipped(ctx)
	if err != nil {
		t.Fatalf("second ResetDryRunSkipped: %v", err)
	}
	if r := mustGet(t, s, dry1.ID); r.Status != incident.StatusDiscovered {
		t.Errorf("second reset changed state: %+v (n=%d)", r, n)
	}
}

func testStats(t *testing.T, s incident.Store) {
	ctx := context.Background()
	before, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	a, b, c := NewIncident(t), NewIncident(t), NewIncident(t)
	for _, inc := range []*incident.Incident{a, b, c} {
		mustSave(t, s, inc)
	}
	if err := s.MarkPublished(ctx, a.ID, "x"); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	if err := s.MarkFailed(ctx, b.ID, "y"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	after, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for status, delta := range map[incident.Status]int{
		incident.StatusPublished:  1,
		incident.StatusFailed:     1,
		incident.StatusDiscovered: 1,
	} {
		if got := after[status] - before[status]; got < delta {
			t.Errorf("Stats[%s] grew by %d, want at least %d", status, got, delta)
		}
	}
}
