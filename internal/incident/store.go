package incident

import "context"

// Store is the persistence interface for incident lifecycle state.
//
// Every mutating call is a single statement or a single transaction.
type Store interface {
	// Exists reports whether the incident was already handled (see Handled).
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*Record, bool, error)
	// SaveDiscovered inserts a discovered record; a no-op when the ID exists.
	SaveDiscovered(ctx context.Context, inc *Incident) error
	MarkPublished(ctx context.Context, id, rewriteText string) error
	MarkSkipped(ctx context.Context, id string, reason SkipReason) error
	// MarkFailed records the error and atomically increments the retry count.
	MarkFailed(ctx context.Context, id, errText string) error
	// ResetDryRunSkipped returns dry-run skipped records to discovered and
	// reports how many were reset.
	ResetDryRunSkipped(ctx context.Context) (int, error)
	Stats(ctx context.Context) (map[Status]int, error)
}
