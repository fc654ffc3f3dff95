// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/avwatch/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incident records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(postgres.WithOperation(ctx, "Migrate"), schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

const recordColumns = `id, title, date_utc, location, aircraft, source_url, rewrite_text,
	status, skip_reason, first_seen_at, published_at, retry_count, last_error`

// Exists reports whether the incident is handled.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ctx, span := s.start(ctx, "Exists", "SELECT")
	defer span.End()

	var (
		status string
		retry  int
	)
	err := s.pool.QueryRow(ctx, `SELECT status, retry_count FROM incidents WHERE id = $1`, id).Scan(&status, &retry)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("select status: %w", err))
	}
	return incident.Handled(incident.Status(status), retry), nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Record, bool, error) {
	ctx, span := s.start(ctx, "Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// SaveDiscovered inserts the incident unless its ID is already present.
func (s *Store) SaveDiscovered(ctx context.Context, inc *incident.Incident) error {
	ctx, span := s.start(ctx, "SaveDiscovered", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO incidents (id, title, date_utc, location, aircraft, source_url, status, first_seen_at, retry_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		 ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.Title, inc.DateUTC, inc.Location, inc.Aircraft, inc.SourceURL,
		string(incident.StatusDiscovered), s.now().UTC(),
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

// MarkPublished records a successful delivery.
func (s *Store) MarkPublished(ctx context.Context, id, rewriteText string) error {
	ctx, span := s.start(ctx, "MarkPublished", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE incidents
		 SET status = $2, rewrite_text = $3, skip_reason = NULL, published_at = $4, last_error = NULL
		 WHERE id = $1`,
		id, string(incident.StatusPublished), rewriteText, s.now().UTC(),
	)
	if err != nil {
		return fail(span, fmt.Errorf("mark published: %w", err))
	}
	return nil
}

// MarkSkipped records an intentional skip.
func (s *Store) MarkSkipped(ctx context.Context, id string, reason incident.SkipReason) error {
	ctx, span := s.start(ctx, "MarkSkipped", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, skip_reason = $3 WHERE id = $1`,
		id, string(incident.StatusSkipped), string(reason),
	)
	if err != nil {
		return fail(span, fmt.Errorf("mark skipped: %w", err))
	}
	return nil
}

// MarkFailed records the error and increments retry_count in the same statement.
func (s *Store) MarkFailed(ctx context.Context, id, errText string) error {
	ctx, span := s.start(ctx, "MarkFailed", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, last_error = $3, retry_count = retry_count + 1 WHERE id = $1`,
		id, string(incident.StatusFailed), errText,
	)
	if err != nil {
		return fail(span, fmt.Errorf("mark failed: %w", err))
	}
	return nil
}

// ResetDryRunSkipped returns dry-run skipped records to discovered.
func (s *Store) ResetDryRunSkipped(ctx context.Context) (int, error) {
	ctx, span := s.start(ctx, "ResetDryRunSkipped", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents
		 SET status = $1, rewrite_text = NULL, skip_reason = NULL
		 WHERE status = $2 AND skip_reason = $3`,
		string(incident.StatusDiscovered), string(incident.StatusSkipped), string(incident.SkipReasonDryRun),
	)
	if err != nil {
		return 0, fail(span, fmt.Errorf("reset dry-run: %w", err))
	}
	n := int(tag.RowsAffected())
	span.SetAttributes(attribute.Int("db.rows", n))
	return n, nil
}

// Stats returns record counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[incident.Status]int, error) {
	ctx, span := s.start(ctx, "Stats", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query stats: %w", err))
	}
	defer rows.Close()

	out := make(map[incident.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan stats: %w", err))
		}
		out[incident.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate stats: %w", err))
	}
	return out, nil
}

func (s *Store) start(ctx context.Context, op, verb string) (context.Context, trace.Span) {
	ctx = postgres.WithOperation(ctx, op)
	return tracer.Start(ctx, "pgstore."+op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", verb),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// scanRecord scans a single row. Returns (nil, nil) when no row is found.
func scanRecord(row pgx.Row) (*incident.Record, error) {
	var (
		r           incident.Record
		rewriteText *string
		status      string
		skipReason  *string
		lastError   *string
	)

	err := row.Scan(
		&r.ID, &r.Title, &r.DateUTC, &r.Location, &r.Aircraft, &r.SourceURL, &rewriteText,
		&status, &skipReason, &r.FirstSeenAt, &r.PublishedAt, &r.RetryCount, &lastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.Status = incident.Status(status)
	if rewriteText != nil {
		r.RewriteText = *rewriteText
	}
	if skipReason != nil {
		r.SkipReason = incident.SkipReason(*skipReason)
	}
	if lastError != nil {
		r.LastError = *lastError
	}
	r.FirstSeenAt = r.FirstSeenAt.UTC()
	return &r, nil
}
