// Package sqlitestore provides a SQLite implementation of incident.Store
// built on gorm, for single-node deployments without PostgreSQL.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// URLPrefix marks a SQLite database URL, e.g. sqlite:///data/avwatch.db.
const URLPrefix = "sqlite:///"

// row is the gorm model for the incidents table.
type row struct {
	ID          string     `gorm:"primaryKey"`
	Title       string     `gorm:"not null;default:''"`
	DateUTC     string     `gorm:"column:date_utc;not null;default:''"`
	Location    string     `gorm:"not null;default:''"`
	Aircraft    string     `gorm:"not null;default:''"`
	SourceURL   string     `gorm:"column:source_url;not null;default:''"`
	RewriteText *string    `gorm:"column:rewrite_text"`
	Status      string     `gorm:"not null;default:'discovered';index"`
	SkipReason  *string    `gorm:"column:skip_reason"`
	FirstSeenAt time.Time  `gorm:"column:first_seen_at;not null"`
	PublishedAt *time.Time `gorm:"column:published_at"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0"`
	LastError   *string    `gorm:"column:last_error"`
}

func (row) TableName() string { return "incidents" }

// Store persists incident records in a SQLite file.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// PathFromURL extracts the file path from a sqlite:/// URL.
func PathFromURL(databaseURL string) (string, bool) {
	if !strings.HasPrefix(databaseURL, URLPrefix) {
		return "", false
	}
	path := strings.TrimPrefix(databaseURL, URLPrefix)
	return path, path != ""
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer at a time; the pipeline is sequential anyway
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&row{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Exists reports whether the incident is handled.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var r row
	err := s.db.WithContext(ctx).Select("status", "retry_count").Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select status: %w", err)
	}
	return incident.Handled(incident.Status(r.Status), r.RetryCount), nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*incident.Record, bool, error) {
	var r row
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select incident: %w", err)
	}
	return r.record(), true, nil
}

// SaveDiscovered inserts the incident unless its ID is already present.
func (s *Store) SaveDiscovered(ctx context.Context, inc *incident.Incident) error {
	r := row{
		ID:          inc.ID,
		Title:       inc.Title,
		DateUTC:     inc.DateUTC,
		Location:    inc.Location,
		Aircraft:    inc.Aircraft,
		SourceURL:   inc.SourceURL,
		Status:      string(incident.StatusDiscovered),
		FirstSeenAt: s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// MarkPublished records a successful delivery.
func (s *Store) MarkPublished(ctx context.Context, id, rewriteText string) error {
	return s.update(ctx, "mark published", id, map[string]any{
		"status":       string(incident.StatusPublished),
		"rewrite_text": rewriteText,
		"skip_reason":  nil,
		"published_at": s.now().UTC(),
		"last_error":   nil,
	})
}

// MarkSkipped records an intentional skip.
func (s *Store) MarkSkipped(ctx context.Context, id string, reason incident.SkipReason) error {
	return s.update(ctx, "mark skipped", id, map[string]any{
		"status":      string(incident.StatusSkipped),
		"skip_reason": string(reason),
	})
}

// MarkFailed records the error and increments retry_count in the same statement.
func (s *Store) MarkFailed(ctx context.Context, id, errText string) error {
	return s.update(ctx, "mark failed", id, map[string]any{
		"status":      string(incident.StatusFailed),
		"last_error":  errText,
		"retry_count": gorm.Expr("retry_count + 1"),
	})
}

// ResetDryRunSkipped returns dry-run skipped records to discovered.
func (s *Store) ResetDryRunSkipped(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&row{}).
		Where("status = ? AND skip_reason = ?", string(incident.StatusSkipped), string(incident.SkipReasonDryRun)).
		Updates(map[string]any{
			"status":       string(incident.StatusDiscovered),
			"rewrite_text": nil,
			"skip_reason":  nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reset dry-run: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Stats returns record counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[incident.Status]int, error) {
	var groups []struct {
		Status string
		N      int
	}
	err := s.db.WithContext(ctx).Model(&row{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	out := make(map[incident.Status]int, len(groups))
	for _, g := range groups {
		out[incident.Status(g.Status)] = g.N
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, what, id string, fields map[string]any) error {
	err := s.db.WithContext(ctx).Model(&row{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (r *row) record() *incident.Record {
	out := &incident.Record{
		ID:          r.ID,
		Title:       r.Title,
		DateUTC:     r.DateUTC,
		Location:    r.Location,
		Aircraft:    r.Aircraft,
		SourceURL:   r.SourceURL,
		Status:      incident.Status(r.Status),
		FirstSeenAt: r.FirstSeenAt.UTC(),
		PublishedAt: r.PublishedAt,
		RetryCount:  r.RetryCount,
	}
	if r.RewriteText != nil {
		out.RewriteText = *r.RewriteText
	}
	if r.SkipReason != nil {
		out.SkipReason = incident.SkipReason(*r.SkipReason)
	}
	if r.LastError != nil {
		out.LastError = *r.LastError
	}
	return out
}
