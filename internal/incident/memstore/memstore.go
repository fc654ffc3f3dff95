// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// Store holds incident records in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*incident.Record // incident ID -> record
	now     func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]*incident.Record),
		now:     time.Now,
	}
}

// Exists reports whether the incident is handled.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return false, nil
	}
	return r.Handled(), nil
}

// Get retrieves a record by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	return clone(r), true, nil
}

// SaveDiscovered inserts the incident unless its ID is already present.
func (s *Store) SaveDiscovered(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[inc.ID]; ok {
		return nil
	}
	s.records[inc.ID] = incident.NewRecord(inc, s.now())
	return nil
}

// MarkPublished records a successful delivery. Unknown IDs are ignored.
func (s *Store) MarkPublished(_ context.Context, id, rewriteText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	now := s.now().UTC()
	r.Status = incident.StatusPublished
	r.RewriteText = rewriteText
	r.SkipReason = ""
	r.PublishedAt = &now
	r.LastError = ""
	return nil
}

// MarkSkipped records an intentional skip. Unknown IDs are ignored.
func (s *Store) MarkSkipped(_ context.Context, id string, reason incident.SkipReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	r.Status = incident.StatusSkipped
	r.SkipReason = reason
	return nil
}

// MarkFailed records the error and bumps the retry count. Unknown IDs are ignored.
func (s *Store) MarkFailed(_ context.Context, id, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	r.Status = incident.StatusFailed
	r.LastError = errText
	r.RetryCount++
	return nil
}

// ResetDryRunSkipped returns dry-run skipped records to discovered.
func (s *Store) ResetDryRunSkipped(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Status != incident.StatusSkipped || r.SkipReason != incident.SkipReasonDryRun {
			continue
		}
		r.Status = incident.StatusDiscovered
		r.SkipReason = ""
		r.RewriteText = ""
		n++
	}
	return n, nil
}

// Stats returns record counts grouped by status.
func (s *Store) Stats(_ context.Context) (map[incident.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[incident.Status]int)
	for _, r := range s.records {
		out[r.Status]++
	}
	return out, nil
}

func clone(r *incident.Record) *incident.Record {
	cp := *r
	if r.PublishedAt != nil {
		t := *r.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}
