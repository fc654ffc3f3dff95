// Package statusapi serves read access to incident lifecycle state and the
// dry-run reset operation over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

// Store is the subset of incident.Store the API needs.
type Store interface {
	Get(ctx context.Context, id string) (*incident.Record, bool, error)
	Stats(ctx context.Context) (map[incident.Status]int, error)
	ResetDryRunSkipped(ctx context.Context) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	store  Store
	token  string
}

// New creates the API. An empty token leaves the reset endpoint open.
func New(logger log.Logger, store Store, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	return &API{
		logger: logger,
		store:  store,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/incidents", func(r chi.Router) {
		r.Get("/stats", a.handleStats)
		r.Get("/{id}", a.handleGet)
		r.With(BearerToken(a.token)).Post("/dry-run-reset", a.handleDryRunReset)
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read incident stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	out := map[incident.Status]int{
		incident.StatusDiscovered: 0,
		incident.StatusPublished:  0,
		incident.StatusSkipped:    0,
		incident.StatusFailed:     0,
	}
	for status, n := range counts {
		out[status] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("avwatch.incident.id", id))

	rec, ok, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "incident_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("avwatch.incident.status", string(rec.Status)))
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDryRunReset(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.ResetDryRunSkipped(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "dry-run reset failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.logger.Info(r.Context(), "dry-run skipped incidents reset", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
