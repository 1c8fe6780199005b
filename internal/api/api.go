// Package api exposes the analyst-facing HTTP surface: alert and
// incident reads, status and note writes, and enrichment run control.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/casefile/internal/enrich"
	"github.com/linnemanlabs/casefile/internal/soc"
)

// IncidentService defines the incident write operations the API needs.
type IncidentService interface {
	SetStatus(ctx context.Context, key, status string) error
	AddNote(ctx context.Context, key, author, note string) error
}

// RunService defines the enrichment run operations the API needs.
type RunService interface {
	Create(ctx context.Context, key, requestedBy, analystPrompt string) (*soc.EnrichmentRun, error)
	Get(ctx context.Context, id string) (*soc.EnrichmentRun, bool, error)
	ForIncident(ctx context.Context, key string) ([]soc.EnrichmentRun, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	store     soc.Store
	incidents IncidentService
	runs      RunService
	paths     enrich.Paths
}

// New creates a new API handler.
func New(logger log.Logger, store soc.Store, incidents IncidentService, runs RunService, paths enrich.Paths) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		panic(xerrors.New("store is required"))
	}
	if incidents == nil {
		panic(xerrors.New("incident service is required"))
	}
	if runs == nil {
		panic(xerrors.New("run service is required"))
	}
	return &API{
		logger:    logger,
		store:     store,
		incidents: incidents,
		runs:      runs,
		paths:     paths,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{key}", a.handleGetIncident)
		r.Post("/incidents/{key}/status", a.handleSetStatus)
		r.Post("/incidents/{key}/notes", a.handleAddNote)
		r.Post("/incidents/{key}/runs", a.handleCreateRun)
		r.Get("/incidents/{key}/runs/{id}", a.handleGetRun)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.store.Alerts(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []soc.Alert{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
