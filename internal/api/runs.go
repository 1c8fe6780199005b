package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/casefile/internal/soc"
)

func (a *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("casefile.incident.key", key))

	// Body is optional: a bare POST queues a run with defaults.
	var req struct {
		RequestedBy   string `json:"requested_by"`
		AnalystPrompt string `json:"analyst_prompt"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	run, err := a.runs.Create(r.Context(), key, req.RequestedBy, req.AnalystPrompt)
	switch {
	case errors.Is(err, soc.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to create run", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("casefile.run.id", run.ID))
	a.writeJSON(w, http.StatusAccepted, run)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("casefile.incident.key", key),
		attribute.String("casefile.run.id", id),
	)

	run, ok, err := a.runs.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "run_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok || run.IncidentKey != key {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("casefile.run.status", string(run.Status)))
	a.writeJSON(w, http.StatusOK, run)
}
