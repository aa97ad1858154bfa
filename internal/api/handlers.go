package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/EmpoweredVote/EV-Reforms/internal/importer"
	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

// ReformView is a reform with its tags, sources and citations.
type ReformView struct {
	*reforms.Reform
	ReformTypeIDs []int64                  `json:"reform_type_ids"`
	Sources       []reforms.ReformSource   `json:"sources"`
	Citations     []reforms.ReformCitation `json:"citations"`
}

func RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "Server is up!")
}

func (h *Handler) GetReform(w http.ResponseWriter, r *http.Request) {
	id, ok := reformID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	reform, err := h.store.GetReform(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := ReformView{Reform: reform}
	if view.ReformTypeIDs, err = h.store.ReformTypeIDs(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if view.Sources, err = h.store.ReformSources(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	if view.Citations, err = h.store.ReformCitations(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type ingestResponse struct {
	Run       reforms.DataIngestion `json:"run"`
	ReformIDs []int64               `json:"reform_ids"`
	Failures  []failure             `json:"failures,omitempty"`
}

type failure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Ingest accepts a JSON batch. ?dry_run=true rolls the batch back.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	b, err := importer.ParseJSON(r.Body, r.URL.Query().Get("source"))
	if err != nil {
		http.Error(w, "Invalid batch: "+err.Error(), http.StatusBadRequest)
		return
	}
	dry, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	// A failed batch still has a logged run to report.
	report, err := h.pipeline.Ingest(r.Context(), b, reforms.IngestOptions{DryRun: dry})
	if report == nil {
		writeError(w, r, err)
		return
	}

	resp := ingestResponse{Run: report.Run}
	if report.Result != nil {
		resp.ReformIDs = report.Result.IDs
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, failure{Index: f.Index, Error: f.Err.Error()})
	}
	status := http.StatusOK
	if report.Run.Status == "failed" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

type mergeRequest struct {
	TargetID int64 `json:"target_id"`
}

func (h *Handler) MergeReform(w http.ResponseWriter, r *http.Request) {
	loser, ok := reformID(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetID <= 0 {
		http.Error(w, "Invalid JSON: target_id is required", http.StatusBadRequest)
		return
	}

	merged, err := reforms.Merge(r.Context(), h.store, loser, req.TargetID, reforms.MergeInput{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !merged {
		http.Error(w, "Reform not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merged": true, "reform_id": req.TargetID})
}

func (h *Handler) EditReform(w http.ResponseWriter, r *http.Request) {
	id, ok := reformID(w, r)
	if !ok {
		return
	}
	var edits reforms.UserEdits
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	reform, err := reforms.SaveUserEdits(r.Context(), h.store, id, edits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reform)
}

func (h *Handler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListIngestions(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []reforms.DataIngestion{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func reformID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid reform id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reforms.ErrNotFound):
		http.Error(w, "Reform not found", http.StatusNotFound)
	case errors.Is(err, reforms.ErrInvalidRecord):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, reforms.ErrUnknownReference):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, reforms.ErrIdentityConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
