package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/retracehq/retrace/internal/explain"
	"github.com/retracehq/retrace/internal/integrity"
	"github.com/retracehq/retrace/internal/model"
	"github.com/retracehq/retrace/internal/storage"
)

// HandleIngestDecision handles POST /v1/decisions. The operation is an
// upsert: re-submitting a decision_id replaces the record's mutable
// fields, so SDK retries are safe.
func (h *Handlers) HandleIngestDecision(w http.ResponseWriter, r *http.Request) {
	var rec model.DecisionRecord
	if err := decodeJSON(w, r, &rec, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := rec.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// Backfill fingerprints for evidence ingested without one, so stored
	// records are uniformly hashable regardless of the producing SDK.
	for i := range rec.Evidence {
		ev := &rec.Evidence[i]
		if ev.SnapshotHash == "" && ev.Snapshot != nil {
			ev.SnapshotHash = integrity.SnapshotHash(ev.Snapshot)
		}
	}

	var created bool
	err := storage.WithRetry(r.Context(), 3, 50*time.Millisecond, func() error {
		var err error
		created, err = h.db.UpsertDecisionRecord(r.Context(), rec)
		return err
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to store decision record", err)
		return
	}

	status := "updated"
	httpStatus := http.StatusOK
	if created {
		status = "created"
		httpStatus = http.StatusCreated
	}

	h.logger.Info("decision record ingested",
		"decision_id", rec.DecisionID,
		"run_id", rec.RunID,
		"outcome", rec.Outcome,
		"status", status,
	)

	writeJSON(w, httpStatus, model.IngestResponse{
		DecisionID: rec.DecisionID,
		Status:     status,
	})
}

// HandleGetDecision handles GET /v1/decisions/{decision_id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("decision_id")
	if decisionID == "" {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "decision_id is required")
		return
	}

	rec, err := h.db.GetDecisionRecord(r.Context(), decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found: "+decisionID)
			return
		}
		h.writeInternalError(w, r, "failed to get decision record", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// HandleExplainDecision handles GET /v1/decisions/{decision_id}/explain.
// The explanation is derived from the stored record on every request
// rather than cached, so it always reflects the latest upsert.
func (h *Handlers) HandleExplainDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("decision_id")
	if decisionID == "" {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "decision_id is required")
		return
	}

	rec, err := h.db.GetDecisionRecord(r.Context(), decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found: "+decisionID)
			return
		}
		h.writeInternalError(w, r, "failed to get decision record", err)
		return
	}

	writeJSON(w, http.StatusOK, explain.Explain(rec))
}

// HandleListDecisions handles GET /v1/decisions.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	filter := storage.ListFilter{
		RunID:  r.URL.Query().Get("run_id"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	if o := r.URL.Query().Get("outcome"); o != "" {
		outcome := model.Outcome(o)
		if !outcome.Valid() {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "invalid outcome: "+o)
			return
		}
		filter.Outcome = outcome
	}

	records, err := h.db.ListDecisionRecords(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, "failed to list decision records", err)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > storage.MaxListLimit {
		limit = storage.MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	writeJSON(w, http.StatusOK, model.ListDecisionsResponse{
		Decisions: records,
		Limit:     limit,
		Offset:    offset,
	})
}

// HandleSearchPrecedents handles POST /v1/precedents/search.
func (h *Handlers) HandleSearchPrecedents(w http.ResponseWriter, r *http.Request) {
	var req model.PrecedentSearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Outcome != nil && !req.Outcome.Valid() {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput,
			"invalid outcome: "+string(*req.Outcome))
		return
	}

	records, err := h.db.SearchPrecedents(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "failed to search precedents", err)
		return
	}

	writeJSON(w, http.StatusOK, model.PrecedentSearchResponse{Precedents: records})
}
