package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
)

// ListRuns возвращает runs, новые первыми.
// GET /api/v1/runs?pipeline=...&status=...&limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	q := RunQuery{
		Pipeline: r.URL.Query().Get("pipeline"),
		Status:   r.URL.Query().Get("status"),
		Limit:    limit,
	}
	if err := validate.Struct(q); err != nil {
		BadRequest(w, err.Error())
		return
	}

	runs, err := h.runs.List(r.Context(), repo.RunFilter{
		PipelineName: q.Pipeline,
		Status:       domain.RunStatus(q.Status),
		Limit:        q.Limit,
	})
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}
	List(w, result, len(result))
}

// GetRun возвращает run вместе с шагами.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	steps, err := h.steps.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	detail := RunDetailResponse{
		RunResponse: RunFromDomain(*run),
		Steps:       make([]StepResponse, len(steps)),
	}
	for i, s := range steps {
		detail.Steps[i] = StepFromDomain(s)
	}
	Success(w, detail)
}

// ListRunLogs возвращает журнал run по времени.
// GET /api/v1/runs/{id}/logs
func (h *Handler) ListRunLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if _, err := h.runs.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	events, err := h.logs.ListByRunID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := logsFromDomain(events)
	List(w, result, len(result))
}
