package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
)

// ListLogs возвращает события журнала, новые первыми.
// GET /api/v1/logs?run_id=...&pipeline=...&level=...&limit=...
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	q := LogQuery{
		Pipeline: r.URL.Query().Get("pipeline"),
		Level:    r.URL.Query().Get("level"),
		Limit:    limit,
	}
	if err := validate.Struct(q); err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.LogFilter{
		PipelineName: q.Pipeline,
		Level:        domain.LogLevel(q.Level),
		Limit:        q.Limit,
	}
	if v := r.URL.Query().Get("run_id"); v != "" {
		runID, err := uuid.Parse(v)
		if err != nil {
			BadRequest(w, "invalid run_id")
			return
		}
		filter.RunID = &runID
	}

	events, err := h.logs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := logsFromDomain(events)
	List(w, result, len(result))
}
