package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Pipeline
	mux.Handle("POST /api/v1/pipeline/trigger", chain(http.HandlerFunc(h.TriggerPipeline)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/logs", chain(http.HandlerFunc(h.ListRunLogs)))

	// Logs
	mux.Handle("GET /api/v1/logs", chain(http.HandlerFunc(h.ListLogs)))

	// Targets
	mux.Handle("GET /api/v1/targets/{order_id}", chain(http.HandlerFunc(h.GetTarget)))
}
