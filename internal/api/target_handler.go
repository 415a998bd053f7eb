package api

import (
	"net/http"
	"strings"
)

// GetTarget возвращает итоговую запись заказа.
// GET /api/v1/targets/{order_id}
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	if orderID == "" {
		BadRequest(w, "order_id is required")
		return
	}

	target, err := h.targets.GetTarget(r.Context(), orderID)
	if HandleRepoError(w, h.logger, err, "order not found") {
		return
	}
	Success(w, target)
}
