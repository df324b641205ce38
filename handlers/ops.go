package handlers

import (
	"log/slog"
	"net/http"

	"mentorbot/store"
)

// OpsHandler exposes read-only inspection endpoints behind JWT auth.
type OpsHandler struct {
	store  *store.Store
	logger *slog.Logger
}

func NewOpsHandler(s *store.Store, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{store: s, logger: logger.With("component", "ops")}
}

// ListReminders handles GET /api/reminders.
func (h *OpsHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.store.ListReminders()
	if err != nil {
		h.logger.Error("reminder listing failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}
