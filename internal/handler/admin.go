package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/smartsavvy/internal/model"
	"github.com/dukerupert/smartsavvy/internal/store"
)

const maxLogLimit = 500

type AdminHandler struct {
	appLogs *store.AppLogStore
	logger  *slog.Logger
}

func NewAdminHandler(appLogs *store.AppLogStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{appLogs: appLogs, logger: logger}
}

// ListLogs returns the newest app_logs rows.
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.appLogs.List(limit)
	if err != nil {
		h.logger.Error("list app logs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if logs == nil {
		logs = []model.AppLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}
