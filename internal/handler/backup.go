package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartsavvy/internal/backup"
)

type Backups interface {
	Status() backup.Status
	RunOnce(ctx context.Context) (string, error)
}

type BackupHandler struct {
	backups Backups
	logger  *slog.Logger
}

// NewBackupHandler returns a handler; a nil Backups answers every request
// as not configured.
func NewBackupHandler(backups Backups, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{backups: backups, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.backups.Status())
}

// Trigger takes a backup synchronously.
func (h *BackupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	key, err := h.backups.RunOnce(r.Context())
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	case err != nil:
		h.logger.Error("manual backup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	h.logger.Info("manual backup uploaded", "key", key)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "backup uploaded", "data": map[string]string{"key": key}})
}
