package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/choreboard/internal/backup"
)

type backupManager interface {
	RunNow(ctx context.Context) (*backup.Snapshot, error)
	List(ctx context.Context) ([]backup.Snapshot, error)
}

// BackupHandler is mounted behind parent-only middleware.
type BackupHandler struct {
	backups backupManager
	logger  *slog.Logger
}

func NewBackupHandler(m backupManager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{backups: m, logger: logger}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.backups.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(snaps))
}

// Run uploads a snapshot immediately.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backups.RunNow(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}
