package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	publicKey string
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, publicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, publicKey: publicKey, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscriptions. Re-subscribing the same
// endpoint updates it in place.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ac, err := auth.RequireMember(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") || req.P256dh == "" || req.Auth == "" {
		writeError(w, r, h.logger, apperr.Validation("an https endpoint, p256dh, and auth are required"))
		return
	}

	sub, err := h.pushStore.Upsert(r.Context(), ac.FamilyID, ac.ActorID, req.Endpoint, req.P256dh, req.Auth, strings.TrimSpace(req.DeviceName))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles DELETE /api/push/subscriptions.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ac, err := auth.RequireMember(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req unsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, r, h.logger, apperr.Validation("endpoint is required"))
		return
	}

	if err := h.pushStore.DeleteByEndpoint(r.Context(), ac.FamilyID, req.Endpoint); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key.
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}
