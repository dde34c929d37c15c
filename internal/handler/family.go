package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/choreboard/internal/family"
)

type FamilyHandler struct {
	svc    *family.Service
	logger *slog.Logger
}

func NewFamilyHandler(svc *family.Service, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{svc: svc, logger: logger}
}

func (h *FamilyHandler) List(w http.ResponseWriter, r *http.Request) {
	children, err := h.svc.ListChildren(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req family.ChildInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.svc.CreateChild(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *FamilyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req family.ChildInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.svc.UpdateChild(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *FamilyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveChild(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pinRequest struct {
	PIN string `json:"pin"`
}

func (h *FamilyHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.SetPIN(r.Context(), r.PathValue("id"), req.PIN); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK("pin set"))
}

func (h *FamilyHandler) ClearPIN(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearPIN(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK("pin cleared"))
}

// VerifyPIN exchanges a child's PIN for a token acting as that child.
func (h *FamilyHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.svc.VerifyPIN(r.Context(), r.PathValue("id"), req.PIN)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *FamilyHandler) Family(w http.ResponseWriter, r *http.Request) {
	fam, err := h.svc.Family(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}

type settingsRequest struct {
	NotifyEmail string `json:"notify_email"`
}

func (h *FamilyHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	fam, err := h.svc.SetNotifyEmail(r.Context(), req.NotifyEmail)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fam)
}
