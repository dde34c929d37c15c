package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/choreboard/internal/chore"
)

type ChoreHandler struct {
	chores *chore.Workflow
	logger *slog.Logger
}

func NewChoreHandler(w *chore.Workflow, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{chores: w, logger: logger}
}

// List handles GET /api/chores. ?archived=true includes archived chores.
func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	chores, err := h.chores.ListChores(r.Context(), queryBool(r, "archived"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(chores))
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req chore.ChoreInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.chores.CreateChore(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req chore.ChoreInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.chores.UpdateChore(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Delete archives the chore. History is kept.
func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := h.chores.ArchiveChore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type assignRequest struct {
	ChildID string `json:"child_id"`
	DueAt   string `json:"due_at"`
}

func (h *ChoreHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	due, err := parseTime("due_at", req.DueAt)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.chores.Assign(r.Context(), r.PathValue("id"), req.ChildID, due)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *ChoreHandler) ChildAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.chores.ChildAssignments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

func (h *ChoreHandler) TodayAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.chores.TodayAssignments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

type submitRequest struct {
	ChildID  string `json:"child_id"`
	PhotoRef string `json:"photo_ref"`
}

// Submit handles POST /api/assignments/{id}/completions. A child token
// submits for itself; a delegated parent submits for the child it acts for.
func (h *ChoreHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	childID, err := actingChild(r, req.ChildID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.chores.SubmitCompletion(r.Context(), r.PathValue("id"), childID, req.PhotoRef)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChoreHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.chores.PendingCompletions(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

func (h *ChoreHandler) ChildCompletions(w http.ResponseWriter, r *http.Request) {
	list, err := h.chores.ChildCompletions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

func (h *ChoreHandler) AssignmentCompletions(w http.ResponseWriter, r *http.Request) {
	list, err := h.chores.AssignmentCompletions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

// Approve returns the stored completion; approving twice is not an error.
func (h *ChoreHandler) Approve(w http.ResponseWriter, r *http.Request) {
	c, err := h.chores.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Reject(w http.ResponseWriter, r *http.Request) {
	c, err := h.chores.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, err := h.chores.DashboardSummary(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
