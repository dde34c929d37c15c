package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/reward"
)

type RewardHandler struct {
	rewards *reward.Workflow
	logger  *slog.Logger
}

func NewRewardHandler(w *reward.Workflow, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{rewards: w, logger: logger}
}

// List handles GET /api/rewards. ?active=true hides deactivated rewards.
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.rewards.ListRewards(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rewards))
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req reward.RewardInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rw, err := h.rewards.CreateReward(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rw)
}

func (h *RewardHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req reward.RewardInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rw, err := h.rewards.UpdateReward(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

// Delete deactivates the reward. Past redemptions keep their snapshot cost.
func (h *RewardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rw, err := h.rewards.DeactivateReward(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

type redeemRequest struct {
	ChildID string `json:"child_id"`
}

func (h *RewardHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	childID, err := actingChild(r, req.ChildID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	red, err := h.rewards.RequestRedemption(r.Context(), r.PathValue("id"), childID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

func (h *RewardHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.rewards.PendingRedemptions(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

func (h *RewardHandler) ChildRedemptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.rewards.ChildRedemptions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(list))
}

func (h *RewardHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.rewards.ApproveRedemption)
}

func (h *RewardHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.rewards.RejectRedemption)
}

func (h *RewardHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.rewards.FulfillRedemption)
}

func (h *RewardHandler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*model.Redemption, error)) {
	red, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}
