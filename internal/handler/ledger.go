package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/choreboard/internal/ledger"
)

type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewLedgerHandler(l *ledger.Ledger, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bal, err := h.ledger.ChildBalance(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"child_id": id, "balance": bal})
}

// History returns the child's ledger, newest first.
func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ChildHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(entries))
}

type adjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// Adjust records a bonus (positive delta) or penalty (negative delta).
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	e, err := h.ledger.Adjust(r.Context(), r.PathValue("id"), req.Delta, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *LedgerHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	balances, err := h.ledger.Balances(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(balances))
}
