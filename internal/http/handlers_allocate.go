package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"buoni/internal/core"
)

type useAmountRequest struct {
	Amount json.Number `json:"amount"`
}

type consumedJSON struct {
	ID        int64   `json:"id"`
	URL       string  `json:"url"`
	Amount    float64 `json:"amount"`
	Remaining float64 `json:"remaining"`
}

// handleUseAmount consumes vouchers to cover the requested amount, largest
// first. A shortfall is a successful response carrying remaining_needed; only
// a non-positive amount is an error.
func (s *Server) handleUseAmount(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req useAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Amount must be greater than 0")
		return
	}
	amount := core.Money{Cents: cents}

	plan, err := s.ledger.Allocate(r.Context(), family, amount)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "Amount must be greater than 0")
			return
		}
		slog.ErrorContext(r.Context(), "Allocation failed", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Allocation failed")
		return
	}

	consumed := make([]consumedJSON, len(plan.Consumptions))
	for i, c := range plan.Consumptions {
		consumed[i] = consumedJSON{
			ID:        c.VoucherID,
			URL:       c.URL,
			Amount:    c.Amount.Units(),
			Remaining: c.Remaining.Units(),
		}
	}

	slog.InfoContext(r.Context(), "Amount allocated",
		"family", family,
		"amount_cents", amount.Cents,
		"consumed_count", len(consumed),
		"shortfall_cents", plan.Shortfall.Cents)

	if !plan.Satisfied() {
		covered := core.Money{Cents: amount.Cents - plan.Shortfall.Cents}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":          fmt.Sprintf("Only %s available. %s still needed.", covered, plan.Shortfall),
			"used_urls":        consumed,
			"remaining_needed": plan.Shortfall.Units(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Successfully used %s", amount),
		"used_urls": consumed,
	})
}
