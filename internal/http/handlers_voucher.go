package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"buoni/internal/core"
	"buoni/internal/storage"
)

// maxUploadBytes caps bulk-upload files; voucher lists are tiny text files.
const maxUploadBytes = 1 << 20 // 1MB

// handleListUnused returns the family's spendable vouchers, largest first.
func (s *Server) handleListUnused(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	vouchers, err := s.ledger.ListUnused(r.Context(), family)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list unused vouchers", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load vouchers")
		return
	}
	writeJSON(w, http.StatusOK, toVoucherJSON(vouchers))
}

// handleListAll returns the full history, newest first, used vouchers included.
func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	vouchers, err := s.ledger.ListAll(r.Context(), family, storage.OrderByCreated)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list vouchers", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load vouchers")
		return
	}
	writeJSON(w, http.StatusOK, toVoucherJSON(vouchers))
}

// handleTotal returns the family's available balance.
func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	total, err := s.ledger.TotalUnused(r.Context(), family)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute total", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute total")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total.Units()})
}

type addRequest struct {
	URL    string      `json:"url"`
	Amount json.Number `json:"amount"`
}

// handleAddVoucher manually adds one voucher.
func (s *Server) handleAddVoucher(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Valid URL and amount required")
		return
	}

	v, err := s.ledger.AddVoucher(r.Context(), family, strings.TrimSpace(req.URL), core.Money{Cents: cents})
	if err != nil {
		if errors.Is(err, core.ErrEmptyURL) || errors.Is(err, core.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "Valid URL and amount required")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to add voucher", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to add voucher")
		return
	}

	slog.InfoContext(r.Context(), "Voucher added",
		"family", family, "voucher_id", v.ID, "amount_cents", v.Amount.Cents)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "URL added successfully",
		"id":      v.ID,
	})
}

// handleUpload parses an uploaded text file of "<amount> <url>" lines and adds
// every well-formed entry. Malformed lines are skipped, not errors.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	count, err := s.ledger.BulkAdd(r.Context(), family, string(content))
	if err != nil {
		slog.ErrorContext(r.Context(), "Bulk add failed", "family", family, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to import vouchers")
		return
	}

	slog.InfoContext(r.Context(), "Vouchers uploaded",
		"family", family, "added_count", count, "filename", header.Filename)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully added %d URLs", count),
		"count":   count,
	})
}

type removeRequest struct {
	ID int64 `json:"id"`
}

// handleRemove soft-removes a voucher: it flips to used and drops out of the
// spendable list but stays in history.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request, family string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, http.StatusBadRequest, "ID required")
		return
	}

	if err := s.ledger.Remove(r.Context(), family, req.ID); err != nil {
		slog.ErrorContext(r.Context(), "Failed to remove voucher", "family", family, "voucher_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to remove voucher")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "URL removed successfully"})
}
