package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"buoni/internal/core"
	"buoni/internal/session"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// voucherJSON is the wire shape of a voucher in API responses.
type voucherJSON struct {
	ID        int64   `json:"id"`
	URL       string  `json:"url"`
	Amount    float64 `json:"amount"`
	Used      bool    `json:"used"`
	CreatedAt string  `json:"created_at"`
}

func toVoucherJSON(vs []core.Voucher) []voucherJSON {
	out := make([]voucherJSON, len(vs))
	for i, v := range vs {
		out[i] = voucherJSON{
			ID:        v.ID,
			URL:       v.URL,
			Amount:    v.Amount.Units(),
			Used:      v.Used,
			CreatedAt: v.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// familyFromRequest resolves the session cookie to a family code.
func (s *Server) familyFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return "", false
	}
	return s.sessions.Lookup(cookie.Value)
}

// requireFamily rejects requests without a live session and passes the family
// code to the wrapped handler.
func (s *Server) requireFamily(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := s.familyFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r, family)
	}
}

func setSessionCookie(w http.ResponseWriter, id string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIPFromRequest extracts the client IP, honoring proxy headers.
func clientIPFromRequest(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
