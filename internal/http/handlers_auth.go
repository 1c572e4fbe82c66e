package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"buoni/internal/session"
)

// handleIndex renders the ledger page, or bounces to /login without a session.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	family, ok := s.familyFromRequest(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if s.templates == nil {
		http.Error(w, "templates unavailable", http.StatusInternalServerError)
		return
	}
	if err := s.templates.ExecuteTemplate(w, "index.html", map[string]any{
		"Family": family,
	}); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render index", "error", err)
	}
}

// handleLogin shows the login form and opens a session on POST. Unknown family
// codes are auto-registered: the code is the only credential.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.familyFromRequest(r); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.renderLogin(w, r, "")

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			s.renderLogin(w, r, "Invalid request")
			return
		}
		rawCode := strings.TrimSpace(r.Form.Get("family_code"))
		if rawCode == "" {
			s.renderLogin(w, r, "Please enter a family code")
			return
		}

		family, err := s.ledger.Login(r.Context(), rawCode)
		if err != nil {
			slog.WarnContext(r.Context(), "Login rejected", "error", err)
			s.renderLogin(w, r, "Invalid family code. Use only letters, numbers, hyphens, and underscores.")
			return
		}

		id := s.sessions.Create(family)
		setSessionCookie(w, id, s.sessions.TTL())

		slog.InfoContext(r.Context(), "Family logged in", "family", family)
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, errMsg string) {
	if s.templates == nil {
		http.Error(w, "templates unavailable", http.StatusInternalServerError)
		return
	}
	if err := s.templates.ExecuteTemplate(w, "login.html", map[string]any{
		"Error": errMsg,
	}); err != nil {
		slog.ErrorContext(r.Context(), "Failed to render login", "error", err)
	}
}

// handleLogout ends the session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(session.CookieName); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	// A cheap storage round-trip: the registry query touches the database.
	if _, err := s.ledger.TotalUnused(r.Context(), "readyz-probe"); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
