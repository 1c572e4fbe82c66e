package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"buoni/internal/services"
	"buoni/internal/session"
	"buoni/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}

	ledger := services.NewLedgerService(repo, nil)
	sessions := session.NewStore(100, time.Hour)
	srv := NewServer(":0", ledger, sessions)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		repo.Close()
	})

	return srv
}

// login posts the form and returns the session cookie.
func login(t *testing.T, srv *Server, familyCode string) *http.Cookie {
	t.Helper()

	form := url.Values{"family_code": {familyCode}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func doJSON(t *testing.T, srv *Server, cookie *http.Cookie, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAPIRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	paths := []string{"/api/urls", "/api/allurls", "/api/total"}
	for _, path := range paths {
		rec := doJSON(t, srv, nil, http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without session = %d, want 401", path, rec.Code)
		}
	}
}

func TestLoginSanitizesFamilyCode(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "  rossi 2024!  ")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rossi2024") {
		t.Errorf("index page does not show sanitized family code")
	}
}

func TestIndexRedirectsWithoutSession(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("index status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("redirect location = %q, want /login", loc)
	}
}

func TestAddListTotal(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	rec := doJSON(t, srv, cookie, http.MethodPost, "/api/add",
		map[string]any{"url": "http://shop.example/a", "amount": "12.50"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/urls", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var vouchers []struct {
		ID     int64   `json:"id"`
		URL    string  `json:"url"`
		Amount float64 `json:"amount"`
		Used   bool    `json:"used"`
	}
	decodeBody(t, rec, &vouchers)
	if len(vouchers) != 1 {
		t.Fatalf("listed %d vouchers, want 1", len(vouchers))
	}
	if vouchers[0].Amount != 12.5 || vouchers[0].URL != "http://shop.example/a" {
		t.Errorf("voucher = %+v", vouchers[0])
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/total", nil)
	var total struct {
		Total float64 `json:"total"`
	}
	decodeBody(t, rec, &total)
	if total.Total != 12.5 {
		t.Errorf("total = %v, want 12.5", total.Total)
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"zero amount", map[string]any{"url": "http://a", "amount": "0"}},
		{"negative amount", map[string]any{"url": "http://a", "amount": "-5"}},
		{"empty url", map[string]any{"url": "", "amount": "10"}},
		{"garbage amount", map[string]any{"url": "http://a", "amount": "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, cookie, http.MethodPost, "/api/add", tt.payload)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	rec := doJSON(t, srv, cookie, http.MethodGet, "/api/urls", nil)
	var vouchers []json.RawMessage
	decodeBody(t, rec, &vouchers)
	if len(vouchers) != 0 {
		t.Errorf("rejected adds left %d vouchers behind", len(vouchers))
	}
}

func TestUseAmountExact(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	doJSON(t, srv, cookie, http.MethodPost, "/api/add", map[string]any{"url": "http://a", "amount": "50"})
	doJSON(t, srv, cookie, http.MethodPost, "/api/add", map[string]any{"url": "http://b", "amount": "20"})

	rec := doJSON(t, srv, cookie, http.MethodPost, "/api/use-amount", map[string]any{"amount": "60"})
	if rec.Code != http.StatusOK {
		t.Fatalf("use-amount status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message         string  `json:"message"`
		RemainingNeeded float64 `json:"remaining_needed"`
		UsedURLs        []struct {
			URL       string  `json:"url"`
			Amount    float64 `json:"amount"`
			Remaining float64 `json:"remaining"`
		} `json:"used_urls"`
	}
	decodeBody(t, rec, &resp)

	if resp.Message != "Successfully used 60.00" {
		t.Errorf("message = %q", resp.Message)
	}
	if len(resp.UsedURLs) != 2 {
		t.Fatalf("used %d vouchers, want 2", len(resp.UsedURLs))
	}
	// largest first: 50 fully, then 10 off the 20
	if resp.UsedURLs[0].URL != "http://a" || resp.UsedURLs[0].Amount != 50 {
		t.Errorf("first consumption = %+v", resp.UsedURLs[0])
	}
	if resp.UsedURLs[1].Amount != 10 || resp.UsedURLs[1].Remaining != 10 {
		t.Errorf("partial consumption = %+v", resp.UsedURLs[1])
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/total", nil)
	var total struct {
		Total float64 `json:"total"`
	}
	decodeBody(t, rec, &total)
	if total.Total != 10 {
		t.Errorf("total after allocation = %v, want 10", total.Total)
	}
}

func TestUseAmountShortfall(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	doJSON(t, srv, cookie, http.MethodPost, "/api/add", map[string]any{"url": "http://a", "amount": "10"})

	rec := doJSON(t, srv, cookie, http.MethodPost, "/api/use-amount", map[string]any{"amount": "25"})
	if rec.Code != http.StatusOK {
		t.Fatalf("shortfall should still be 200, got %d", rec.Code)
	}

	var resp struct {
		Message         string  `json:"message"`
		RemainingNeeded float64 `json:"remaining_needed"`
	}
	decodeBody(t, rec, &resp)
	if resp.RemainingNeeded != 15 {
		t.Errorf("remaining_needed = %v, want 15", resp.RemainingNeeded)
	}
	if resp.Message != "Only 10.00 available. 15.00 still needed." {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestUseAmountRejectsNonPositive(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	for _, amount := range []string{"0", "-3", "abc"} {
		rec := doJSON(t, srv, cookie, http.MethodPost, "/api/use-amount", map[string]any{"amount": amount})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("use-amount %q status = %d, want 400", amount, rec.Code)
		}
	}
}

func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "vouchers.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	fw.Write([]byte("10 http://a\n20,http://b\nnot a line\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("imported %d vouchers, want 2", resp.Count)
	}
}

func TestRemoveKeepsHistory(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	rec := doJSON(t, srv, cookie, http.MethodPost, "/api/add", map[string]any{"url": "http://a", "amount": "10"})
	var added struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &added)

	rec = doJSON(t, srv, cookie, http.MethodPost, "/api/remove", map[string]any{"id": added.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/urls", nil)
	var unused []json.RawMessage
	decodeBody(t, rec, &unused)
	if len(unused) != 0 {
		t.Errorf("removed voucher still spendable")
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/allurls", nil)
	var all []struct {
		Used bool `json:"used"`
	}
	decodeBody(t, rec, &all)
	if len(all) != 1 || !all[0].Used {
		t.Errorf("history = %+v, want one used voucher", all)
	}
}

func TestFamilyIsolation(t *testing.T) {
	srv := newTestServer(t)
	rossi := login(t, srv, "rossi")
	bianchi := login(t, srv, "bianchi")

	doJSON(t, srv, rossi, http.MethodPost, "/api/add", map[string]any{"url": "http://a", "amount": "10"})

	rec := doJSON(t, srv, bianchi, http.MethodGet, "/api/urls", nil)
	var vouchers []json.RawMessage
	decodeBody(t, rec, &vouchers)
	if len(vouchers) != 0 {
		t.Errorf("bianchi sees %d of rossi's vouchers", len(vouchers))
	}
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	cookie := login(t, srv, "rossi")

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("logout status = %d", rec.Code)
	}

	rec = doJSON(t, srv, cookie, http.MethodGet, "/api/urls", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("api after logout = %d, want 401", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}
}
