package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newRelay(t *testing.T, upstream http.HandlerFunc) (*echo.Echo, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	e := echo.New()
	NewHandler(srv.URL, "/authentication/v1.0", nil).RegisterRoutes(e)
	return e, srv
}

func TestUpstreamURLRewrite(t *testing.T) {
	t.Parallel()

	h := NewHandler("https://merchant-api.example", "/authentication/v1.0", nil)

	tests := []struct {
		path string
		want string
	}{
		{"/api/oauth/token", "https://merchant-api.example/authentication/v1.0/oauth/token"},
		{"/api/oauth/userCode", "https://merchant-api.example/authentication/v1.0/oauth/userCode"},
		{"/api/events:polling", "https://merchant-api.example/events:polling"},
		{"/api/order/v1.0/orders/o-1", "https://merchant-api.example/order/v1.0/orders/o-1"},
		{"/api", "https://merchant-api.example/"},
	}
	for _, tt := range tests {
		if got := h.upstreamURL(tt.path); got != tt.want {
			t.Fatalf("upstreamURL(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRelayForwardsAllowListedHeadersOnly(t *testing.T) {
	t.Parallel()

	e, _ := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Polling-Merchants"); got != "m1" {
			t.Errorf("X-Polling-Merchants = %q", got)
		}
		if got := r.Header.Get("user-code"); got != "ABCD" {
			t.Errorf("user-code = %q", got)
		}
		if got := r.Header.Get("X-Internal-Secret"); got != "" {
			t.Errorf("X-Internal-Secret leaked: %q", got)
		}
		if got := r.Header.Get("Cookie"); got != "" {
			t.Errorf("Cookie leaked: %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/events:polling", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("X-Polling-Merchants", "m1")
	req.Header.Set("user-code", "ABCD")
	req.Header.Set("X-Internal-Secret", "do-not-forward")
	req.Header.Set("Cookie", "session=abc")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRelayCORSPreflight(t *testing.T) {
	t.Parallel()

	e, _ := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the upstream")
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/oauth/token", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "user-code") {
		t.Fatalf("Access-Control-Allow-Headers = %q, want user-code listed", got)
	}
}

func TestRelayPassesStatusAndBodyThrough(t *testing.T) {
	t.Parallel()

	e, _ := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "grant_type=client_credentials" {
			t.Errorf("body = %q", body)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, want form default", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"error_description":"nope"}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/oauth/token", strings.NewReader("grant_type=client_credentials"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want passthrough 418", rec.Code)
	}
	if got := rec.Body.String(); got != `{"error_description":"nope"}` {
		t.Fatalf("body = %q, want passthrough", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("relayed response missing CORS header")
	}
}

func TestRelayQueryStringForwarded(t *testing.T) {
	t.Parallel()

	e, _ := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.RawQuery; got != "page=2&size=10" {
			t.Errorf("query = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/review/v1.0/merchants/m1/reviews?page=2&size=10", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRelayUnreachableUpstream(t *testing.T) {
	t.Parallel()

	e := echo.New()
	// A closed port: the relay must answer 502, not hang or crash.
	NewHandler("http://127.0.0.1:1", "/authentication/v1.0", nil).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/api/merchant/v1.0/merchants/m1/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
