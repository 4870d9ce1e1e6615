package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// staticTokens is a TokenSource handing out canned tokens.
type staticTokens struct {
	token       string
	forced      string
	forceCalls  atomic.Int64
	accessCalls atomic.Int64
}

func (s *staticTokens) AccessToken(context.Context) (string, error) {
	s.accessCalls.Add(1)
	return s.token, nil
}

func (s *staticTokens) ForceReauthenticate(context.Context) (string, error) {
	s.forceCalls.Add(1)
	return s.forced, nil
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			if got := r.Header.Get("Authorization"); got != "Bearer stale" {
				t.Errorf("first call Authorization = %q", got)
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("retry Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "stale", forced: "fresh"}
	client := NewClient(srv.URL, tokens, nil)

	resp, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/ping"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream called %d times, want 2", calls.Load())
	}
	if tokens.forceCalls.Load() != 1 {
		t.Fatalf("ForceReauthenticate called %d times, want 1", tokens.forceCalls.Load())
	}
}

func TestDoGivesUpAfterSecond401(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t", forced: "t2"}, nil)

	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/ping"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("upstream called %d times, want exactly 2", calls.Load())
	}
}

func TestDoWrapsNon2xxAsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"message": "order already confirmed"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"}, nil)

	_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/act"})
	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %T (%v), want *Error", err, err)
	}
	if ue.Status != http.StatusConflict {
		t.Fatalf("Status = %d, want 409", ue.Status)
	}
	if ue.Message != "order already confirmed" {
		t.Fatalf("Message = %q, want normalized message", ue.Message)
	}
}

func TestSendHeaderPrecedence(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer real" {
			t.Errorf("Authorization = %q, caller must not override it", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q, caller value must win", got)
		}
		if got := r.Header.Get("X-Polling-Merchants"); got != "m1" {
			t.Errorf("X-Polling-Merchants = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "real", forced: "real"}, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer spoofed")
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("X-Polling-Merchants", "m1")

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/events:polling",
		Header: header,
		Body:   []byte("a=b"),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestSendDefaultsJSONContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json default", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"}, nil)
	_, err := client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestGetDecodesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "o-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"}, nil)

	var out struct {
		ID string `json:"id"`
	}
	if err := client.Get(context.Background(), "/order/v1.0/orders/o-1", nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.ID != "o-1" {
		t.Fatalf("ID = %q, want o-1", out.ID)
	}
}

func TestErrorMessageNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"error_description", `{"error_description":"bad client"}`, "bad client"},
		{"message", `{"message":"not found"}`, "not found"},
		{"nested error message", `{"error":{"message":"nested"}}`, "nested"},
		{"plain text", `upstream exploded`, "upstream exploded"},
		{"empty body", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage([]byte(tt.body)); got != tt.want {
				t.Fatalf("ErrorMessage(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}
