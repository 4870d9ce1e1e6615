package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"merchantbridge/internal/auth"
	"merchantbridge/internal/upstream"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []upstream.Request
	resp  *upstream.Response
}

func (f *fakeClient) Do(_ context.Context, req upstream.Request) (*upstream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.resp != nil {
		return f.resp, nil
	}
	return &upstream.Response{Status: http.StatusOK}, nil
}

func (f *fakeClient) lastCall(t *testing.T) upstream.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no upstream call recorded")
	}
	return f.calls[len(f.calls)-1]
}

type staticCreds struct {
	creds auth.Credentials
}

func (s staticCreds) Load(context.Context) auth.Credentials {
	return s.creds
}

func TestStatusUsesMerchantID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: &upstream.Response{Status: http.StatusOK, Body: []byte(`{"state":"OK"}`), JSON: true}}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1"}})

	raw, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if string(raw) != `{"state":"OK"}` {
		t.Fatalf("raw = %s", raw)
	}
	call := client.lastCall(t)
	if call.Path != "/merchant/v1.0/merchants/m-1/status" {
		t.Fatalf("path = %q", call.Path)
	}
}

func TestStatusWithoutMerchant(t *testing.T) {
	t.Parallel()

	svc := NewService(&fakeClient{}, staticCreds{})
	if _, err := svc.Status(context.Background()); !errors.Is(err, ErrMerchantNotConfigured) {
		t.Fatalf("err = %v, want ErrMerchantNotConfigured", err)
	}
}

func TestReviewsPreferMerchantUUID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1", MerchantUUID: "uuid-1"}})

	if _, err := svc.Reviews(context.Background()); err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if call := client.lastCall(t); call.Path != "/review/v1.0/merchants/uuid-1/reviews" {
		t.Fatalf("path = %q, want uuid-keyed", call.Path)
	}
}

func TestReviewsFallBackToMerchantID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1"}})

	if _, err := svc.Reviews(context.Background()); err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if call := client.lastCall(t); call.Path != "/review/v1.0/merchants/m-1/reviews" {
		t.Fatalf("path = %q, want id fallback", call.Path)
	}
}

func TestAnswerReviewPostsText(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantUUID: "uuid-1"}})

	if err := svc.AnswerReview(context.Background(), "r-1", "thank you"); err != nil {
		t.Fatalf("AnswerReview: %v", err)
	}
	call := client.lastCall(t)
	if call.Method != http.MethodPost || call.Path != "/review/v1.0/merchants/uuid-1/reviews/r-1/answers" {
		t.Fatalf("call = %s %s", call.Method, call.Path)
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(call.Body, &payload); err != nil || payload.Text != "thank you" {
		t.Fatalf("payload = %+v err = %v", payload, err)
	}
}

func TestSetOpeningHoursPutsPayload(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1"}})

	payload := json.RawMessage(`{"shifts":[]}`)
	if err := svc.SetOpeningHours(context.Background(), payload); err != nil {
		t.Fatalf("SetOpeningHours: %v", err)
	}
	call := client.lastCall(t)
	if call.Method != http.MethodPut || call.Path != "/merchant/v1.0/merchants/m-1/opening-hours" {
		t.Fatalf("call = %s %s", call.Method, call.Path)
	}
	if call.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("Content-Type = %q", call.Header.Get("Content-Type"))
	}
}

func TestDeleteInterruption(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1"}})

	if err := svc.DeleteInterruption(context.Background(), "int-1"); err != nil {
		t.Fatalf("DeleteInterruption: %v", err)
	}
	call := client.lastCall(t)
	if call.Method != http.MethodDelete || call.Path != "/merchant/v1.0/merchants/m-1/interruptions/int-1" {
		t.Fatalf("call = %s %s", call.Method, call.Path)
	}
}

func TestNonJSONBodyWrappedAsString(t *testing.T) {
	t.Parallel()

	client := &fakeClient{resp: &upstream.Response{Status: http.StatusOK, Body: []byte("AVAILABLE"), JSON: false}}
	svc := NewService(client, staticCreds{auth.Credentials{MerchantID: "m-1"}})

	raw, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if string(raw) != `"AVAILABLE"` {
		t.Fatalf("raw = %s, want JSON-quoted string", raw)
	}
}
