package receivers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go.feedmesh.dev/internal/message"
)

func newTestWebhookReceiver(t *testing.T, opts *WebhookInitOptions) *webhookReceiver {
	t.Helper()
	h, err := newWebhookReceiver(context.Background(), opts)
	if err != nil {
		t.Fatalf("newWebhookReceiver: %v", err)
	}
	return h.(*webhookReceiver)
}

func TestWebhookDeliversMessagesAndSignsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookReceiver(t, &WebhookInitOptions{JWTSecret: "shh"})
	w.client = srv.Client()

	_, err := w.Call(context.Background(), &WebhookCallOptions{URL: srv.URL}, []message.Message{{PostID: "p1"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth == "" || gotAuth[:7] != "Bearer " {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}

	token, err := jwt.Parse(gotAuth[7:], func(*jwt.Token) (any, error) { return []byte("shh"), nil })
	if err != nil || !token.Valid {
		t.Fatalf("expected valid signed token: %v", err)
	}
}

func TestWebhookSkipsEmptyMessages(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	w := newTestWebhookReceiver(t, &WebhookInitOptions{})
	w.client = srv.Client()

	_, err := w.Call(context.Background(), &WebhookCallOptions{URL: srv.URL}, []message.Message{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if called {
		t.Fatal("expected no request for empty message batch")
	}
}

func TestWebhookDoesNotRetry4xxConfigErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newTestWebhookReceiver(t, &WebhookInitOptions{})
	w.client = srv.Client()

	_, err := w.Call(context.Background(), &WebhookCallOptions{URL: srv.URL}, []message.Message{{PostID: "p1"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a 4xx config error, got %d", calls)
	}
}

func TestWebhookRetries5xxThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWebhookReceiver(t, &WebhookInitOptions{})
	w.client = srv.Client()

	start := time.Now()
	_, err := w.Call(context.Background(), &WebhookCallOptions{URL: srv.URL}, []message.Message{{PostID: "p1"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if time.Since(start) < webhookBaseBackoff {
		t.Fatal("expected at least one backoff to elapse")
	}
}

func TestWebhookCallOptionsValidate(t *testing.T) {
	if (&WebhookCallOptions{}).Validate() == nil {
		t.Fatal("expected error for missing url")
	}
}
