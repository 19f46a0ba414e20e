package fetchers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcherReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("expected a User-Agent header")
		}
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := &httpFetcher{client: srv.Client()}
	out, err := f.Call(context.Background(), &HTTPOptions{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.(string) != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestHTTPFetcherRetriesThenFails(t *testing.T) {
	prevBackoff := retryBackoff
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = prevBackoff }()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := &httpFetcher{client: srv.Client()}
	_, err := f.Call(context.Background(), &HTTPOptions{URL: srv.URL}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != maxRetries+1 {
		t.Fatalf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestHTTPFetcherAbortsOnContextCancel(t *testing.T) {
	prevBackoff := retryBackoff
	retryBackoff = time.Second
	defer func() { retryBackoff = prevBackoff }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := &httpFetcher{client: srv.Client()}
	_, err := f.Call(ctx, &HTTPOptions{URL: srv.URL}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPOptionsValidate(t *testing.T) {
	if (&HTTPOptions{}).Validate() == nil {
		t.Fatal("expected error for missing url")
	}
	if err := (&HTTPOptions{URL: "http://example.com"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
