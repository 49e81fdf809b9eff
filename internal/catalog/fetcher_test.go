package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestFetcherBodyLimit verifies that responses exceeding the 50 MB limit
// return an error instead of consuming unbounded memory.
func TestFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		chunk := strings.Repeat("A", 1024*1024)
		for i := 0; i < 52; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return // Client closed connection.
			}
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, testLogger)
	_, err := fetcher.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized response, got nil")
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetcherSuccess(t *testing.T) {
	body := `{"bodies":[{"englishName":"Earth","bodyType":"Planet"}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, testLogger)
	data, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != body {
		t.Errorf("body mismatch: got %q, want %q", data, body)
	}
}

func TestFetcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, testLogger)
	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

func TestFetcherDefaultURL(t *testing.T) {
	fetcher := NewFetcher("", testLogger)
	if !strings.HasPrefix(fetcher.SourceURL(), "https://api.le-systeme-solaire.net/") {
		t.Errorf("SourceURL() = %q, want the default body service", fetcher.SourceURL())
	}
}

// TestFetcherExtraURLs verifies that bodies from extra URLs are appended.
func TestFetcherExtraURLs(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bodies":[{"englishName":"Earth","bodyType":"Planet"}]}`))
	}))
	defer primary.Close()

	extra := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bodies":[{"englishName":"Moon","bodyType":"Moon"}]}`))
	}))
	defer extra.Close()

	fetcher := NewFetcher(primary.URL, testLogger, extra.URL)
	data, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bodies, err := Parse(strings.NewReader(string(data)), testLogger)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 bodies, got %d", len(bodies))
	}
	if bodies[0].Identifier != "earth" || bodies[1].Identifier != "moon" {
		t.Errorf("unexpected bodies: %q, %q", bodies[0].Identifier, bodies[1].Identifier)
	}
}

// TestFetcherExtraURLFailure verifies that a failing extra URL doesn't break the primary fetch.
func TestFetcherExtraURLFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bodies":[{"englishName":"Earth","bodyType":"Planet"}]}`))
	}))
	defer primary.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer garbage.Close()

	fetcher := NewFetcher(primary.URL, testLogger, broken.URL, garbage.URL)
	data, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("primary fetch should succeed despite extra failure: %v", err)
	}

	bodies, err := Parse(strings.NewReader(string(data)), testLogger)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("expected 1 body, got %d", len(bodies))
	}
}
