package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestZeroRetriesMakesSingleAttempt(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3).WithRetries(0)
	err := client.PostJSON(context.Background(), srv.URL, map[string]any{"id": 1}, nil)
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if !clierr.IsCode(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable code, got %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
}

func TestResolverRewritesRequestBase(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	resolver := NewResolver(map[string]string{"https://insight.thirdweb.com": srv.URL + "/thirdweb"})
	client := New(2*time.Second, 0, WithResolver(resolver))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://insight.thirdweb.com/v1/nfts?chain=10", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if gotPath != "/thirdweb/v1/nfts?chain=10" {
		t.Fatalf("unexpected rewritten path %q", gotPath)
	}
}

func TestResolverLeavesUnrelatedURLs(t *testing.T) {
	r := NewResolver(map[string]string{
		"https://insight.thirdweb.com":     "https://proxy.example/thirdweb",
		"https://insight.thirdweb.com/v1/": "https://proxy.example/v1",
	})
	cases := map[string]string{
		"https://insight.thirdweb.com/v1/nfts": "https://proxy.example/v1/nfts",
		"https://insight.thirdweb.com/v2":      "https://proxy.example/thirdweb/v2",
		"https://insight.thirdweb.community/x": "https://insight.thirdweb.community/x",
		"https://api.etherscan.io/v2/api":      "https://api.etherscan.io/v2/api",
	}
	for in, want := range cases {
		if got := r.Resolve(in); got != want {
			t.Fatalf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusErrorClasses(t *testing.T) {
	cases := []struct {
		status int
		code   clierr.Code
		retry  bool
	}{
		{http.StatusTooManyRequests, clierr.CodeRateLimited, true},
		{http.StatusUnauthorized, clierr.CodeAuth, false},
		{http.StatusForbidden, clierr.CodeAuth, false},
		{http.StatusServiceUnavailable, clierr.CodeUnavailable, true},
		{http.StatusNotFound, clierr.CodeUnsupported, false},
	}
	for _, tc := range cases {
		retry, err := statusError(tc.status)
		if !clierr.IsCode(err, tc.code) || retry != tc.retry {
			t.Fatalf("status %d: got err=%v retry=%v", tc.status, err, retry)
		}
	}
	if _, err := statusError(http.StatusOK); err != nil {
		t.Fatalf("200 must not error, got %v", err)
	}
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := client.DoJSON(context.Background(), req, nil); !clierr.IsCode(err, clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}
