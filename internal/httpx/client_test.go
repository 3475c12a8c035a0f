package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/cdp-cli/internal/errors"
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

func TestEditorsRunOnEveryAttemptWithReplayableBody(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":1}` {
			t.Errorf("attempt %d: unexpected body %q", n, body)
		}
		if got := r.Header.Get("X-Attempt-Token"); got == "" {
			t.Errorf("attempt %d: editor header missing", n)
		}
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var edits int32
	client := New(2*time.Second, 2, WithEditors(func(_ context.Context, req *http.Request) error {
		atomic.AddInt32(&edits, 1)
		req.Header.Set("X-Attempt-Token", "t")
		return nil
	}))
	if _, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{"a":1}`), nil, nil); err != nil {
		t.Fatalf("DoBodyJSON failed: %v", err)
	}
	if edits != 2 {
		t.Fatalf("expected editor to run twice, got %d", edits)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		code   clierr.Code
	}{
		{http.StatusUnauthorized, `{"errorType":"unauthorized","errorMessage":"bad jwt","correlationId":"c-1"}`, clierr.CodeAuth},
		{http.StatusBadRequest, `{"errorType":"invalid_request","errorMessage":"taker is invalid"}`, clierr.CodeUsage},
		{http.StatusNotFound, ``, clierr.CodeNotFound},
		{http.StatusConflict, ``, clierr.CodeUnsupported},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		client := New(2*time.Second, 0)
		_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, nil)
		srv.Close()
		if !clierr.Is(err, tc.code) {
			t.Fatalf("status %d: expected code %v, got %v", tc.status, tc.code, err)
		}
		if tc.body != "" && !strings.Contains(err.Error(), "invalid") && !strings.Contains(err.Error(), "bad jwt") {
			t.Fatalf("status %d: platform message not surfaced: %v", tc.status, err)
		}
	}
}

func TestDoJSONEmptyBodyIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var out map[string]any
	_, err := DoBodyJSON(context.Background(), New(time.Second, 0), http.MethodGet, srv.URL, nil, nil, &out)
	if !clierr.Is(err, clierr.CodeMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
