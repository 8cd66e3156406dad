package kiteclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/kitelink/schema"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{Addr: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "http://127.0.0.1:46624"},
		{"localhost:9000", "http://localhost:9000"},
		{"http://127.0.0.1:46624/", "http://127.0.0.1:46624"},
	}
	for _, tc := range cases {
		got, err := BaseURL(tc.in)
		if err != nil {
			t.Fatalf("BaseURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("BaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := BaseURL("http://"); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

func TestPostSendsJSON(t *testing.T) {
	var gotPath string
	var got schema.MergedEvent
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusLocked)
		_, _ = io.WriteString(w, "locked")
	}))
	event := schema.NewActivityEvent("atom", schema.ActionEdit, "/a.py", "x", 1)
	resp, err := client.Post(context.Background(), schema.EndpointEvent, event)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusLocked || string(resp.Body) != "locked" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if gotPath != string(schema.EndpointEvent) {
		t.Fatalf("path = %q, want %q", gotPath, schema.EndpointEvent)
	}
	if got.Action != schema.ActionEdit || got.Filename != "/a.py" || got.CursorOffset() != 1 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPostRejectsOversizedPayload(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	event := schema.NewActivityEvent("atom", schema.ActionEdit, "/a.py", strings.Repeat("x", schema.MaxPayloadSize), 0)
	_, err := client.Post(context.Background(), schema.EndpointEvent, event)
	if !errors.Is(err, schema.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if called {
		t.Fatalf("expected oversized payload not to be sent")
	}
}

func TestPostConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	client, err := New(Config{Addr: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Post(context.Background(), schema.EndpointEvent, schema.MergedEvent{}); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestSendErrorResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.py")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(dir, "link.py")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	var got schema.ErrorReport
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != string(schema.EndpointError) {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	if err := client.SendError(context.Background(), link, "boom"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if got.Filename != want || got.Message != "boom" || got.Source != "atom" {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestSendErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	err := client.SendError(context.Background(), "/missing.py", "boom")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}
