package metrics

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []trackedEvent
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(r.PostForm.Get("data"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ev trackedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	_, _ = w.Write([]byte("1"))
}

func (c *collector) snapshot() []trackedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]trackedEvent(nil), c.events...)
}

func TestTrackerPostsEvents(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	t.Cleanup(srv.Close)
	tracker := NewTracker(Config{
		Enabled:       true,
		Endpoint:      srv.URL,
		Token:         "tok",
		DistinctID:    "user-1",
		EditorVersion: "1.2.3",
		PluginVersion: "0.1.0",
		OS:            "linux amd64",
	})
	tracker.Track("kite is ready", nil)
	tracker.Track("launch failed", map[string]any{"error": errors.New("boom"), "os": "override"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	events := col.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	first := events[0]
	if first.Event != "kite is ready" {
		t.Fatalf("event = %q", first.Event)
	}
	want := map[string]any{
		"token":               "tok",
		"distinct_id":         "user-1",
		"editor_version":      "1.2.3",
		"kite_plugin_version": "0.1.0",
		"os":                  "linux amd64",
	}
	for k, v := range want {
		if first.Properties[k] != v {
			t.Fatalf("property %s = %v, want %v", k, first.Properties[k], v)
		}
	}
	second := events[1].Properties
	if second["error"] != "boom" {
		t.Fatalf("error property = %v, want boom", second["error"])
	}
	if second["os"] != "override" {
		t.Fatalf("caller property should win, got %v", second["os"])
	}
	if second["distinct_id"] != "user-1" {
		t.Fatalf("super property missing: %v", second)
	}
}

func TestTrackerDisabledDoesNotPost(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	t.Cleanup(srv.Close)
	tracker := NewTracker(Config{Endpoint: srv.URL})
	tracker.Track("activated", nil)
	if err := tracker.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(col.snapshot()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
}

func TestTrackerDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(srv.Close)
	tracker := NewTracker(Config{Enabled: true, Endpoint: srv.URL, QueueSize: 1})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tracker.Track("flood", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Track blocked on a full queue")
	}
	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	tracker.Track("after close", nil)
}

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func TestDistinctID(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	id, err := DistinctID(store, "configured")
	if err != nil {
		t.Fatalf("distinct id: %v", err)
	}
	if id != "configured" || store.values[DistinctIDKey] != "configured" {
		t.Fatalf("id = %q stored = %q, want configured", id, store.values[DistinctIDKey])
	}
	again, err := DistinctID(store, "other")
	if err != nil || again != "configured" {
		t.Fatalf("second id = %q err=%v, want persisted value", again, err)
	}

	fresh := &memStore{values: map[string]string{}}
	random, err := DistinctID(fresh, "")
	if err != nil {
		t.Fatalf("random id: %v", err)
	}
	if len(random) != 64 {
		t.Fatalf("random id length = %d, want 64", len(random))
	}
}
