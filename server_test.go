package kitelink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pkt.systems/kitelink/internal/appconfig"
	"pkt.systems/kitelink/internal/eventbus"
	"pkt.systems/kitelink/internal/kiteclient"
	"pkt.systems/kitelink/internal/readiness"
	"pkt.systems/kitelink/schema"
)

type fakeDaemon struct {
	mu     sync.Mutex
	status int
	events chan schema.MergedEvent
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *httptest.Server) {
	t.Helper()
	d := &fakeDaemon{status: http.StatusOK, events: make(chan schema.MergedEvent, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != string(schema.EndpointEvent) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var event schema.MergedEvent
		_ = json.NewDecoder(r.Body).Decode(&event)
		d.events <- event
		d.mu.Lock()
		status := d.status
		d.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return d, srv
}

type stubController struct {
	paths chan string
}

func (c *stubController) HandleState(_ context.Context, path string) (schema.State, error) {
	c.paths <- path
	return schema.StateWhitelisted, nil
}

func (c *stubController) Install(context.Context) error { return schema.ErrUnsupported }

func (c *stubController) Launch(context.Context) error { return nil }

func (c *stubController) Authenticate(context.Context, string, string) error { return nil }

func (c *stubController) Whitelist(context.Context, string) error { return nil }

type countingSink struct {
	mu     sync.Mutex
	events []string
}

func (c *countingSink) Track(name string, _ map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, name)
	c.mu.Unlock()
}

func (c *countingSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func newTestServer(t *testing.T, daemonURL string) (*compositeServer, *stubController, *countingSink) {
	t.Helper()
	controller := &stubController{paths: make(chan string, 16)}
	sink := &countingSink{}
	srv, err := New(ServerConfig{
		Source:      "atom",
		Daemon:      kiteclient.Config{Addr: daemonURL},
		Completions: true,
	}, ServerDeps{Controller: controller, Metrics: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv.(*compositeServer), controller, sink
}

func waitForEvent(t *testing.T, events <-chan schema.MergedEvent, match func(schema.MergedEvent) bool) schema.MergedEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if match(event) {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func waitForPath(t *testing.T, paths <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case path := <-paths:
			if path == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for readiness check of %q", want)
		}
	}
}

func stopServer(t *testing.T, srv *compositeServer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestServerFlushesBurstToDaemon(t *testing.T) {
	daemon, daemonSrv := newFakeDaemon(t)
	srv, controller, sink := newTestServer(t, daemonSrv.URL)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)
	waitForPath(t, controller.paths, "")

	flushes, cancel := srv.bus.Subscribe(eventbus.TopicEvents)
	defer cancel()

	err := srv.SubmitBurst(context.Background(), []schema.ActivityEvent{
		schema.NewActivityEvent("atom", schema.ActionEdit, "/src/a.py", "x = 1", 5),
		schema.NewActivityEvent("atom", schema.ActionSelection, "/src/b.py", "y", 1),
	})
	if err != nil {
		t.Fatalf("SubmitBurst: %v", err)
	}
	got := waitForEvent(t, daemon.events, func(e schema.MergedEvent) bool { return e.Filename == "/src/b.py" })
	if got.Action != schema.ActionEdit || got.Text != "y" || got.CursorOffset() != 1 {
		t.Fatalf("merged = %+v, want edit on /src/b.py at 1", got)
	}
	select {
	case ev := <-flushes:
		if ev.Flush.Action == "" {
			t.Fatalf("flush event without action: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no flush on the bus")
	}
	if names := sink.names(); len(names) == 0 || names[0] != "activated" {
		t.Fatalf("metrics = %v, want activated first", names)
	}
}

func TestServerLockedDaemonTriggersReadinessCheck(t *testing.T) {
	daemon, daemonSrv := newFakeDaemon(t)
	daemon.status = http.StatusLocked
	srv, controller, _ := newTestServer(t, daemonSrv.URL)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)

	err := srv.SubmitBurst(context.Background(), []schema.ActivityEvent{
		schema.NewActivityEvent("atom", schema.ActionFocus, "/src/locked.py", "", 0),
	})
	if err != nil {
		t.Fatalf("SubmitBurst: %v", err)
	}
	waitForPath(t, controller.paths, "/src/locked.py")
}

func TestServerStartTwice(t *testing.T) {
	_, daemonSrv := newFakeDaemon(t)
	srv, _, _ := newTestServer(t, daemonSrv.URL)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopServer(t, srv)
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	_, daemonSrv := newFakeDaemon(t)
	srv, _, _ := newTestServer(t, daemonSrv.URL)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected Wait before Start to fail")
	}
	if err := srv.SubmitBurst(context.Background(), nil); err != schema.ErrLoopClosed {
		t.Fatalf("SubmitBurst before Start = %v, want ErrLoopClosed", err)
	}
}

func TestServerConfigChangeTogglesCompletions(t *testing.T) {
	_, daemonSrv := newFakeDaemon(t)
	srv, _, _ := newTestServer(t, daemonSrv.URL)
	cfg := appconfig.Config{}
	cfg.Completions.Enabled = false
	srv.onConfigChange(cfg, nil)
	if srv.completions.Load() {
		t.Fatalf("completions still enabled")
	}
	cfg.Completions.Enabled = true
	srv.onConfigChange(cfg, context.Canceled)
	if srv.completions.Load() {
		t.Fatalf("rejected reload changed completions")
	}
	srv.onConfigChange(cfg, nil)
	if !srv.completions.Load() {
		t.Fatalf("completions not re-enabled")
	}
}

func TestNotifyFanout(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	fan := notifyFanout{notifiers: []readiness.Notifier{a, nil, b}}
	fan.Notify(schema.Notification{ID: "n1"})
	if len(a.ids) != 1 || len(b.ids) != 1 {
		t.Fatalf("fanout = %v %v", a.ids, b.ids)
	}
}

type recordingNotifier struct {
	ids []string
}

func (r *recordingNotifier) Notify(n schema.Notification) {
	r.ids = append(r.ids, n.ID)
}
