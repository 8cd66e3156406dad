// Package metrics forwards usage events to a Mixpanel-compatible endpoint.
package metrics

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"pkt.systems/kitelink/internal/version"
	"pkt.systems/pslog"
)

const (
	// DefaultEndpoint is the Mixpanel track API.
	DefaultEndpoint = "https://api.mixpanel.com/track"
	// DistinctIDKey is the local config key holding the analytics id.
	DistinctIDKey      = "distinct_id"
	defaultQueueSize   = 256
	defaultPostTimeout = 10 * time.Second
)

// Sink receives analytics events.
type Sink interface {
	Track(name string, props map[string]any)
}

// Nop discards every event.
type Nop struct{}

// Track implements Sink.
func (Nop) Track(string, map[string]any) {}

// Config configures a Tracker.
type Config struct {
	Enabled       bool
	Endpoint      string
	Token         string
	DistinctID    string
	EditorVersion string
	PluginVersion string
	// OS overrides the reported operating system.
	OS         string
	QueueSize  int
	HTTPClient *http.Client
	Logger     pslog.Logger
}

type trackedEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// Tracker posts events from a background worker. Track never blocks.
type Tracker struct {
	enabled  bool
	endpoint string
	token    string
	super    map[string]any
	http     *http.Client
	log      pslog.Logger

	queue     chan trackedEvent
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewTracker constructs a tracker and starts its worker.
func NewTracker(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultPostTimeout}
	}
	osName := cfg.OS
	if osName == "" {
		osName = runtime.GOOS + " " + runtime.GOARCH
	}
	t := &Tracker{
		enabled:  cfg.Enabled,
		endpoint: endpoint,
		token:    cfg.Token,
		super: map[string]any{
			"distinct_id":         cfg.DistinctID,
			"editor_version":      cfg.EditorVersion,
			"kite_plugin_version": cfg.PluginVersion,
			"os":                  osName,
		},
		http:  client,
		log:   logger,
		queue: make(chan trackedEvent, size),
		done:  make(chan struct{}),
	}
	go t.run()
	return t
}

// Track records name with props. Caller properties override the super
// properties. error values are sent as their message.
func (t *Tracker) Track(name string, props map[string]any) {
	if len(props) == 0 {
		t.log.Info("event", "name", name)
	} else {
		t.log.Info("event", "name", name, "props", props)
	}
	if !t.enabled {
		return
	}
	merged := make(map[string]any, len(t.super)+len(props)+1)
	for k, v := range t.super {
		merged[k] = v
	}
	for k, v := range props {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		merged[k] = v
	}
	merged["token"] = t.token

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.log.Trace("metrics event dropped", "name", name, "reason", "closed")
		return
	}
	select {
	case t.queue <- trackedEvent{Event: name, Properties: merged}:
	default:
		t.log.Trace("metrics event dropped", "name", name, "reason", "queue full")
	}
}

// Close stops accepting events and waits for queued ones to be posted.
func (t *Tracker) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
	})
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for ev := range t.queue {
		if err := t.post(ev); err != nil {
			t.log.Debug("metrics post failed", "name", ev.Event, "err", err)
		}
	}
}

func (t *Tracker) post(ev trackedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	form := url.Values{"data": {base64.StdEncoding.EncodeToString(data)}}
	req, err := http.NewRequest(http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("metrics endpoint status %d", resp.StatusCode)
	}
	return nil
}

// Store is the persisted key/value store holding the distinct id.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// DistinctID returns the persisted analytics id, creating one from fallback
// or random bytes on first use.
func DistinctID(store Store, fallback string) (string, error) {
	if store != nil {
		id, ok, err := store.Get(DistinctIDKey)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(id) != "" {
			return id, nil
		}
	}
	id := strings.TrimSpace(fallback)
	if id == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		id = hex.EncodeToString(buf)
	}
	if store != nil {
		if err := store.Set(DistinctIDKey, id); err != nil {
			return "", err
		}
	}
	return id, nil
}
