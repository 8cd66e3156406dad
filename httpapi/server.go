package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/kitelink/internal/editor"
	"pkt.systems/kitelink/internal/eventbus"
	"pkt.systems/kitelink/internal/logx"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

const maxRequestBody = 64 << 20

// EventSubmitter queues one burst of editor events.
type EventSubmitter interface {
	SubmitBurst(ctx context.Context, events []schema.ActivityEvent) error
}

// ErrorSender forwards editor errors to the daemon.
type ErrorSender interface {
	SendError(ctx context.Context, filename, message string) error
}

// Completer fetches completions from the daemon.
type Completer interface {
	Completions(ctx context.Context, req schema.CompletionRequest) ([]schema.Suggestion, error)
}

// Readiness checks the daemon and owns the notifications it raises.
type Readiness interface {
	Ensure(ctx context.Context, path string, force bool) (schema.State, error)
	Active() []schema.Notification
	Click(ctx context.Context, id, button string) error
	Dismiss(id string) error
	LoginPending() bool
	Login(ctx context.Context, email, password string) error
	CancelLogin() error
}

// MetricsSink receives analytics events.
type MetricsSink interface {
	Track(name string, props map[string]any)
}

// EventSource publishes flushed events.
type EventSource interface {
	Subscribe(topic eventbus.Topic) (<-chan eventbus.Event, func())
}

// Deps wires the server to the rest of the plugin.
type Deps struct {
	Events      EventSubmitter
	Errors      ErrorSender
	Completions Completer
	// CompletionsEnabled is consulted per request so the setting can change
	// while serving.
	CompletionsEnabled func() bool
	Readiness          Readiness
	Metrics            MetricsSink
	Hub                *Hub
	Bus                EventSource
	Adapter            editor.Adapter
}

// Server serves the local editor API.
type Server struct {
	cfg     Config
	deps    Deps
	baseCtx context.Context
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewHub(cfg.HistorySize, nil)
	}
	return &Server{cfg: cfg, deps: deps, baseCtx: context.Background()}
}

// SetBaseContext sets the parent context for work that outlives a request,
// such as the flow behind a notification button.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.baseCtx = ctx
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("POST /v1/errors", s.handleError)
	mux.HandleFunc("POST /v1/completions", s.handleCompletions)
	mux.HandleFunc("POST /v1/completions/used", s.handleCompletionUsed)
	mux.HandleFunc("GET /v1/readiness", s.handleReadiness)
	mux.HandleFunc("GET /v1/notifications", s.handleNotifications)
	mux.HandleFunc("GET /v1/notifications/stream", s.handleNotificationStream)
	mux.HandleFunc("POST /v1/notifications/{id}/click", s.handleClick)
	mux.HandleFunc("POST /v1/notifications/{id}/dismiss", s.handleDismiss)
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/login/cancel", s.handleLoginCancel)
	return withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Events []editor.Observation `json:"events"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		log.Warn("http events decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events := make([]schema.ActivityEvent, 0, len(payload.Events))
	for _, obs := range payload.Events {
		event, ok, err := s.deps.Adapter.FromObservation(obs)
		if err != nil {
			log.Warn("http events rejected", "action", obs.Action, "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if ok {
			events = append(events, event)
		}
	}
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.deps.Events.SubmitBurst(r.Context(), events); err != nil {
		log.Warn("http events submit failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	log.Trace("http events submitted", "count", len(events))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Filename string `json:"filename"`
		Message  string `json:"message"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: message is required", schema.ErrInvalidRequest))
		return
	}
	ctx := withFile(r.Context(), payload.Filename)
	if err := s.deps.Errors.SendError(ctx, payload.Filename, payload.Message); err != nil {
		logx.Ctx(ctx).Warn("http error report failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type completionPayload struct {
	Filename string           `json:"filename"`
	Text     string           `json:"text"`
	Cursor   *int             `json:"cursor,omitempty"`
	Position *editor.Position `json:"position,omitempty"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompletionsEnabled != nil && !s.deps.CompletionsEnabled() {
		writeJSON(w, http.StatusForbidden, []schema.Suggestion{})
		return
	}
	var payload completionPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ctx := withFile(r.Context(), payload.Filename)
	log := logx.Ctx(ctx)
	if editor.Oversized(payload.Text) {
		log.Debug("completions skipped", "reason", "buffer too large")
		writeError(w, http.StatusRequestEntityTooLarge, schema.ErrContentTooLarge)
		return
	}
	req := schema.CompletionRequest{Filename: payload.Filename, Text: payload.Text}
	switch {
	case payload.Position != nil:
		req.Cursor = editor.OffsetForPosition(payload.Text, *payload.Position)
	case payload.Cursor != nil:
		if *payload.Cursor < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: negative cursor", schema.ErrInvalidRequest))
			return
		}
		req.Cursor = *payload.Cursor
	}
	suggestions, err := s.deps.Completions.Completions(ctx, req)
	if err != nil {
		log.Warn("completions failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	log.Debug("completions served", "count", len(suggestions))
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleCompletionUsed(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Track("completion used", map[string]any{"text": payload.Text})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	force := parseBool(r.URL.Query().Get("notify"))
	ctx := withFile(r.Context(), path)
	state, err := s.deps.Readiness.Ensure(ctx, path, force)
	if err != nil {
		logx.Ctx(ctx).Warn("readiness check failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Readiness.Active())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload struct {
		Button string `json:"button"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := logx.CopyContextFields(s.baseCtx, r.Context())
	if err := s.deps.Readiness.Click(ctx, id, payload.Button); err != nil {
		logx.Ctx(r.Context()).Warn("notification click failed", "notification", id, "button", payload.Button, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	s.deps.Hub.Closed(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Readiness.Dismiss(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.deps.Hub.Closed(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.deps.Readiness.LoginPending() {
		writeError(w, http.StatusConflict, schema.ErrNoLoginPending)
		return
	}
	if strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: email and password are required", schema.ErrInvalidRequest))
		return
	}
	log = log.With("email", payload.Email)
	if err := s.deps.Readiness.Login(r.Context(), payload.Email, payload.Password); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": payload.Email})
	log.Info("http login ok")
}

func (s *Server) handleLoginCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Readiness.CancelLogin(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe, seq, _ := s.deps.Hub.Subscribe()
	defer unsubscribe()

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	replayCount := 0
	if lastID > 0 && lastID < seq {
		replay := s.deps.Hub.Replay(lastID)
		replayCount = len(replay)
		for _, event := range replay {
			if event.Seq > seq {
				break
			}
			_ = writeSSE(w, event.Seq, event)
		}
	}
	flusher.Flush()

	log.Info("http stream opened", "stream", "notifications", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed", "stream", "notifications")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSE(w, event.Seq, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	if s.deps.Bus == nil {
		writeError(w, http.StatusNotFound, errors.New("event stream unavailable"))
		return
	}
	topic := eventbus.TopicEvents
	switch q := r.URL.Query().Get("topic"); q {
	case "", string(eventbus.TopicEvents):
	case string(eventbus.TopicNotifications):
		topic = eventbus.TopicNotifications
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: unknown topic %q", schema.ErrInvalidRequest, q))
		return
	}
	log := logx.Ctx(r.Context()).With("topic", topic)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := s.deps.Bus.Subscribe(topic)
	defer unsubscribe()
	flusher.Flush()

	log.Info("http stream opened", "stream", "events")
	for {
		select {
		case <-r.Context().Done():
			log.Info("http stream closed", "stream", "events")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Topic == eventbus.TopicNotifications {
				_ = writeSSE(w, 0, event.Notification)
			} else {
				_ = writeSSE(w, 0, event.Flush)
			}
			flusher.Flush()
		}
	}
}

func withFile(ctx context.Context, file string) context.Context {
	if file == "" {
		return ctx
	}
	ctx = pslog.ContextWithLogger(ctx, logx.WithEditorFile(ctx, "", file))
	return logx.ContextWithFile(ctx, file)
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrInvalidAction), errors.Is(err, schema.ErrUnknownButton):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrContentTooLarge), errors.Is(err, schema.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, schema.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrNoLoginPending):
		return http.StatusConflict
	case errors.Is(err, schema.ErrCompletionsDisabled):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrLoopClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSE(w io.Writer, seq uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
