package httpapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/kitelink/internal/logx"
	"pkt.systems/pslog"
)

const (
	// EditorHeader names the editor plugin making the request.
	EditorHeader = "X-Kite-Editor"
	// RequestIDHeader carries the request id; one is minted when absent.
	RequestIDHeader = "X-Request-Id"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withRequestLogging binds a request logger carrying the request id, remote
// address and editor to the request context, then logs the outcome.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := r.Context()
		editor := strings.TrimSpace(r.Header.Get(EditorHeader))
		logger := logx.WithEditor(ctx, editor).With("request", id, "remote", clientIP(r))
		ctx = logx.ContextWithEditorLogger(ctx, logger, editor)

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(ctx))
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		logRequest(logger, r, status, sw.bytes, time.Since(start))
	})
}

func logRequest(logger pslog.Logger, r *http.Request, status int, bytes int64, elapsed time.Duration) {
	fields := []any{"method", r.Method, "path", r.URL.Path, "status", status, "bytes", bytes, "duration_ms", elapsed.Milliseconds()}
	switch {
	case r.URL.Path == "/healthz":
		logger.Trace("http request", fields...)
	case status >= http.StatusInternalServerError:
		logger.Warn("http request", fields...)
	case status >= http.StatusBadRequest:
		logger.Info("http request", fields...)
	default:
		logger.Debug("http request", fields...)
	}
}

// clientIP returns the peer host. The API binds to loopback, so forwarding
// headers are not trusted.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
