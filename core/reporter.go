package core

import (
	"context"
	"errors"
	"time"

	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

// DefaultConnectErrorLockout is the minimum interval between two reports of
// the same failure class.
const DefaultConnectErrorLockout = 15 * time.Minute

const (
	metricConnectFailed = "could not connect to event endpoint"
	metricStatusFailed  = "event endpoint returned error status"
)

// FailureReporter forwards transport failures to metrics, at most once per
// lockout window per failure class. It is confined to the scheduler
// goroutine and does no locking.
type FailureReporter struct {
	sink    MetricsSink
	lockout time.Duration
	now     func() time.Time
	last    map[TransportErrorKind]time.Time
	log     pslog.Logger
}

// NewFailureReporter constructs a reporter. A non-positive lockout selects
// DefaultConnectErrorLockout.
func NewFailureReporter(sink MetricsSink, lockout time.Duration, logger pslog.Logger) *FailureReporter {
	if lockout <= 0 {
		lockout = DefaultConnectErrorLockout
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &FailureReporter{
		sink:    sink,
		lockout: lockout,
		now:     time.Now,
		last:    make(map[TransportErrorKind]time.Time),
		log:     logger,
	}
}

// Report records err and returns true when it was forwarded to metrics.
func (r *FailureReporter) Report(err error) bool {
	if r == nil || err == nil {
		return false
	}
	kind := TransportErrorConnect
	var terr *TransportError
	if errors.As(err, &terr) {
		kind = terr.Kind
	}
	name := metricConnectFailed
	switch kind {
	case TransportErrorStatus:
		name = metricStatusFailed
	case TransportErrorPayload:
		r.log.Warn("event payload rejected", "err", err)
		return false
	}
	now := r.now()
	if prev, ok := r.last[kind]; ok && now.Sub(prev) < r.lockout {
		r.log.Debug("event failure suppressed", "class", kind, "err", err, "since_last_s", int64(now.Sub(prev)/time.Second))
		return false
	}
	r.last[kind] = now
	r.log.Warn("event failure reported", "class", kind, "err", err)
	if r.sink != nil {
		props := map[string]any{"error": err.Error()}
		if terr != nil && terr.StatusCode != 0 {
			props["status"] = terr.StatusCode
		}
		r.sink.Track(name, props)
	}
	return true
}

// classifyResult turns a round-trip result into a TransportError, or nil on
// success.
func classifyResult(endpoint schema.Endpoint, result schema.Result) error {
	if result.Err != nil {
		var terr *TransportError
		if errors.As(result.Err, &terr) {
			return terr
		}
		kind := TransportErrorConnect
		if errors.Is(result.Err, schema.ErrPayloadTooLarge) {
			kind = TransportErrorPayload
		}
		return &TransportError{Kind: kind, Endpoint: endpoint, Err: result.Err}
	}
	if !result.OK() {
		return &TransportError{Kind: TransportErrorStatus, Endpoint: endpoint, StatusCode: result.Response.StatusCode}
	}
	return nil
}
