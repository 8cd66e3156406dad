package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"pkt.systems/kitelink/schema"
)

func newClockedReporter(sink MetricsSink, lockout time.Duration) (*FailureReporter, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewFailureReporter(sink, lockout, nil)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestReporterLockout(t *testing.T) {
	sink := &recordingSink{}
	r, now := newClockedReporter(sink, 900*time.Second)
	connErr := errors.New("dial tcp 127.0.0.1:46624: connect: connection refused")

	if !r.Report(connErr) {
		t.Fatalf("expected first report to be sent")
	}
	*now = now.Add(100 * time.Second)
	if r.Report(connErr) {
		t.Fatalf("expected report within lockout to be suppressed")
	}
	*now = now.Add(800 * time.Second)
	if !r.Report(connErr) {
		t.Fatalf("expected report after lockout to be sent")
	}
	if len(sink.names) != 2 {
		t.Fatalf("reports = %d, want 2", len(sink.names))
	}
}

func TestReporterClassesAreIndependent(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newClockedReporter(sink, time.Hour)
	if !r.Report(errors.New("refused")) {
		t.Fatalf("expected connect report")
	}
	statusErr := &TransportError{Kind: TransportErrorStatus, Endpoint: schema.EndpointEvent, StatusCode: 500}
	if !r.Report(statusErr) {
		t.Fatalf("expected status report despite connect lockout")
	}
	if r.Report(statusErr) {
		t.Fatalf("expected second status report to be suppressed")
	}
	want := []string{"could not connect to event endpoint", "event endpoint returned error status"}
	if fmt.Sprint(sink.names) != fmt.Sprint(want) {
		t.Fatalf("reports = %v, want %v", sink.names, want)
	}
	if sink.props[1]["status"] != 500 {
		t.Fatalf("expected status prop, got %+v", sink.props[1])
	}
}

func TestReporterIgnoresPayloadErrors(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newClockedReporter(sink, time.Hour)
	err := classifyResult(schema.EndpointEvent, schema.Result{Err: fmt.Errorf("encode: %w", schema.ErrPayloadTooLarge)})
	if r.Report(err) {
		t.Fatalf("expected payload error not to be reported")
	}
	if len(sink.names) != 0 {
		t.Fatalf("reports = %v, want none", sink.names)
	}
}

func TestClassifyResult(t *testing.T) {
	cases := []struct {
		name   string
		result schema.Result
		kind   TransportErrorKind
		ok     bool
	}{
		{"ok", schema.Result{Response: schema.Response{StatusCode: 200}}, "", true},
		{"refused", schema.Result{Err: errors.New("refused")}, TransportErrorConnect, false},
		{"server-error", schema.Result{Response: schema.Response{StatusCode: 500}}, TransportErrorStatus, false},
		{"too-large", schema.Result{Err: schema.ErrPayloadTooLarge}, TransportErrorPayload, false},
	}
	for _, tc := range cases {
		err := classifyResult(schema.EndpointEvent, tc.result)
		if tc.ok {
			if err != nil {
				t.Fatalf("%s: expected nil, got %v", tc.name, err)
			}
			continue
		}
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("%s: expected TransportError, got %v", tc.name, err)
		}
		if terr.Kind != tc.kind {
			t.Fatalf("%s: kind = %q, want %q", tc.name, terr.Kind, tc.kind)
		}
	}
}
