package kiteclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"pkt.systems/kitelink/schema"
)

func TestCompletions(t *testing.T) {
	var got schema.CompletionRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"completions":[
			{"display":"path","hint":"module","documentation_text":"os.path"},
			{"display":"sep","hint":"str"}
		]}`)
	}))
	req := schema.CompletionRequest{Filename: "/a.py", Text: "import os\nos.", Cursor: 13}
	suggestions, err := client.Completions(context.Background(), req)
	if err != nil {
		t.Fatalf("completions: %v", err)
	}
	if got != req {
		t.Fatalf("request = %+v, want %+v", got, req)
	}
	want := []schema.Suggestion{
		{Text: "path", Type: "module", RightLabel: "module", Description: "os.path"},
		{Text: "sep", Type: "str", RightLabel: "str", Description: ""},
	}
	if len(suggestions) != len(want) {
		t.Fatalf("suggestions = %+v, want %+v", suggestions, want)
	}
	for i := range want {
		if suggestions[i] != want[i] {
			t.Fatalf("suggestion %d = %+v, want %+v", i, suggestions[i], want[i])
		}
	}
}

func TestCompletionsNotFoundIsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	suggestions, err := client.Completions(context.Background(), schema.CompletionRequest{Text: "x"})
	if err != nil {
		t.Fatalf("completions: %v", err)
	}
	if suggestions == nil || len(suggestions) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", suggestions)
	}
}

func TestCompletionsErrorStatusCarriesBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index not ready", http.StatusServiceUnavailable)
	}))
	_, err := client.Completions(context.Background(), schema.CompletionRequest{Text: "x"})
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !strings.Contains(err.Error(), "index not ready") {
		t.Fatalf("expected body in error, got %q", err.Error())
	}
}

func TestCompletionsRejectsLargeBuffers(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := schema.CompletionRequest{Text: strings.Repeat("x", schema.MaxContentLength+1)}
	if _, err := client.Completions(context.Background(), req); !errors.Is(err, schema.ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
	if called {
		t.Fatalf("expected no request for oversized buffer")
	}
}

func TestParseCompletionsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"completions":null}`,
		`{"completions":{"display":"x"}}`,
		`{"completions":[1,2]}`,
		`{}`,
	}
	for _, body := range cases {
		if _, err := ParseCompletions([]byte(body)); !errors.Is(err, ErrMalformedCompletions) {
			t.Fatalf("ParseCompletions(%s): expected ErrMalformedCompletions, got %v", body, err)
		}
	}
	got, err := ParseCompletions([]byte(`{"completions":[]}`))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty list: got %v err %v", got, err)
	}
}
