// Package editor turns editor buffer observations into activity events.
package editor

import (
	"fmt"
	"strings"

	"pkt.systems/kitelink/schema"
)

// Position is a zero-based row and column in a buffer. Columns count
// UTF-16 code units, not bytes.
type Position struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Buffer is the read-only view of an open text buffer.
type Buffer interface {
	Path() string
	Text() string
	Cursor() Position
}

// Snapshot is a Buffer captured at observation time.
type Snapshot struct {
	Filename string
	Contents string
	Point    Position
}

func (s Snapshot) Path() string     { return s.Filename }
func (s Snapshot) Text() string     { return s.Contents }
func (s Snapshot) Cursor() Position { return s.Point }

// Adapter builds activity events for one editor.
type Adapter struct {
	Source string
}

// NewAdapter returns an adapter tagging events with source.
func NewAdapter(source string) Adapter {
	return Adapter{Source: schema.NormalizeSource(source)}
}

// Edit builds an edit event for buf.
func (a Adapter) Edit(buf Buffer) schema.ActivityEvent {
	return a.build(buf, schema.ActionEdit)
}

// Selection builds a selection event for buf.
func (a Adapter) Selection(buf Buffer) schema.ActivityEvent {
	return a.build(buf, schema.ActionSelection)
}

// Focus builds a focus event. Pane items that are not text buffers yield no
// event.
func (a Adapter) Focus(buf Buffer) (schema.ActivityEvent, bool) {
	if buf == nil {
		return schema.ActivityEvent{}, false
	}
	return a.build(buf, schema.ActionFocus), true
}

// Activate builds the one-time startup event.
func (a Adapter) Activate() schema.ActivityEvent {
	return schema.NewActivityEvent(a.source(), schema.ActionActivate, "", "", 0)
}

func (a Adapter) build(buf Buffer, action schema.Action) schema.ActivityEvent {
	text := buf.Text()
	cursor := OffsetForPosition(text, buf.Cursor())
	return a.event(action, buf.Path(), text, cursor)
}

func (a Adapter) event(action schema.Action, filename, text string, cursor int) schema.ActivityEvent {
	if Oversized(text) {
		action = schema.ActionSkip
		text = schema.FileTooLargeText
	}
	return schema.NewActivityEvent(a.source(), action, filename, text, cursor)
}

func (a Adapter) source() string {
	return schema.NormalizeSource(a.Source)
}

// Oversized reports whether text has more than MaxContentLength characters.
func Oversized(text string) bool {
	return schema.ExceedsContentLength(text)
}

// OffsetForPosition converts pos into a character index into text. Rows past
// the end clamp to the end of the text and columns clamp to the line length.
func OffsetForPosition(text string, pos Position) int {
	if pos.Row < 0 {
		pos.Row = 0
	}
	if pos.Column < 0 {
		pos.Column = 0
	}
	offset := 0
	rest := text
	for row := 0; row < pos.Row; row++ {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			return offset + schema.TextLength(rest)
		}
		offset += schema.TextLength(rest[:idx]) + 1
		rest = rest[idx+1:]
	}
	line := rest
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		line = rest[:idx]
	}
	if n := schema.TextLength(line); pos.Column > n {
		pos.Column = n
	}
	return offset + pos.Column
}

// Observation is one editor callback as reported over the local API.
// Either Cursor or Position locates the cursor; Position wins when both are
// set. Item names the kind of pane item for focus observations and is empty
// or "text" for text buffers.
type Observation struct {
	Action   string    `json:"action"`
	Filename string    `json:"filename"`
	Text     string    `json:"text"`
	Cursor   *int      `json:"cursor,omitempty"`
	Position *Position `json:"position,omitempty"`
	Item     string    `json:"item,omitempty"`
}

// FromObservation converts obs into an event. It returns false for focus on
// pane items that are not text buffers.
func (a Adapter) FromObservation(obs Observation) (schema.ActivityEvent, bool, error) {
	action, err := schema.ParseAction(obs.Action)
	if err != nil {
		return schema.ActivityEvent{}, false, fmt.Errorf("%w: %q", err, obs.Action)
	}
	if action == schema.ActionActivate {
		return a.Activate(), true, nil
	}
	if action == schema.ActionFocus {
		if item := strings.TrimSpace(obs.Item); item != "" && item != "text" {
			return schema.ActivityEvent{}, false, nil
		}
	}
	var cursor int
	switch {
	case obs.Position != nil:
		cursor = OffsetForPosition(obs.Text, *obs.Position)
	case obs.Cursor != nil:
		cursor = *obs.Cursor
		if cursor < 0 {
			return schema.ActivityEvent{}, false, fmt.Errorf("%w: negative cursor", schema.ErrInvalidRequest)
		}
	}
	return a.event(action, obs.Filename, obs.Text, cursor), true, nil
}
