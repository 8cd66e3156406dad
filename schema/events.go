package schema

// Selection is a character range in a buffer. A cursor is an empty selection.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ActivityEvent is one observation of editor activity, and also the shape of
// the merged event flushed to the daemon once per burst.
type ActivityEvent struct {
	Source     string      `json:"source"`
	Action     Action      `json:"action"`
	Filename   string      `json:"filename"`
	Text       string      `json:"text"`
	Selections []Selection `json:"selections"`
}

// MergedEvent is the single event dispatched for a burst.
type MergedEvent = ActivityEvent

// NewActivityEvent builds an event with a single cursor selection.
func NewActivityEvent(source string, action Action, filename, text string, cursor int) ActivityEvent {
	if source == "" {
		source = DefaultSource
	}
	return ActivityEvent{
		Source:     source,
		Action:     action,
		Filename:   filename,
		Text:       text,
		Selections: []Selection{{Start: cursor, End: cursor}},
	}
}

// CursorOffset returns the start of the primary selection.
func (e ActivityEvent) CursorOffset() int {
	if len(e.Selections) == 0 {
		return 0
	}
	return e.Selections[0].Start
}

// Clone returns a copy that shares no slices with e.
func (e ActivityEvent) Clone() ActivityEvent {
	out := e
	if e.Selections != nil {
		out.Selections = append([]Selection(nil), e.Selections...)
	}
	return out
}

// ErrorReport is posted to EndpointError.
type ErrorReport struct {
	Source   string `json:"source"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// Response is the outcome of a daemon round trip that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
}

// Result is either a Response or a transport error.
type Result struct {
	Response Response
	Err      error
}

// OK reports whether the round trip succeeded with a 2xx status.
func (r Result) OK() bool {
	return r.Err == nil && r.Response.StatusCode >= 200 && r.Response.StatusCode < 300
}

// CompletionRequest asks the daemon for completions at a cursor.
type CompletionRequest struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
	Cursor   int    `json:"cursor"`
}

// Suggestion is one completion ready for an editor popup.
type Suggestion struct {
	Text        string `json:"text"`
	Type        string `json:"type"`
	RightLabel  string `json:"rightLabel"`
	Description string `json:"description"`
}
