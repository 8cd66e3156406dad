package kiteclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"pkt.systems/kitelink/schema"
)

// ErrMalformedCompletions indicates a completions body that could not be
// interpreted.
var ErrMalformedCompletions = errors.New("malformed completions response")

// Completions asks the daemon for suggestions at req.Cursor. A 404 means the
// daemon has nothing for this position and yields an empty list.
func (c *Client) Completions(ctx context.Context, req schema.CompletionRequest) ([]schema.Suggestion, error) {
	if schema.ExceedsContentLength(req.Text) {
		return nil, schema.ErrContentTooLarge
	}
	resp, err := c.Post(ctx, schema.EndpointCompletions, req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return []schema.Suggestion{}, nil
	default:
		return nil, &StatusError{Endpoint: string(schema.EndpointCompletions), StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return ParseCompletions(resp.Body)
}

// ParseCompletions converts a daemon completions body into suggestions.
func ParseCompletions(body []byte) ([]schema.Suggestion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedCompletions)
	}
	list := gjson.GetBytes(body, "completions")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: completions is not a list", ErrMalformedCompletions)
	}
	suggestions := make([]schema.Suggestion, 0, len(list.Array()))
	var bad error
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			bad = fmt.Errorf("%w: completion entry is %s", ErrMalformedCompletions, item.Type)
			return false
		}
		hint := item.Get("hint").String()
		suggestions = append(suggestions, schema.Suggestion{
			Text:        item.Get("display").String(),
			Type:        hint,
			RightLabel:  hint,
			Description: item.Get("documentation_text").String(),
		})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return suggestions, nil
}
