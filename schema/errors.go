package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAction indicates an unknown activity action.
	ErrInvalidAction = errors.New("invalid action")
	// ErrPayloadTooLarge indicates a serialized body exceeded MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	// ErrContentTooLarge indicates buffer contents exceeded MaxContentLength.
	ErrContentTooLarge = errors.New("buffer contents too large")
	// ErrCompletionsDisabled indicates completions are switched off in config.
	ErrCompletionsDisabled = errors.New("completions disabled")
	// ErrNotificationNotFound indicates an unknown or expired notification id.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrUnknownButton indicates a button id the notification does not carry.
	ErrUnknownButton = errors.New("unknown notification button")
	// ErrNoLoginPending indicates credentials arrived without a login request.
	ErrNoLoginPending = errors.New("no login pending")
	// ErrUnsupported indicates the operation is handled outside kitelink.
	ErrUnsupported = errors.New("operation not supported")
	// ErrLoopClosed indicates the event loop is no longer running.
	ErrLoopClosed = errors.New("event loop closed")
)
