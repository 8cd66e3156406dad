package logx

import (
	"context"

	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	editorKey contextKey = iota
	fileKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithEditor annotates the logger with the editor source if present.
func WithEditor(ctx context.Context, source string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if source != "" {
		if current, ok := ctx.Value(editorKey).(string); ok && current == source {
			return log
		}
		log = log.With("editor", source)
	}
	return log
}

// WithEditorFile annotates the logger with editor and file.
func WithEditorFile(ctx context.Context, source, file string) pslog.Logger {
	log := WithEditor(ctx, source)
	if file != "" {
		if current, ok := ctx.Value(fileKey).(string); ok && current == file {
			return log
		}
		log = log.With("file", file)
	}
	return log
}

// WithEvent annotates the logger with the action and file of an event.
func WithEvent(log pslog.Logger, event schema.ActivityEvent) pslog.Logger {
	if event.Action != "" {
		log = log.With("action", event.Action)
	}
	if event.Filename != "" {
		log = log.With("file", event.Filename)
	}
	return log
}

// WithState annotates the logger with a readiness state when available.
func WithState(log pslog.Logger, state schema.State) pslog.Logger {
	if state != "" {
		log = log.With("state", state)
	}
	return log
}

// WithNotification annotates the logger with notification metadata.
func WithNotification(log pslog.Logger, n schema.Notification) pslog.Logger {
	if n.ID != "" {
		log = log.With("notification", n.ID)
	}
	if n.Title != "" {
		log = log.With("title", n.Title)
	}
	return log
}

// ContextWithEditor stores the editor marker on the context for log de-duplication.
func ContextWithEditor(ctx context.Context, source string) context.Context {
	if ctx == nil || source == "" {
		return ctx
	}
	return context.WithValue(ctx, editorKey, source)
}

// ContextWithFile stores the file marker on the context for log de-duplication.
func ContextWithFile(ctx context.Context, file string) context.Context {
	if ctx == nil || file == "" {
		return ctx
	}
	return context.WithValue(ctx, fileKey, file)
}

// ContextWithEditorLogger attaches the logger and editor marker to the context.
func ContextWithEditorLogger(ctx context.Context, log pslog.Logger, source string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithEditor(ctx, source)
}

// CopyContextFields copies editor/file markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if source, ok := src.Value(editorKey).(string); ok && source != "" {
		dst = ContextWithEditor(dst, source)
	}
	if file, ok := src.Value(fileKey).(string); ok && file != "" {
		dst = ContextWithFile(dst, file)
	}
	return dst
}
