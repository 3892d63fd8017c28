package id

import "context"

type contextKey string

const (
	logKey    contextKey = "taskstream_log_id"
	callerKey contextKey = "taskstream_caller_id"
	threadKey contextKey = "taskstream_thread_id"
)

// IDs captures the identifiers propagated through one streaming session.
type IDs struct {
	LogID    string
	CallerID string
	ThreadID string
}

// WithLogID stores the provided log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// LogIDFromContext extracts the log identifier from context.
func LogIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if logID, ok := ctx.Value(logKey).(string); ok {
		return logID
	}
	return ""
}

// WithCallerID stores the authenticated caller identifier on the context.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	if callerID == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey, callerID)
}

// CallerIDFromContext extracts the authenticated caller identifier from context.
func CallerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if callerID, ok := ctx.Value(callerKey).(string); ok {
		return callerID
	}
	return ""
}

// WithThreadID stores the conversation thread identifier on the context.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	if threadID == "" {
		return ctx
	}
	return context.WithValue(ctx, threadKey, threadID)
}

// ThreadIDFromContext extracts the conversation thread identifier from context.
func ThreadIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if threadID, ok := ctx.Value(threadKey).(string); ok {
		return threadID
	}
	return ""
}

// IDsFromContext collects all known identifiers from the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		LogID:    LogIDFromContext(ctx),
		CallerID: CallerIDFromContext(ctx),
		ThreadID: ThreadIDFromContext(ctx),
	}
}

// EnsureLogID guarantees a log identifier is present on the context.
// It returns the updated context and the resulting identifier.
func EnsureLogID(ctx context.Context, generator func() string) (context.Context, string) {
	if existing := LogIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	next := ""
	if generator != nil {
		next = generator()
	}
	if next == "" {
		return ctx, ""
	}
	return WithLogID(ctx, next), next
}
