package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// added to every record logged with the context.
const (
	// ContextKeySessionID identifies the call session (telephony stream SID).
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyCallSID identifies the telephony call.
	ContextKeyCallSID contextKey = "call_sid"

	// ContextKeyTurnID identifies the current conversation turn.
	ContextKeyTurnID contextKey = "turn_id"

	// ContextKeyProvider identifies the external service (e.g. "deepgram", "openai", "kyutai").
	ContextKeyProvider contextKey = "provider"

	// ContextKeyStage identifies the reply stage (e.g. "generate", "synthesize", "playback").
	ContextKeyStage contextKey = "stage"

	// ContextKeyRequestID identifies the HTTP request that opened the session.
	ContextKeyRequestID contextKey = "request_id"
)

// allContextKeys lists all context keys extracted by ContextHandler.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyCallSID,
	ContextKeyTurnID,
	ContextKeyProvider,
	ContextKeyStage,
	ContextKeyRequestID,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithCallSID returns a new context with the call SID set.
func WithCallSID(ctx context.Context, callSID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallSID, callSID)
}

// WithTurnID returns a new context with the turn ID set.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithProvider returns a new context with the provider name set.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ContextKeyProvider, provider)
}

// WithStage returns a new context with the reply stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	SessionID string
	CallSID   string
	TurnID    string
	Provider  string
	Stage     string
	RequestID string
}

// WithLoggingContext returns a new context with every non-empty field set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.CallSID != "" {
		ctx = WithCallSID(ctx, fields.CallSID)
	}
	if fields.TurnID != "" {
		ctx = WithTurnID(ctx, fields.TurnID)
	}
	if fields.Provider != "" {
		ctx = WithProvider(ctx, fields.Provider)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	if fields.RequestID != "" {
		ctx = WithRequestID(ctx, fields.RequestID)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	get := func(key contextKey) string {
		s, _ := ctx.Value(key).(string)
		return s
	}
	return LoggingFields{
		SessionID: get(ContextKeySessionID),
		CallSID:   get(ContextKeyCallSID),
		TurnID:    get(ContextKeyTurnID),
		Provider:  get(ContextKeyProvider),
		Stage:     get(ContextKeyStage),
		RequestID: get(ContextKeyRequestID),
	}
}
