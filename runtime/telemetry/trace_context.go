package telemetry

import (
	"context"
	"net/http"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// traceContextKey is a private type for the trace context key to avoid collisions.
type traceContextKey struct{}

// traceparentRe validates the W3C Trace Context traceparent header format:
// version-trace_id-parent_id-trace_flags (e.g., 00-<32 hex>-<16 hex>-<2 hex>).
var traceparentRe = regexp.MustCompile(`^[0-9a-f]{2}-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

// Header names carried on the media-stream upgrade request.
const (
	headerTraceparent = "traceparent"
	headerTracestate  = "tracestate"
	headerXRay        = "X-Amzn-Trace-Id"
)

// TraceContext holds distributed trace headers extracted from an inbound
// upgrade request. Load balancers in front of the relay may set them.
type TraceContext struct {
	Traceparent string // W3C traceparent header
	Tracestate  string // W3C tracestate header
	XRayTraceID string // AWS X-Ray X-Amzn-Trace-Id header
}

// IsEmpty returns true when no trace data is present.
func (tc TraceContext) IsEmpty() bool {
	return tc.Traceparent == "" && tc.Tracestate == "" && tc.XRayTraceID == ""
}

// Header renders the trace context back into HTTP headers.
func (tc TraceContext) Header() http.Header {
	h := http.Header{}
	if tc.Traceparent != "" {
		h.Set(headerTraceparent, tc.Traceparent)
	}
	if tc.Tracestate != "" {
		h.Set(headerTracestate, tc.Tracestate)
	}
	if tc.XRayTraceID != "" {
		h.Set(headerXRay, tc.XRayTraceID)
	}
	return h
}

// ExtractTraceContext reads trace headers from an inbound HTTP request.
// Invalid traceparent values are silently discarded.
func ExtractTraceContext(r *http.Request) TraceContext {
	tc := TraceContext{
		Tracestate:  r.Header.Get(headerTracestate),
		XRayTraceID: r.Header.Get(headerXRay),
	}
	if tp := r.Header.Get(headerTraceparent); traceparentRe.MatchString(tp) {
		tc.Traceparent = tp
	}
	return tc
}

// ContextWithTrace stores a TraceContext in a Go context.
func ContextWithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceContextFromContext retrieves a TraceContext from a Go context.
// Returns an empty TraceContext if none is stored.
func TraceContextFromContext(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceContextKey{}).(TraceContext)
	return tc
}

// TraceMiddleware extracts distributed trace headers from inbound requests
// and stores them in the request context. The websocket handler uses it in
// place of otelhttp so no span is held open for the life of the call.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := ExtractTraceContext(r)
		if !tc.IsEmpty() {
			r = r.WithContext(ContextWithTrace(r.Context(), tc))
		}
		next.ServeHTTP(w, r)
	})
}

// RemoteParent returns ctx carrying the remote span context described by the
// stored trace headers, decoded with the global propagator. It returns ctx
// unchanged when no trace data is stored.
func RemoteParent(ctx context.Context) context.Context {
	tc := TraceContextFromContext(ctx)
	if tc.IsEmpty() {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(tc.Header()))
}
