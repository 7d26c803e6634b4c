package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/VoiceRelay/runtime/events"
)

// newTestListener returns a listener, in-memory exporter, and TracerProvider for tests.
func newTestListener(t *testing.T) (*OTelEventListener, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	listener := NewOTelEventListener(Tracer(tp))
	return listener, exp, tp
}

// flushAndGetSpans forces span export and returns spans.
// InMemoryExporter.Shutdown resets the buffer, so spans are read first.
func flushAndGetSpans(t *testing.T, tp *sdktrace.TracerProvider, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return spans
}

// findSpan finds a span by name in the stubs or fails.
func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

// hasAttr checks if a span has an attribute with the given key and string value.
func hasAttr(span tracetest.SpanStub, key, want string) bool {
	for _, a := range span.Attributes {
		if string(a.Key) == key && a.Value.Emit() == want {
			return true
		}
	}
	return false
}

func hasEvent(span tracetest.SpanStub, name string) bool {
	for _, e := range span.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}

func TestOTelEventListener_SessionLifecycle(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.StartSession(context.Background(), "sess-1")
	listener.EndSession("sess-1")
	listener.EndSession("sess-1") // unknown session is a no-op

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name != SpanCall {
		t.Errorf("expected span name %q, got %q", SpanCall, s.Name)
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("expected server span, got %v", s.SpanKind)
	}
	if !hasAttr(s, "session.id", "sess-1") {
		t.Error("expected session.id attribute")
	}
}

func TestOTelEventListener_CallWithTurns(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.StartSession(context.Background(), "sess-1")
	for _, evt := range []*events.Event{
		{Type: events.EventCallStarted, SessionID: "sess-1", CallSID: "CA1",
			Data: events.CallStartedData{StreamSID: "MZ1", Encoding: "audio/x-mulaw", SampleRate: 8000}},
		{Type: events.EventUtteranceFinal, SessionID: "sess-1", Data: events.UtteranceData{Text: "bonjour"}},
		{Type: events.EventTurnStarted, SessionID: "sess-1", TurnID: "t1", Data: events.TurnStartedData{Utterance: "bonjour"}},
		{Type: events.EventTurnStateChanged, SessionID: "sess-1", TurnID: "t1",
			Data: events.TurnStateChangedData{From: "idle", To: "generating"}},
		{Type: events.EventGenerationCompleted, SessionID: "sess-1", TurnID: "t1",
			Data: events.GenerationCompletedData{Provider: "openai", Duration: 300 * time.Millisecond}},
		{Type: events.EventFirstAudio, SessionID: "sess-1", TurnID: "t1",
			Data: events.FirstAudioData{SinceTurnStart: 700 * time.Millisecond}},
		{Type: events.EventTurnCompleted, SessionID: "sess-1", TurnID: "t1",
			Data: events.TurnCompletedData{Duration: 2 * time.Second, Frames: 50}},
		{Type: events.EventUtteranceDropped, SessionID: "sess-1", Data: events.UtteranceData{Text: "hé", Reason: "busy"}},
		{Type: events.EventTurnStarted, SessionID: "sess-1", TurnID: "t2", Data: events.TurnStartedData{Utterance: "encore"}},
		{Type: events.EventTurnFailed, SessionID: "sess-1", TurnID: "t2",
			Data: events.TurnFailedData{Stage: events.StageSynthesis, Error: errors.New("no audio"), Timeout: true}},
		{Type: events.EventCallEnded, SessionID: "sess-1",
			Data: events.CallEndedData{Outcome: events.OutcomeHangup, Duration: time.Minute, Turns: 2}},
	} {
		listener.OnEvent(evt)
	}

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	call := findSpan(t, spans, SpanCall)
	if call.Status.Code != codes.Ok {
		t.Errorf("expected Ok call status, got %v", call.Status.Code)
	}
	if !hasAttr(call, "call.sid", "CA1") || !hasAttr(call, "stream.sid", "MZ1") {
		t.Error("expected call identifiers on root span")
	}
	if !hasAttr(call, "call.outcome", events.OutcomeHangup) {
		t.Error("expected call.outcome attribute")
	}
	if !hasEvent(call, string(events.EventUtteranceFinal)) || !hasEvent(call, string(events.EventUtteranceDropped)) {
		t.Error("expected utterance events on root span")
	}

	var completed, failed tracetest.SpanStub
	for _, s := range spans {
		if s.Name != SpanTurn {
			continue
		}
		if hasAttr(s, "turn.id", "t1") {
			completed = s
		} else {
			failed = s
		}
		if s.Parent.SpanID() != call.SpanContext.SpanID() {
			t.Error("turn span should be child of call span")
		}
	}

	if completed.Status.Code != codes.Ok {
		t.Errorf("expected Ok turn status, got %v", completed.Status.Code)
	}
	if !hasAttr(completed, "gen_ai.system", "openai") || !hasAttr(completed, "turn.frames", "50") {
		t.Error("expected generation and frame attributes on completed turn")
	}
	if !hasEvent(completed, "turn.state") || !hasEvent(completed, "synthesis.first_audio") {
		t.Error("expected state and first audio events on completed turn")
	}

	if failed.Status.Code != codes.Error || failed.Status.Description != "no audio" {
		t.Errorf("unexpected failed turn status: %+v", failed.Status)
	}
	if !hasAttr(failed, "turn.stage", events.StageSynthesis) || !hasAttr(failed, "turn.timeout", "true") {
		t.Error("expected stage and timeout attributes on failed turn")
	}
}

func TestOTelEventListener_CallEndedWithError(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.StartSession(context.Background(), "sess-1")
	listener.OnEvent(&events.Event{
		Type: events.EventCallEnded, SessionID: "sess-1",
		Data: events.CallEndedData{Outcome: events.OutcomeError, Error: errors.New("recognizer lost")},
	})

	spans := flushAndGetSpans(t, tp, exp)
	call := findSpan(t, spans, SpanCall)
	if call.Status.Code != codes.Error || call.Status.Description != "recognizer lost" {
		t.Errorf("unexpected call status: %+v", call.Status)
	}
}

func TestOTelEventListener_ImplicitSession(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	// No StartSession: the first event opens the root span.
	listener.OnEvent(&events.Event{Type: events.EventCallStarted, SessionID: "sess-2", CallSID: "CA2"})
	listener.OnEvent(&events.Event{
		Type: events.EventMalformedMessage, SessionID: "sess-2",
		Data: events.MalformedMessageData{Stream: "recognizer", Error: errors.New("bad json")},
	})
	listener.OnEvent(&events.Event{Type: events.EventCallEnded, SessionID: "sess-2", Data: events.CallEndedData{}})

	spans := flushAndGetSpans(t, tp, exp)
	call := findSpan(t, spans, SpanCall)
	if !hasAttr(call, "session.id", "sess-2") || !hasAttr(call, "call.sid", "CA2") {
		t.Error("expected implicit root span with identifiers")
	}
	if !hasEvent(call, string(events.EventMalformedMessage)) {
		t.Error("expected malformed message event")
	}
}

func TestOTelEventListener_RemoteParent(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	parent := trace.ContextWithRemoteSpanContext(context.Background(), remote)

	listener.StartSession(parent, "sess-1")
	listener.EndSession("sess-1")

	spans := flushAndGetSpans(t, tp, exp)
	call := findSpan(t, spans, SpanCall)
	if call.SpanContext.TraceID() != remote.TraceID() {
		t.Error("expected call span to join the remote trace")
	}
	if call.Parent.SpanID() != remote.SpanID() {
		t.Error("expected call span parented under the remote span")
	}
}

func TestOTelEventListener_UnknownTurnIgnored(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(&events.Event{Type: events.EventTurnCompleted, TurnID: "nope"})
	listener.OnEvent(&events.Event{Type: events.EventTurnFailed, TurnID: "nope"})
	listener.OnEvent(&events.Event{Type: events.EventFirstAudio, TurnID: "nope", Data: events.FirstAudioData{}})
	listener.OnEvent(&events.Event{Type: events.EventCallEnded, SessionID: "nope"})
	listener.OnEvent(&events.Event{Type: events.EventCallIdle, SessionID: "nope"})

	if spans := flushAndGetSpans(t, tp, exp); len(spans) != 0 {
		t.Fatalf("expected no spans, got %d", len(spans))
	}
}

func TestOTelEventListener_OnBus(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	bus := events.NewEventBus()
	bus.SubscribeAll(listener.OnEvent)
	emitter := events.NewEmitter(bus, "sess-bus")

	listener.StartSession(context.Background(), "sess-bus")
	emitter.TurnStarted("t1", "salut")
	emitter.TurnCompleted("t1", events.TurnCompletedData{Frames: 10})
	emitter.CallEnded(events.OutcomeCompleted, time.Second, 1, nil)
	bus.Close()

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	findSpan(t, spans, SpanTurn)
}

func TestOTelEventListener_CallerSpeech(t *testing.T) {
	listener, exp, tp := newTestListener(t)
	listener.StartSession(context.Background(), "sess-3")

	listener.OnEvent(&events.Event{
		Type: events.EventCallerSpeechStarted, SessionID: "sess-3",
		Data: events.CallerSpeechData{Offset: 20 * time.Millisecond, OverReply: true},
	})
	listener.OnEvent(&events.Event{
		Type: events.EventCallerSpeechStopped, SessionID: "sess-3",
		Data: events.CallerSpeechData{Offset: 900 * time.Millisecond, Duration: 880 * time.Millisecond},
	})
	listener.OnEvent(&events.Event{Type: events.EventCallEnded, SessionID: "sess-3", Data: events.CallEndedData{}})

	call := findSpan(t, flushAndGetSpans(t, tp, exp), SpanCall)
	if !hasEvent(call, string(events.EventCallerSpeechStarted)) || !hasEvent(call, string(events.EventCallerSpeechStopped)) {
		t.Fatalf("expected caller speech events, got %+v", call.Events)
	}
	for _, e := range call.Events {
		if e.Name != string(events.EventCallerSpeechStopped) {
			continue
		}
		found := false
		for _, a := range e.Attributes {
			if a.Key == "caller.speech_ms" && a.Value.AsInt64() == 880 {
				found = true
			}
		}
		if !found {
			t.Errorf("speech duration missing: %+v", e.Attributes)
		}
	}
}

func TestOTelEventListener_CancelledTurnIsNotAnError(t *testing.T) {
	listener, exp, tp := newTestListener(t)
	listener.StartSession(context.Background(), "sess-4")

	listener.OnEvent(&events.Event{Type: events.EventTurnStarted, SessionID: "sess-4", TurnID: "t1",
		Data: events.TurnStartedData{Utterance: "bonjour"}})
	listener.OnEvent(&events.Event{Type: events.EventTurnFailed, SessionID: "sess-4", TurnID: "t1",
		Data: events.TurnFailedData{Stage: events.StagePlayback, Error: context.Canceled, Cancelled: true, Frames: 7}})
	listener.OnEvent(&events.Event{Type: events.EventCallEnded, SessionID: "sess-4", Data: events.CallEndedData{}})

	turn := findSpan(t, flushAndGetSpans(t, tp, exp), SpanTurn)
	if turn.Status.Code != codes.Unset {
		t.Errorf("expected unset status for cancelled turn, got %+v", turn.Status)
	}
	if hasEvent(turn, "exception") {
		t.Error("cancelled turn should not record an error")
	}
	if !hasAttr(turn, "turn.cancelled", "true") || !hasAttr(turn, "turn.frames", "7") {
		t.Errorf("expected cancellation attributes, got %+v", turn.Attributes)
	}
}
